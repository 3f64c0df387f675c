package compression

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

var (
	encoderOnce sync.Once
	encoder     *ZStdEncoder

	decoderOnce sync.Once
	decoder     *ZStdDecoder
)

// ZStdEncoder is shared process wide; zstd.Encoder.EncodeAll is safe for concurrent use.
type ZStdEncoder struct {
	encoder *zstd.Encoder
}

func NewZStdEncoder() *ZStdEncoder {
	encoderOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			panic(err)
		}
		encoder = &ZStdEncoder{encoder: enc}
	})
	return encoder
}

func (e *ZStdEncoder) Encode(data []byte) []byte {
	cdata := e.encoder.EncodeAll(data, make([]byte, 0, len(data)/4))
	log.Debug().Int("original", len(data)).Int("compressed", len(cdata)).Msg("zstd encode")
	return cdata
}

func (e *ZStdEncoder) EncoderType() Type {
	return TypeZSTD
}

type ZStdDecoder struct {
	decoder *zstd.Decoder
}

func NewZStdDecoder() *ZStdDecoder {
	decoderOnce.Do(func() {
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderLowmem(false))
		if err != nil {
			panic(err)
		}
		decoder = &ZStdDecoder{decoder: dec}
	})
	return decoder
}

func (d *ZStdDecoder) Decode(cdata []byte) ([]byte, error) {
	return d.decoder.DecodeAll(cdata, nil)
}

func (d *ZStdDecoder) DecoderType() Type {
	return TypeZSTD
}
