package compression

import "fmt"

type Type uint8

const (
	TypeNone Type = iota
	TypeZSTD
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseType maps a config string onto a Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "none", "":
		return TypeNone, nil
	case "zstd":
		return TypeZSTD, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %q", name)
	}
}

type Encoder interface {
	Encode(data []byte) []byte
	EncoderType() Type
}

type Decoder interface {
	Decode(cdata []byte) ([]byte, error)
	DecoderType() Type
}

type NoOpEncoder struct{}

func (e *NoOpEncoder) Encode(data []byte) []byte {
	return data
}

func (e *NoOpEncoder) EncoderType() Type {
	return TypeNone
}

type NoOpDecoder struct{}

func (d *NoOpDecoder) Decode(cdata []byte) ([]byte, error) {
	return cdata, nil
}

func (d *NoOpDecoder) DecoderType() Type {
	return TypeNone
}

func GetEncoder(compressionType Type) (Encoder, error) {
	switch compressionType {
	case TypeZSTD:
		return NewZStdEncoder(), nil
	case TypeNone:
		return &NoOpEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}
}

func GetDecoder(compressionType Type) (Decoder, error) {
	switch compressionType {
	case TypeZSTD:
		return NewZStdDecoder(), nil
	case TypeNone:
		return &NoOpDecoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compressionType)
	}
}
