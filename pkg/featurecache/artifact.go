package featurecache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"github.com/xcmyz/bert-race/pkg/compression"
	"github.com/xcmyz/bert-race/pkg/features"
)

const (
	magic         = "RACEFEAT"
	formatVersion = byte(1)
	headerSize    = len(magic) + 1 + 1 + 8
)

var (
	// ErrBadHeader means the file is not a feature artifact of this format version.
	ErrBadHeader = errors.New("not a feature artifact of the current format")
)

// Header is the fixed-size prefix of an artifact.
type Header struct {
	Version     byte
	Compression compression.Type
	Fingerprint Fingerprint
}

func (h Header) marshal() []byte {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, magic...)
	buf = append(buf, h.Version, byte(h.Compression))
	return binary.LittleEndian.AppendUint64(buf, uint64(h.Fingerprint))
}

func parseHeader(raw []byte) (Header, error) {
	if len(raw) < headerSize || !bytes.Equal(raw[:len(magic)], []byte(magic)) {
		return Header{}, ErrBadHeader
	}
	h := Header{
		Version:     raw[len(magic)],
		Compression: compression.Type(raw[len(magic)+1]),
		Fingerprint: Fingerprint(binary.LittleEndian.Uint64(raw[len(magic)+2 : headerSize])),
	}
	if h.Version != formatVersion {
		return Header{}, fmt.Errorf("%w: version %d", ErrBadHeader, h.Version)
	}
	return h, nil
}

// Save writes examples to path. The file is replaced atomically; concurrent writers race and the
// last rename wins.
func Save(path string, fingerprint Fingerprint, ctype compression.Type, examples []features.Example) error {
	enc, err := compression.GetEncoder(ctype)
	if err != nil {
		return err
	}
	payload, err := sonic.ConfigStd.Marshal(examples)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	header := Header{Version: formatVersion, Compression: ctype, Fingerprint: fingerprint}
	data := append(header.marshal(), enc.Encode(payload)...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// Load reads an artifact written by Save.
func Load(path string) (Header, []features.Example, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Header{}, nil, err
	}
	header, err := parseHeader(raw)
	if err != nil {
		return Header{}, nil, err
	}
	dec, err := compression.GetDecoder(header.Compression)
	if err != nil {
		return header, nil, err
	}
	payload, err := dec.Decode(raw[headerSize:])
	if err != nil {
		return header, nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	var examples []features.Example
	if err := sonic.ConfigStd.Unmarshal(payload, &examples); err != nil {
		return header, nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return header, examples, nil
}
