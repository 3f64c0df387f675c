package tokenization

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Vocab maps tokens to ids in file order.
type Vocab struct {
	ids    map[string]int
	tokens []string
	digest uint64
}

// LoadVocab reads a vocabulary file. Only the first tab separated field of each line is used,
// so sentencepiece style "token\tscore" files load as well.
func LoadVocab(filename string) (*Vocab, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab %s: %w", filename, err)
	}
	defer file.Close()
	return ReadVocab(file)
}

// ReadVocab reads a vocabulary from r.
func ReadVocab(r io.Reader) (*Vocab, error) {
	v := &Vocab{ids: make(map[string]int)}
	h := xxhash.New()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r")
		if idx := strings.IndexByte(token, '\t'); idx >= 0 {
			token = token[:idx]
		}
		token = strings.TrimSpace(token)
		// Every line consumes an id, blank ones included; a repeated token keeps its last id.
		v.ids[token] = len(v.tokens)
		v.tokens = append(v.tokens, token)
		_, _ = h.WriteString(token)
		_, _ = h.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	if len(v.tokens) == 0 {
		return nil, fmt.Errorf("empty vocab")
	}
	v.digest = h.Sum64()
	return v, nil
}

// NewVocab builds a vocabulary from an in-memory token list.
func NewVocab(tokens []string) (*Vocab, error) {
	return ReadVocab(strings.NewReader(strings.Join(tokens, "\n")))
}

// ID returns the id of token.
func (v *Vocab) ID(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// Token returns the token with the given id.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// Contains reports whether token is in the vocabulary.
func (v *Vocab) Contains(token string) bool {
	_, ok := v.ids[token]
	return ok
}

// Size is the number of ids, one per vocabulary line.
func (v *Vocab) Size() int {
	return len(v.tokens)
}

// Digest is a content hash of the vocabulary.
func (v *Vocab) Digest() uint64 {
	return v.digest
}
