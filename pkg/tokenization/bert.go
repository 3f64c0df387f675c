package tokenization

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxInputCharsPerWord = 100

// FullTokenizer is the BERT tokenizer: basic whitespace/punctuation splitting followed by
// greedy longest-match WordPiece.
type FullTokenizer struct {
	vocab       *Vocab
	doLowerCase bool
}

// NewFullTokenizer loads vocabFile and returns a tokenizer over it.
func NewFullTokenizer(vocabFile string, doLowerCase bool) (*FullTokenizer, error) {
	vocab, err := LoadVocab(vocabFile)
	if err != nil {
		return nil, err
	}
	return NewFullTokenizerFromVocab(vocab, doLowerCase), nil
}

// NewFullTokenizerFromVocab wraps an already loaded vocabulary.
func NewFullTokenizerFromVocab(vocab *Vocab, doLowerCase bool) *FullTokenizer {
	return &FullTokenizer{vocab: vocab, doLowerCase: doLowerCase}
}

// Vocab returns the underlying vocabulary.
func (t *FullTokenizer) Vocab() *Vocab {
	return t.vocab
}

// Tokenize runs basic tokenization followed by greedy longest-match WordPiece.
func (t *FullTokenizer) Tokenize(text string) []string {
	var out []string
	for _, token := range t.basicTokenize(text) {
		out = append(out, t.wordpiece(token)...)
	}
	return out
}

// ConvertTokensToIDs maps tokens to ids. Tokens missing from the vocabulary map to [UNK];
// without an [UNK] entry they are an error.
func (t *FullTokenizer) ConvertTokensToIDs(tokens []string) ([]int, error) {
	ids := make([]int, len(tokens))
	for i, token := range tokens {
		id, ok := t.vocab.ID(token)
		if !ok {
			id, ok = t.vocab.ID(UnknownToken)
			if !ok {
				return nil, fmt.Errorf("token %q not in vocab and no %s entry", token, UnknownToken)
			}
		}
		ids[i] = id
	}
	return ids, nil
}

// Identity names the vocabulary and casing, so cached features are rebuilt when either changes.
func (t *FullTokenizer) Identity() string {
	return fmt.Sprintf("wordpiece/%016x/lower=%t", t.vocab.Digest(), t.doLowerCase)
}

func (t *FullTokenizer) basicTokenize(text string) []string {
	text = cleanText(text)
	text = padChineseChars(text)

	var out []string
	for _, token := range strings.Fields(text) {
		if t.doLowerCase {
			token = stripAccents(strings.ToLower(token))
		}
		out = append(out, splitOnPunctuation(token)...)
	}
	return out
}

func (t *FullTokenizer) wordpiece(token string) []string {
	chars := []rune(token)
	if len(chars) > maxInputCharsPerWord {
		return []string{UnknownToken}
	}

	var pieces []string
	start := 0
	for start < len(chars) {
		end := len(chars)
		found := ""
		for start < end {
			piece := string(chars[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if t.vocab.Contains(piece) {
				found = piece
				break
			}
			end--
		}
		if found == "" {
			return []string{UnknownToken}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 || r == unicode.ReplacementChar || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func padChineseChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isChineseChar(r) {
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripAccents(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitOnPunctuation(text string) []string {
	var out []string
	var current []rune
	for _, r := range text {
		if isPunctuation(r) {
			if len(current) > 0 {
				out = append(out, string(current))
				current = current[:0]
			}
			out = append(out, string(r))
			continue
		}
		current = append(current, r)
	}
	if len(current) > 0 {
		out = append(out, string(current))
	}
	return out
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf)
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// isChineseChar covers the CJK Unified Ideographs blocks. Hiragana, Katakana and Hangul are
// not included.
func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
