package tokenization

// Special tokens of the BERT vocabulary.
const (
	ClassToken     = "[CLS]"
	SeparatorToken = "[SEP]"
	UnknownToken   = "[UNK]"
	PaddingToken   = "[PAD]"
)

// Tokenizer turns text into sub-word tokens and tokens into vocabulary ids.
type Tokenizer interface {
	Tokenize(text string) []string
	ConvertTokensToIDs(tokens []string) ([]int, error)
	// Identity describes the vocabulary and normalisation; two tokenizers with the same
	// identity produce the same ids for the same text.
	Identity() string
}
