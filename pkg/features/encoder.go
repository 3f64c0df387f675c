package features

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"

	"github.com/xcmyz/bert-race/internal/errors"
	"github.com/xcmyz/bert-race/pkg/race"
	"github.com/xcmyz/bert-race/pkg/tokenization"
)

// specialTokens is the number of [CLS]/[SEP] markers in a packed sequence.
const specialTokens = 3

const progressEvery = 10000

// Encoder packs RACE examples into fixed-length model inputs.
type Encoder struct {
	tokenizer    tokenization.Tokenizer
	maxSeqLength int
	// memo holds article tokenisations; every question of a document repeats the same article.
	memo *ristretto.Cache
}

// NewEncoder returns an encoder producing sequences of exactly maxSeqLength positions.
func NewEncoder(tokenizer tokenization.Tokenizer, maxSeqLength int) (*Encoder, error) {
	if maxSeqLength <= specialTokens {
		return nil, errors.NewConfigError("max_seq_length must be greater than %d, got %d", specialTokens, maxSeqLength)
	}
	memo, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100000,
		MaxCost:     10000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create article cache: %w", err)
	}
	return &Encoder{tokenizer: tokenizer, maxSeqLength: maxSeqLength, memo: memo}, nil
}

// Close releases the article cache.
func (e *Encoder) Close() {
	e.memo.Close()
}

// Convert encodes every example, in input order.
func (e *Encoder) Convert(examples []race.Example) ([]Example, error) {
	out := make([]Example, 0, len(examples))
	for i, ex := range examples {
		encoded, err := e.EncodeExample(ex)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", ex.ID, err)
		}
		out = append(out, encoded)
		if (i+1)%progressEvery == 0 {
			log.Info().Msgf("Preprocessing: %d/%d", i+1, len(examples))
		}
	}
	log.Info().Int("examples", len(out)).Int("max_seq_length", e.maxSeqLength).Msg("Encoded features")
	return out, nil
}

// EncodeExample builds the four choices of one example.
func (e *Encoder) EncodeExample(ex race.Example) (Example, error) {
	contextTokens := e.tokenizeArticle(ex.Article)
	questionTokens := e.tokenizer.Tokenize(ex.Question)

	encoded := Example{ExampleID: ex.ID, Label: ex.Label}
	for i, option := range ex.Options {
		choice, err := e.encodeChoice(contextTokens, questionTokens, option)
		if err != nil {
			return Example{}, err
		}
		encoded.Choices[i] = choice
	}
	return encoded, nil
}

func (e *Encoder) encodeChoice(contextTokens, questionTokens []string, option string) (Choice, error) {
	maxLen := e.maxSeqLength
	budget := maxLen - specialTokens

	optionTokens := e.tokenizer.Tokenize(option)
	optionLen := len(optionTokens)
	questionLen := len(questionTokens)

	endingTokens := make([]string, 0, len(questionTokens)+len(optionTokens))
	endingTokens = append(endingTokens, questionTokens...)
	endingTokens = append(endingTokens, optionTokens...)

	contextChoice := slices.Clone(contextTokens)
	contextChoice, endingTokens = TruncateSeqPair(contextChoice, endingTokens, budget)

	docLen := len(contextChoice)
	if len(endingTokens)+len(contextChoice) >= budget {
		questionLen = len(endingTokens) - optionLen
	}

	tokens := make([]string, 0, len(contextChoice)+len(endingTokens)+specialTokens)
	tokens = append(tokens, tokenization.ClassToken)
	tokens = append(tokens, contextChoice...)
	tokens = append(tokens, tokenization.SeparatorToken)
	tokens = append(tokens, endingTokens...)
	tokens = append(tokens, tokenization.SeparatorToken)

	ids, err := e.tokenizer.ConvertTokensToIDs(tokens)
	if err != nil {
		return Choice{}, err
	}

	inputIDs := make([]int, maxLen)
	inputMask := make([]int, maxLen)
	segmentIDs := make([]int, maxLen)
	if len(ids) > maxLen {
		errors.Invariantf("packed sequence has %d tokens, max_seq_length is %d", len(ids), maxLen)
	}
	copy(inputIDs, ids)
	for i := range ids {
		inputMask[i] = 1
	}
	for i := len(contextChoice) + 2; i < len(ids); i++ {
		segmentIDs[i] = 1
	}

	if len(inputIDs) != maxLen || len(inputMask) != maxLen || len(segmentIDs) != maxLen {
		errors.Invariantf("encoded lengths %d/%d/%d, want %d", len(inputIDs), len(inputMask), len(segmentIDs), maxLen)
	}

	return Choice{
		Tokens:      tokens,
		InputIDs:    inputIDs,
		InputMask:   inputMask,
		SegmentIDs:  segmentIDs,
		DocLen:      docLen,
		QuestionLen: questionLen,
		OptionLen:   optionLen,
	}, nil
}

func (e *Encoder) tokenizeArticle(article string) []string {
	key := xxhash.Sum64String(article)
	if cached, ok := e.memo.Get(key); ok {
		if entry := cached.(articleEntry); entry.text == article {
			return entry.tokens
		}
	}
	tokens := e.tokenizer.Tokenize(article)
	e.memo.Set(key, articleEntry{text: article, tokens: tokens}, 1)
	return tokens
}

type articleEntry struct {
	text   string
	tokens []string
}
