package features

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcmyz/bert-race/internal/errors"
	"github.com/xcmyz/bert-race/pkg/race"
	"github.com/xcmyz/bert-race/pkg/tokenization"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	os.Exit(m.Run())
}

// spaceTokenizer splits on whitespace and hands out ids on first sight.
type spaceTokenizer struct {
	ids map[string]int
}

func newSpaceTokenizer() *spaceTokenizer {
	return &spaceTokenizer{ids: map[string]int{
		tokenization.PaddingToken:   0,
		tokenization.ClassToken:     1,
		tokenization.SeparatorToken: 2,
	}}
}

func (s *spaceTokenizer) Tokenize(text string) []string {
	return strings.Fields(text)
}

func (s *spaceTokenizer) ConvertTokensToIDs(tokens []string) ([]int, error) {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		id, ok := s.ids[tok]
		if !ok {
			id = len(s.ids)
			s.ids[tok] = id
		}
		ids[i] = id
	}
	return ids, nil
}

func (s *spaceTokenizer) Identity() string { return "space" }

// words returns "<prefix>0 <prefix>1 ..." with n words.
func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func newExample(article, question string, options [race.NumOptions]string) race.Example {
	return race.Example{ID: "doc-0", Article: article, Question: question, Options: options, Label: 1}
}

func TestTruncateSeqPair_TieRemovesFromSecond(t *testing.T) {
	a := strings.Fields(words("a", 5))
	b := strings.Fields(words("b", 5))

	a, b = TruncateSeqPair(a, b, 8)

	assert.Equal(t, []string{"a0", "a1", "a2", "a3"}, a)
	assert.Equal(t, []string{"b0", "b1", "b2", "b3"}, b)
}

func TestTruncateSeqPair_ShortInputsUntouched(t *testing.T) {
	a := []string{"x", "y"}
	b := []string{"z"}
	gotA, gotB := TruncateSeqPair(a, b, 3)
	assert.Equal(t, a, gotA)
	assert.Equal(t, b, gotB)
}

func TestTruncateSeqPair_LongerSideShrinksFirst(t *testing.T) {
	a, b := TruncateSeqPair(strings.Fields(words("a", 10)), strings.Fields(words("b", 2)), 6)
	assert.Len(t, a, 4)
	assert.Len(t, b, 2)

	a, b = TruncateSeqPair(strings.Fields(words("a", 1)), strings.Fields(words("b", 9)), 3)
	assert.Equal(t, []string{"a0"}, a)
	assert.Equal(t, []string{"b0", "b1"}, b)
}

func assertChoiceInvariants(t *testing.T, c Choice, maxLen int) {
	t.Helper()
	require.Len(t, c.InputIDs, maxLen)
	require.Len(t, c.InputMask, maxLen)
	require.Len(t, c.SegmentIDs, maxLen)

	n := 0
	for n < maxLen && c.InputMask[n] == 1 {
		n++
	}
	for i := n; i < maxLen; i++ {
		assert.Equal(t, 0, c.InputMask[i], "mask must be 1s then 0s")
		assert.Equal(t, 0, c.InputIDs[i])
		assert.Equal(t, 0, c.SegmentIDs[i])
	}
	assert.Equal(t, c.DocLen+c.QuestionLen+c.OptionLen+3, n)
	assert.Len(t, c.Tokens, n)
	assert.Equal(t, tokenization.ClassToken, c.Tokens[0])
	assert.Equal(t, tokenization.SeparatorToken, c.Tokens[c.DocLen+1])
	assert.Equal(t, tokenization.SeparatorToken, c.Tokens[n-1])
	for i := 0; i < n; i++ {
		want := 0
		if i >= c.DocLen+2 {
			want = 1
		}
		assert.Equal(t, want, c.SegmentIDs[i], "segment at %d", i)
	}
}

func TestEncoder_ShortInputsArePaddedNotTruncated(t *testing.T) {
	enc, err := NewEncoder(newSpaceTokenizer(), 32)
	require.NoError(t, err)
	defer enc.Close()

	ex := newExample(words("a", 6), words("q", 3), [race.NumOptions]string{"o", "o o", "o o o", ""})
	out, err := enc.EncodeExample(ex)
	require.NoError(t, err)

	assert.Equal(t, "doc-0", out.ExampleID)
	assert.Equal(t, 1, out.Label)
	for _, c := range out.Choices {
		assertChoiceInvariants(t, c, 32)
		assert.Equal(t, 6, c.DocLen)
		assert.Equal(t, 3, c.QuestionLen)
	}
	assert.Equal(t, []int{1, 2, 3, 0}, []int{
		out.Choices[0].OptionLen, out.Choices[1].OptionLen, out.Choices[2].OptionLen, out.Choices[3].OptionLen,
	})
	assert.Equal(t,
		[]string{"[CLS]", "a0", "a1", "a2", "a3", "a4", "a5", "[SEP]", "q0", "q1", "q2", "o", "[SEP]"},
		out.Choices[0].Tokens)
}

func TestEncoder_TruncatesArticlePerOptionIndependently(t *testing.T) {
	enc, err := NewEncoder(newSpaceTokenizer(), 16)
	require.NoError(t, err)
	defer enc.Close()

	ex := newExample(words("a", 10), words("q", 3), [race.NumOptions]string{
		words("o", 2), words("o", 1), words("o", 4), words("o", 0),
	})
	out, err := enc.EncodeExample(ex)
	require.NoError(t, err)

	for _, c := range out.Choices {
		assertChoiceInvariants(t, c, 16)
	}
	docLens := []int{}
	questionLens := []int{}
	for _, c := range out.Choices {
		docLens = append(docLens, c.DocLen)
		questionLens = append(questionLens, c.QuestionLen)
	}
	assert.Equal(t, []int{8, 9, 7, 10}, docLens)
	// the third option ties with the article at 7+7 and loses its own last token
	assert.Equal(t, []int{3, 3, 2, 3}, questionLens)
}

func TestEncoder_QuestionLenAbsorbsEndingTruncation(t *testing.T) {
	enc, err := NewEncoder(newSpaceTokenizer(), 10)
	require.NoError(t, err)
	defer enc.Close()

	ex := newExample(words("a", 2), words("q", 10), [race.NumOptions]string{
		words("o", 3), words("o", 3), words("o", 3), words("o", 3),
	})
	out, err := enc.EncodeExample(ex)
	require.NoError(t, err)

	c := out.Choices[0]
	assertChoiceInvariants(t, c, 10)
	assert.Equal(t, 2, c.DocLen)
	assert.Equal(t, 3, c.OptionLen)
	assert.Equal(t, 2, c.QuestionLen)
	assert.Equal(t, []string{"[CLS]", "a0", "a1", "[SEP]", "q0", "q1", "q2", "q3", "q4", "[SEP]"}, c.Tokens)
}

func TestEncoder_ExactFitRecomputesQuestionLen(t *testing.T) {
	enc, err := NewEncoder(newSpaceTokenizer(), 10)
	require.NoError(t, err)
	defer enc.Close()

	ex := newExample(words("a", 3), words("q", 2), [race.NumOptions]string{"o o", "o o", "o o", "o o"})
	out, err := enc.EncodeExample(ex)
	require.NoError(t, err)

	c := out.Choices[0]
	assertChoiceInvariants(t, c, 10)
	assert.Equal(t, 3, c.DocLen)
	assert.Equal(t, 2, c.QuestionLen)
	assert.Equal(t, 1, c.InputMask[9])
}

func TestEncoder_ConvertKeepsOrder(t *testing.T) {
	enc, err := NewEncoder(newSpaceTokenizer(), 12)
	require.NoError(t, err)
	defer enc.Close()

	examples := []race.Example{
		{ID: "f-0", Article: "same article", Question: "q", Options: [race.NumOptions]string{"a", "b", "c", "d"}, Label: 0},
		{ID: "f-1", Article: "same article", Question: "q2", Options: [race.NumOptions]string{"a", "b", "c", "d"}, Label: race.NoLabel},
	}
	out, err := enc.Convert(examples)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "f-0", out[0].ExampleID)
	assert.Equal(t, "f-1", out[1].ExampleID)
	assert.Equal(t, race.NoLabel, out[1].Label)
	assert.Equal(t, out[0].Choices[0].InputIDs[:4], out[1].Choices[0].InputIDs[:4])
}

func TestNewEncoder_RejectsTinyLength(t *testing.T) {
	_, err := NewEncoder(newSpaceTokenizer(), 3)
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

// overflowTokenizer reports one id more than it was given tokens.
type overflowTokenizer struct{ spaceTokenizer }

func (o *overflowTokenizer) ConvertTokensToIDs(tokens []string) ([]int, error) {
	return make([]int, len(tokens)+100), nil
}

func TestEncoder_LengthViolationPanics(t *testing.T) {
	enc, err := NewEncoder(&overflowTokenizer{*newSpaceTokenizer()}, 8)
	require.NoError(t, err)
	defer enc.Close()

	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(*errors.InvariantError)
		assert.True(t, ok, "panic value %T", r)
	}()
	_, _ = enc.EncodeExample(newExample("a", "q", [race.NumOptions]string{"a", "b", "c", "d"}))
}

func TestSelect(t *testing.T) {
	enc, err := NewEncoder(newSpaceTokenizer(), 8)
	require.NoError(t, err)
	defer enc.Close()

	out, err := enc.Convert([]race.Example{newExample("a", "q", [race.NumOptions]string{"w", "x", "y", "z"})})
	require.NoError(t, err)

	masks := Select(out, FieldInputMask)
	require.Len(t, masks, 1)
	assert.Equal(t, []int{1, 1, 1, 1, 1, 1, 0, 0}, masks[0][2])
	segments := Select(out, FieldSegmentIDs)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 0, 0}, segments[0][3])
	ids := Select(out, FieldInputIDs)
	assert.Equal(t, out[0].Choices[1].InputIDs, ids[0][1])
}
