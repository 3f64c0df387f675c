package features

import "github.com/xcmyz/bert-race/pkg/race"

// Choice is one packed "[CLS] article [SEP] question+option [SEP]" sequence.
type Choice struct {
	Tokens      []string `json:"tokens"`
	InputIDs    []int    `json:"input_ids"`
	InputMask   []int    `json:"input_mask"`
	SegmentIDs  []int    `json:"segment_ids"`
	DocLen      int      `json:"doc_len"`
	QuestionLen int      `json:"ques_len"`
	OptionLen   int      `json:"option_len"`
}

// Example holds the four encoded choices of one question.
type Example struct {
	ExampleID string                  `json:"example_id"`
	Choices   [race.NumOptions]Choice `json:"choices"`
	Label     int                     `json:"label"`
}

// Field selects one integer sequence of a Choice.
type Field int

const (
	FieldInputIDs Field = iota
	FieldInputMask
	FieldSegmentIDs
)

// Select returns the requested field for every choice of every example,
// shaped [len(examples)][NumOptions][L].
func Select(examples []Example, field Field) [][race.NumOptions][]int {
	out := make([][race.NumOptions][]int, len(examples))
	for i := range examples {
		for c := range examples[i].Choices {
			choice := &examples[i].Choices[c]
			switch field {
			case FieldInputIDs:
				out[i][c] = choice.InputIDs
			case FieldInputMask:
				out[i][c] = choice.InputMask
			case FieldSegmentIDs:
				out[i][c] = choice.SegmentIDs
			}
		}
	}
	return out
}
