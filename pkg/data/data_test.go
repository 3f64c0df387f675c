package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcmyz/bert-race/pkg/features"
	"github.com/xcmyz/bert-race/pkg/race"
)

type fixedSampler []int

func (s fixedSampler) Indices(int) []int { return s }
func (s fixedSampler) Len() int          { return len(s) }

func example(id string, label int) features.Example {
	ex := features.Example{ExampleID: id, Label: label}
	for c := range ex.Choices {
		ex.Choices[c] = features.Choice{
			InputIDs:    []int{label, c},
			InputMask:   []int{1, 1},
			SegmentIDs:  []int{0, 1},
			DocLen:      label + 1,
			QuestionLen: c,
			OptionLen:   1,
		}
	}
	return ex
}

func TestDataset_Batch(t *testing.T) {
	ds := NewDataset([]features.Example{example("a", 0), example("b", 1), example("c", 2)})
	require.Equal(t, 3, ds.Len())

	b := ds.Batch([]int{2, 0})
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, []int{2, 0}, b.Labels)
	assert.Equal(t, []int{2, 3}, b.InputIDs[0][3])
	assert.Equal(t, []int{0, 1}, b.SegmentIDs[1][0])
	assert.Equal(t, [race.NumOptions]int{3, 3, 3, 3}, b.DocLens[0])
	assert.Equal(t, [race.NumOptions]int{0, 1, 2, 3}, b.QuestionLens[1])
	assert.Equal(t, [race.NumOptions]int{1, 1, 1, 1}, b.OptionLens[1])
}

func TestLoader_Epoch(t *testing.T) {
	examples := make([]features.Example, 5)
	for i := range examples {
		examples[i] = example("x", i)
	}
	loader := NewLoader(NewDataset(examples), fixedSampler{4, 3, 2, 1, 0}, 2)
	assert.Equal(t, 3, loader.NumBatches())

	batches := loader.Epoch(0)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{4, 3}, batches[0].Labels)
	assert.Equal(t, []int{2, 1}, batches[1].Labels)
	assert.Equal(t, []int{0}, batches[2].Labels)
}

func TestLoader_ClampsBatchSize(t *testing.T) {
	loader := NewLoader(NewDataset([]features.Example{example("a", 0)}), fixedSampler{0}, 0)
	assert.Equal(t, 1, loader.NumBatches())
}
