package data

import (
	"github.com/xcmyz/bert-race/pkg/features"
	"github.com/xcmyz/bert-race/pkg/race"
)

// Batch is a mini-batch of encoded examples, one row per example and one column per option.
type Batch struct {
	InputIDs     [][race.NumOptions][]int
	InputMask    [][race.NumOptions][]int
	SegmentIDs   [][race.NumOptions][]int
	Labels       []int
	DocLens      [][race.NumOptions]int
	QuestionLens [][race.NumOptions]int
	OptionLens   [][race.NumOptions]int
}

// Size is the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// Dataset gives indexed access to encoded examples.
type Dataset struct {
	examples []features.Example
}

// NewDataset wraps examples without copying them.
func NewDataset(examples []features.Example) *Dataset {
	return &Dataset{examples: examples}
}

func (d *Dataset) Len() int {
	return len(d.examples)
}

// Batch collates the examples at indices.
func (d *Dataset) Batch(indices []int) *Batch {
	subset := make([]features.Example, len(indices))
	for i, idx := range indices {
		subset[i] = d.examples[idx]
	}

	b := &Batch{
		InputIDs:     features.Select(subset, features.FieldInputIDs),
		InputMask:    features.Select(subset, features.FieldInputMask),
		SegmentIDs:   features.Select(subset, features.FieldSegmentIDs),
		Labels:       make([]int, len(subset)),
		DocLens:      make([][race.NumOptions]int, len(subset)),
		QuestionLens: make([][race.NumOptions]int, len(subset)),
		OptionLens:   make([][race.NumOptions]int, len(subset)),
	}
	for i, ex := range subset {
		b.Labels[i] = ex.Label
		for c, choice := range ex.Choices {
			b.DocLens[i][c] = choice.DocLen
			b.QuestionLens[i][c] = choice.QuestionLen
			b.OptionLens[i][c] = choice.OptionLen
		}
	}
	return b
}

// Sampler yields the dataset indices visited in one epoch.
type Sampler interface {
	Indices(epoch int) []int
	Len() int
}

// Loader cuts a sampler's indices into batches. The last batch may be short.
type Loader struct {
	dataset   *Dataset
	sampler   Sampler
	batchSize int
}

// NewLoader creates a loader. A batchSize below one is treated as one.
func NewLoader(dataset *Dataset, sampler Sampler, batchSize int) *Loader {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Loader{dataset: dataset, sampler: sampler, batchSize: batchSize}
}

// NumBatches is the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (l.sampler.Len() + l.batchSize - 1) / l.batchSize
}

// Epoch returns the batches of one epoch, in sampler order.
func (l *Loader) Epoch(epoch int) []*Batch {
	indices := l.sampler.Indices(epoch)
	batches := make([]*Batch, 0, l.NumBatches())
	for start := 0; start < len(indices); start += l.batchSize {
		end := min(start+l.batchSize, len(indices))
		batches = append(batches, l.dataset.Batch(indices[start:end]))
	}
	return batches
}
