package trainer

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/xcmyz/bert-race/pkg/data"
	"github.com/xcmyz/bert-race/pkg/distributed"
	"github.com/xcmyz/bert-race/pkg/features"
	"github.com/xcmyz/bert-race/pkg/nn"
	"github.com/xcmyz/bert-race/pkg/sink"
)

// Result is one evaluation pass.
type Result struct {
	Loss       float64
	Accuracy   float64
	GlobalStep int
	Examples   int
}

// Map is the result in the key order written to eval_results.txt.
func (r Result) Map() map[string]float64 {
	return map[string]float64{
		"dev_eval_loss":     r.Loss,
		"dev_eval_accuracy": r.Accuracy,
		"global_step":       float64(r.GlobalStep),
	}
}

// Accuracy counts rows whose highest logit is at the label. The first maximum wins ties.
func Accuracy(logits [][]float64, labels []int) int {
	correct := 0
	for i, row := range logits {
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		if best == labels[i] {
			correct++
		}
	}
	return correct
}

// Evaluator runs a model in inference mode over encoded dev examples.
type Evaluator struct {
	batchSize int
	outputDir string
}

// NewEvaluator creates an evaluator that batches dev examples and writes results under outputDir.
func NewEvaluator(batchSize int, outputDir string) *Evaluator {
	return &Evaluator{batchSize: batchSize, outputDir: outputDir}
}

// Evaluate computes the mean batch loss and the fraction of correctly answered examples.
// The model is switched back to training mode on return.
func (e *Evaluator) Evaluate(model nn.Module, examples []features.Example, globalStep int) (Result, error) {
	model.SetTrain(false)
	defer model.SetTrain(true)

	ds := data.NewDataset(examples)
	loader := data.NewLoader(ds, distributed.NewSequentialSampler(ds.Len()), e.batchSize)

	var lossSum float64
	correct, steps, seen := 0, 0, 0
	for _, batch := range loader.Epoch(0) {
		out, err := model.Forward(batch)
		if err != nil {
			return Result{}, fmt.Errorf("evaluation forward: %w", err)
		}
		lossSum += out.Loss
		correct += Accuracy(out.Logits, batch.Labels)
		seen += batch.Size()
		steps++
	}

	r := Result{GlobalStep: globalStep, Examples: seen}
	if steps > 0 {
		r.Loss = lossSum / float64(steps)
	}
	if seen > 0 {
		r.Accuracy = float64(correct) / float64(seen)
	}
	return r, nil
}

// Report logs r and appends it to eval_results.txt.
func (e *Evaluator) Report(r Result) error {
	log.Info().Msg("***** Dev results *****")
	log.Info().
		Float64("dev_eval_accuracy", r.Accuracy).
		Float64("dev_eval_loss", r.Loss).
		Int("global_step", r.GlobalStep).
		Int("examples", r.Examples).
		Send()
	return sink.AppendResults(filepath.Join(e.outputDir, sink.EvalResultsFileName), r.Map())
}

// Sample draws n examples without replacement, or returns all of them when n >= len(examples).
func Sample(examples []features.Example, n int, rng *rand.Rand) []features.Example {
	if n >= len(examples) {
		return examples
	}
	perm := rng.Perm(len(examples))[:n]
	out := make([]features.Example, n)
	for i, idx := range perm {
		out[i] = examples[idx]
	}
	return out
}
