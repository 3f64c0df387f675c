package nn

import (
	"errors"

	"github.com/xcmyz/bert-race/pkg/data"
)

// ErrNoGraph is returned by Backward on an output produced in inference mode.
var ErrNoGraph = errors.New("output has no backward graph")

// Parameter is a flat trainable tensor with its accumulated gradient.
type Parameter struct {
	Name    string
	Shape   []int
	Data    []float64
	Grad    []float64
	NoDecay bool
}

// NewParameter allocates a zeroed parameter of the given shape.
func NewParameter(name string, shape ...int) *Parameter {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Parameter{
		Name:  name,
		Shape: shape,
		Data:  make([]float64, n),
		Grad:  make([]float64, n),
	}
}

// Output is the result of a forward pass: mean loss over labelled examples and one logit per
// option.
type Output struct {
	Loss   float64
	Logits [][]float64

	backward func(scale float64)
}

// NewOutput attaches a backward closure to a forward result. A nil closure marks an inference
// output.
func NewOutput(loss float64, logits [][]float64, backward func(scale float64)) *Output {
	return &Output{Loss: loss, Logits: logits, backward: backward}
}

// Backward accumulates d(scale*Loss)/dθ into every parameter's Grad.
func (o *Output) Backward(scale float64) error {
	if o.backward == nil {
		return ErrNoGraph
	}
	o.backward(scale)
	return nil
}

// Module is a trainable multiple-choice model.
type Module interface {
	Forward(batch *data.Batch) (*Output, error)
	Parameters() []*Parameter
	// SetTrain switches between training (backward graph kept) and inference.
	SetTrain(train bool)
}

// ZeroGrad clears the gradients of params.
func ZeroGrad(params []*Parameter) {
	for _, p := range params {
		clear(p.Grad)
	}
}

// Grads returns the gradient slices of params, sharing storage.
func Grads(params []*Parameter) [][]float64 {
	grads := make([][]float64, len(params))
	for i, p := range params {
		grads[i] = p.Grad
	}
	return grads
}
