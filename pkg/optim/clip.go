package optim

import (
	"math"

	"github.com/xcmyz/bert-race/internal/errors"
	"github.com/xcmyz/bert-race/pkg/nn"
)

const clipEps = 1e-6

// ClipGradNorm rescales all gradients so that their joint L2 norm is at most maxNorm.
// It returns the norm before clipping; ok is false when the norm is not finite, in which case
// the gradients are left untouched and the caller should skip the step.
func ClipGradNorm(params []*nn.Parameter, maxNorm float64) (norm float64, ok bool) {
	return clipWith(multiTensorKernel{}, nn.Grads(params), maxNorm)
}

func clipWith(kernel NormKernel, grads [][]float64, maxNorm float64) (float64, bool) {
	norm := kernel.L2Norm(grads)
	if math.IsInf(norm, 0) || math.IsNaN(norm) {
		return norm, false
	}
	coef := maxNorm / (norm + clipEps)
	if coef < 1 {
		kernel.Scale(grads, coef)
	}
	return norm, true
}

// NormKernel computes fused norms and scales over a list of tensors.
type NormKernel interface {
	L2Norm(tensors [][]float64) float64
	Scale(tensors [][]float64, coef float64)
}

type multiTensorKernel struct{}

func (multiTensorKernel) L2Norm(tensors [][]float64) float64 {
	sum := 0.0
	for _, t := range tensors {
		for _, v := range t {
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}

func (multiTensorKernel) Scale(tensors [][]float64, coef float64) {
	for _, t := range tensors {
		for i := range t {
			t[i] *= coef
		}
	}
}

var kernels = map[string]NormKernel{
	"multi_tensor": multiTensorKernel{},
}

// GradientClipper is the legacy-mode clipper bound to a named fused kernel.
type GradientClipper struct {
	maxNorm float64
	kernel  NormKernel
}

// NewGradientClipper fails when the named kernel is not available in this build.
func NewGradientClipper(maxNorm float64, kernelName string) (*GradientClipper, error) {
	kernel, ok := kernels[kernelName]
	if !ok {
		return nil, &errors.CapabilityError{
			Capability: kernelName,
			ErrorMsg:   "gradient clipping requires a fused norm kernel",
		}
	}
	return &GradientClipper{maxNorm: maxNorm, kernel: kernel}, nil
}

// Step clips params in place. Non-finite norms are ignored and reported as false.
func (c *GradientClipper) Step(params []*nn.Parameter) bool {
	_, ok := clipWith(c.kernel, nn.Grads(params), c.maxNorm)
	return ok
}
