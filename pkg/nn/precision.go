package nn

import (
	"math"

	"github.com/x448/float16"
)

// Half rounds x to the nearest IEEE 754 half-precision value. Values beyond ±65504 become ±Inf.
func Half(x float64) float64 {
	return float64(float16.Fromfloat32(float32(x)).Float32())
}

// HalfSlice rounds every element of xs in place.
func HalfSlice(xs []float64) {
	for i, x := range xs {
		xs[i] = Half(x)
	}
}

// AllFinite reports whether every gradient is finite.
func AllFinite(params []*Parameter) bool {
	for _, p := range params {
		for _, g := range p.Grad {
			if math.IsInf(g, 0) || math.IsNaN(g) {
				return false
			}
		}
	}
	return true
}

const (
	defaultInitScale      = 65536.0
	defaultGrowthInterval = 2000
)

// LossScaler multiplies the loss before backward so that small half-precision gradients do not
// underflow, and divides the gradients back before the optimizer step. A dynamic scaler halves
// on overflow and doubles after growthInterval clean steps.
type LossScaler struct {
	scale          float64
	dynamic        bool
	growthInterval int
	cleanSteps     int
}

// NewLossScaler returns a static scaler for scale > 0 and a dynamic one for scale == 0.
func NewLossScaler(scale float64) *LossScaler {
	if scale > 0 {
		return &LossScaler{scale: scale}
	}
	return &LossScaler{scale: defaultInitScale, dynamic: true, growthInterval: defaultGrowthInterval}
}

// NoLossScaling is the identity scaler used at full precision.
func NoLossScaling() *LossScaler {
	return &LossScaler{scale: 1}
}

// WithGrowthInterval overrides the number of clean steps between scale increases.
func (s *LossScaler) WithGrowthInterval(steps int) *LossScaler {
	s.growthInterval = steps
	return s
}

func (s *LossScaler) Scale() float64 {
	return s.scale
}

func (s *LossScaler) Dynamic() bool {
	return s.dynamic
}

// Unscale divides every gradient by the current scale and reports whether they are all finite.
// On overflow the gradients are zeroed; the caller skips the optimizer step.
func (s *LossScaler) Unscale(params []*Parameter) bool {
	if !AllFinite(params) {
		ZeroGrad(params)
		s.update(true)
		return false
	}
	inv := 1.0 / s.scale
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= inv
		}
	}
	s.update(false)
	return true
}

func (s *LossScaler) update(overflow bool) {
	if !s.dynamic {
		return
	}
	if overflow {
		s.scale = math.Max(s.scale/2, 1)
		s.cleanSteps = 0
		return
	}
	s.cleanSteps++
	if s.cleanSteps >= s.growthInterval {
		s.scale *= 2
		s.cleanSteps = 0
	}
}
