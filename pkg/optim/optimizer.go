package optim

import (
	"math"

	"github.com/xcmyz/bert-race/pkg/nn"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step(params []*nn.Parameter)
	LR() float64
	SetLR(lr float64)
}

// Adam is Adam with decoupled weight decay. Parameters marked NoDecay skip the decay term.
// Without bias correction the first steps take larger updates, as the fused BERT kernels do.
type Adam struct {
	lr             float64
	beta1, beta2   float64
	eps            float64
	weightDecay    float64
	biasCorrection bool

	step int
	m    map[*nn.Parameter][]float64
	v    map[*nn.Parameter][]float64
}

// NewAdam creates an Adam optimizer with decoupled weight decay.
// biasCorrection false reproduces BertAdam, which skips the moment correction.
func NewAdam(lr, weightDecay float64, biasCorrection bool) *Adam {
	return &Adam{
		lr:             lr,
		beta1:          0.9,
		beta2:          0.999,
		eps:            1e-8,
		weightDecay:    weightDecay,
		biasCorrection: biasCorrection,
		m:              make(map[*nn.Parameter][]float64),
		v:              make(map[*nn.Parameter][]float64),
	}
}

func (a *Adam) LR() float64      { return a.lr }
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Step applies one update from the accumulated gradients.
func (a *Adam) Step(params []*nn.Parameter) {
	a.step++
	stepSize := a.lr
	if a.biasCorrection {
		bc1 := 1 - math.Pow(a.beta1, float64(a.step))
		bc2 := 1 - math.Pow(a.beta2, float64(a.step))
		stepSize = a.lr * math.Sqrt(bc2) / bc1
	}

	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, len(p.Data))
			a.m[p] = m
			a.v[p] = make([]float64, len(p.Data))
		}
		v := a.v[p]

		decay := a.weightDecay
		if p.NoDecay {
			decay = 0
		}
		for i, g := range p.Grad {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g
			v[i] = a.beta2*v[i] + (1-a.beta2)*g*g
			update := stepSize * m[i] / (math.Sqrt(v[i]) + a.eps)
			p.Data[i] -= update + a.lr*decay*p.Data[i]
		}
	}
}

// SGD is plain gradient descent with L2 regularisation.
type SGD struct {
	lr     float64
	lambda float64
}

// NewSGD creates an SGD optimizer with L2 coefficient lambda.
func NewSGD(lr, lambda float64) *SGD {
	return &SGD{lr: lr, lambda: lambda}
}

func (s *SGD) LR() float64      { return s.lr }
func (s *SGD) SetLR(lr float64) { s.lr = lr }

// Step applies one update from the accumulated gradients.
func (s *SGD) Step(params []*nn.Parameter) {
	for _, p := range params {
		lambda := s.lambda
		if p.NoDecay {
			lambda = 0
		}
		for i, g := range p.Grad {
			p.Data[i] -= s.lr * (g + lambda*p.Data[i])
		}
	}
}
