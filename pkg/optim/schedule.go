package optim

// Scheduler adjusts the optimizer's learning rate once per optimizer step.
type Scheduler interface {
	Step()
}

// LinearWarmup raises the learning rate linearly from 0 to the base rate over warmupSteps,
// then decays it linearly to 0 at totalSteps.
type LinearWarmup struct {
	opt         Optimizer
	baseLR      float64
	warmupSteps int
	totalSteps  int
	step        int
}

// NewLinearWarmup applies the step-0 factor to opt immediately.
func NewLinearWarmup(opt Optimizer, warmupSteps, totalSteps int) *LinearWarmup {
	s := &LinearWarmup{opt: opt, baseLR: opt.LR(), warmupSteps: warmupSteps, totalSteps: totalSteps}
	opt.SetLR(s.baseLR * s.factor(0))
	return s
}

func (s *LinearWarmup) factor(step int) float64 {
	if step < s.warmupSteps {
		return float64(step) / float64(max(1, s.warmupSteps))
	}
	remaining := float64(s.totalSteps-step) / float64(max(1, s.totalSteps-s.warmupSteps))
	return max(0, remaining)
}

func (s *LinearWarmup) Step() {
	s.step++
	s.opt.SetLR(s.baseLR * s.factor(s.step))
}

// WarmupLinear is the BERT pre-training schedule on training progress x in [0, 1].
func WarmupLinear(x, warmup float64) float64 {
	if x < warmup {
		return x / warmup
	}
	return 1.0 - x
}

// BertLegacy sets lr = base * WarmupLinear(globalStep/totalSteps) before each optimizer step.
type BertLegacy struct {
	opt        Optimizer
	baseLR     float64
	warmup     float64
	totalSteps int
	step       int
}

// NewBertLegacy takes the base rate from opt and applies the step-0 factor immediately.
func NewBertLegacy(opt Optimizer, warmupProportion float64, totalSteps int) *BertLegacy {
	s := &BertLegacy{opt: opt, baseLR: opt.LR(), warmup: warmupProportion, totalSteps: totalSteps}
	s.apply()
	return s
}

func (s *BertLegacy) apply() {
	x := float64(s.step) / float64(max(1, s.totalSteps))
	s.opt.SetLR(s.baseLR * WarmupLinear(x, s.warmup))
}

func (s *BertLegacy) Step() {
	s.step++
	s.apply()
}
