package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xcmyz/bert-race/internal/config"
	"github.com/xcmyz/bert-race/pkg/data"
	"github.com/xcmyz/bert-race/pkg/distributed"
	"github.com/xcmyz/bert-race/pkg/features"
	"github.com/xcmyz/bert-race/pkg/nn"
	"github.com/xcmyz/bert-race/pkg/optim"
	"github.com/xcmyz/bert-race/pkg/sink"
)

const (
	maxGradNorm = 1.0
	weightDecay = 0.01
	clipKernel  = "multi_tensor"
)

// Model is the trainable module driven by the Trainer. Replica returns an independent copy with
// the same weights for another data-parallel worker.
type Model interface {
	nn.Module
	Replica() (nn.Module, error)
}

// afterStepper is implemented by models that post-process weights after an update.
type afterStepper interface {
	AfterStep()
}

// EvalFunc is called on rank 0 every EvalEvery optimizer steps.
type EvalFunc func(ctx context.Context, model nn.Module, globalStep int) error

// Trainer runs data-parallel fine-tuning over a Group of in-process workers.
type Trainer struct {
	cfg     *config.Config
	group   *distributed.Group
	loss    sink.Sink
	scalars sink.Sink
	evalFn  EvalFunc

	mu         sync.Mutex
	globalStep int
}

// New creates a trainer. loss receives every micro-batch loss on rank 0 and scalars the tagged series.
func New(cfg *config.Config, group *distributed.Group, loss, scalars sink.Sink) *Trainer {
	return &Trainer{cfg: cfg, group: group, loss: loss, scalars: scalars}
}

// OnEvaluate installs the periodic evaluation hook.
func (t *Trainer) OnEvaluate(fn EvalFunc) {
	t.evalFn = fn
}

// GlobalStep is the number of optimizer steps taken by rank 0.
func (t *Trainer) GlobalStep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalStep
}

// NumTrainSteps is the optimizer step count the schedules are laid out over.
func NumTrainSteps(numExamples, perWorkerBatch, accumulation int, epochs float64) int {
	return int(float64(numExamples) / float64(perWorkerBatch) / float64(accumulation) * epochs)
}

type workerState struct {
	rank      int
	model     nn.Module
	params    []*nn.Parameter
	loader    *data.Loader
	opt       optim.Optimizer
	sched     optim.Scheduler
	scaler    *nn.LossScaler
	clipper   *optim.GradientClipper
	step      int
	lastLoss  float64
	skipped   int
	legacy    bool
	clipNorms bool
}

// Train fits model on examples. Rank 0 trains model itself; other ranks train replicas.
func (t *Trainer) Train(ctx context.Context, model Model, examples []features.Example) error {
	cfg := t.cfg
	world := t.group.Size()
	perWorker := cfg.PerWorkerBatchSize()
	totalSteps := NumTrainSteps(len(examples), perWorker, cfg.GradientAccumulationSteps, cfg.NumTrainEpochs)

	log.Info().Msg("***** Running training *****")
	log.Info().
		Int("num_examples", len(examples)).
		Int("batch_size", perWorker).
		Int("num_steps", totalSteps).
		Int("workers", world).
		Msg("Learning Parameters")
	log.Info().
		Float64("learning_rate", cfg.LearningRate).
		Float64("warmup_proportion", cfg.WarmupProportion).
		Int("gradient_accumulation_steps", cfg.GradientAccumulationSteps).
		Str("optimizer", string(cfg.Optimizer)).
		Str("schedule", string(cfg.Schedule)).
		Bool("fp16", cfg.FP16).
		Msg("Learning Parameters")

	ds := data.NewDataset(examples)
	workers := make([]*workerState, world)
	for rank := 0; rank < world; rank++ {
		var replica nn.Module = model
		if rank > 0 {
			var err error
			if replica, err = model.Replica(); err != nil {
				return fmt.Errorf("replica for rank %d: %w", rank, err)
			}
		}
		w, err := t.newWorker(rank, replica, ds, totalSteps)
		if err != nil {
			return err
		}
		workers[rank] = w
	}

	log.Info().Msg("Start Training:")
	err := t.group.Run(ctx, func(ctx context.Context, rank int) error {
		return t.runWorker(ctx, workers[rank])
	})
	if err != nil {
		return err
	}
	if skipped := workers[0].skipped; skipped > 0 {
		log.Warn().Int("skipped_steps", skipped).Msg("Optimizer steps skipped on gradient overflow")
	}
	log.Info().Int("global_step", t.GlobalStep()).Float64("loss", workers[0].lastLoss).Msg("Training finished")
	return nil
}

func (t *Trainer) newWorker(rank int, model nn.Module, ds *data.Dataset, totalSteps int) (*workerState, error) {
	cfg := t.cfg
	var sampler data.Sampler
	if t.group.Size() > 1 {
		sampler = distributed.NewDistributedSampler(ds.Len(), rank, t.group.Size(), cfg.Seed, true)
	} else {
		sampler = distributed.NewRandomSampler(ds.Len(), cfg.Seed)
	}

	w := &workerState{
		rank:      rank,
		model:     model,
		params:    model.Parameters(),
		loader:    data.NewLoader(ds, sampler, cfg.PerWorkerBatchSize()),
		scaler:    nn.NoLossScaling(),
		legacy:    cfg.Schedule == config.ScheduleBertLegacy,
		clipNorms: cfg.GradClip,
	}

	switch cfg.Optimizer {
	case config.OptimizerSGD:
		w.opt = optim.NewSGD(cfg.LearningRate, 0)
	default:
		w.opt = optim.NewAdam(cfg.LearningRate, weightDecay, false)
	}

	if w.legacy {
		clipper, err := optim.NewGradientClipper(maxGradNorm, clipKernel)
		if err != nil {
			return nil, err
		}
		w.clipper = clipper
		w.sched = optim.NewBertLegacy(w.opt, cfg.WarmupProportion, totalSteps)
	} else {
		w.sched = optim.NewLinearWarmup(w.opt, int(float64(totalSteps)*cfg.WarmupProportion), totalSteps)
		if cfg.FP16 {
			w.scaler = nn.NewLossScaler(cfg.LossScale)
		}
	}
	return w, nil
}

func (t *Trainer) runWorker(ctx context.Context, w *workerState) error {
	cfg := t.cfg
	accum := cfg.GradientAccumulationSteps
	epochs := int(cfg.NumTrainEpochs)
	w.model.SetTrain(true)

	for ep := 0; ep < epochs; ep++ {
		batches := w.loader.Epoch(ep)
		if w.rank == 0 {
			log.Info().Msgf("Training Epoch: %d/%d", ep+1, epochs)
		}
		for step, batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}

			out, err := w.model.Forward(batch)
			if err != nil {
				return fmt.Errorf("forward: %w", err)
			}
			loss := out.Loss
			if accum > 1 {
				loss /= float64(accum)
			}
			w.lastLoss = loss
			if w.rank == 0 {
				if err := t.loss.AddScalar("loss", loss, w.step); err != nil {
					return fmt.Errorf("record loss: %w", err)
				}
			}

			if err := out.Backward(w.scaler.Scale() / float64(accum)); err != nil {
				return fmt.Errorf("backward: %w", err)
			}
			if w.legacy {
				w.clipper.Step(w.params)
			}

			if (step+1)%accum == 0 {
				if err := t.optimizerStep(ctx, w); err != nil {
					return err
				}
			}

			if w.rank == 0 {
				if err := t.scalars.AddScalar("loss", loss, w.step); err != nil {
					log.Warn().Err(err).Msg("scalar stream write failed")
				}
			}
			if cfg.MaxSteps > 0 && w.step >= cfg.MaxSteps {
				return nil
			}
		}
	}
	return nil
}

func (t *Trainer) optimizerStep(ctx context.Context, w *workerState) error {
	if err := t.group.AllReduceMean(nn.Grads(w.params)); err != nil {
		return fmt.Errorf("all-reduce at step %d: %w", w.step, err)
	}

	ok := true
	if !w.legacy {
		ok = w.scaler.Unscale(w.params)
		if ok && w.clipNorms {
			_, ok = optim.ClipGradNorm(w.params, maxGradNorm)
		}
	}
	if ok {
		w.opt.Step(w.params)
		if s, isStepper := w.model.(afterStepper); isStepper {
			s.AfterStep()
		}
	} else {
		w.skipped++
		if w.rank == 0 {
			log.Debug().Int("global_step", w.step).Float64("loss_scale", w.scaler.Scale()).Msg("Gradient overflow, skipping step")
		}
	}
	w.sched.Step()
	nn.ZeroGrad(w.params)
	w.step++

	if w.rank != 0 {
		return nil
	}
	t.mu.Lock()
	t.globalStep = w.step
	t.mu.Unlock()

	if t.evalFn != nil && w.step%t.cfg.EvalEvery == 0 {
		if err := t.evalFn(ctx, w.model, w.step); err != nil {
			return fmt.Errorf("evaluation at step %d: %w", w.step, err)
		}
	}
	return nil
}

// PeriodicEval returns an EvalFunc that samples sample dev examples each time, evaluates and
// reports. Dev features are loaded on first use.
func PeriodicEval(evaluator *Evaluator, load func(ctx context.Context) ([]features.Example, error), sample int, seed int64) EvalFunc {
	var dev []features.Example
	rng := rand.New(rand.NewSource(seed))
	return func(ctx context.Context, model nn.Module, globalStep int) error {
		if dev == nil {
			var err error
			if dev, err = load(ctx); err != nil {
				return err
			}
		}
		start := time.Now()
		log.Info().Msg("***** Running evaluation: Dev *****")
		log.Info().Int("num_examples", len(dev)).Int("sample", sample).Msg("Evaluation")
		r, err := evaluator.Evaluate(model, Sample(dev, sample, rng), globalStep)
		if err != nil {
			return err
		}
		log.Debug().Dur("took", time.Since(start)).Msg("Evaluation done")
		return evaluator.Report(r)
	}
}
