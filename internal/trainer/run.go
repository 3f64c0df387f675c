package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xcmyz/bert-race/internal/config"
	"github.com/xcmyz/bert-race/pkg/features"
)

// Savable is a model that can write itself into an output directory.
type Savable interface {
	Model
	Save(dir string) error
}

// Runner executes a configured run: feature preparation, training, evaluation and saving.
type Runner struct {
	cfg       *config.Config
	source    *FeatureSource
	trainer   *Trainer
	evaluator *Evaluator
	model     Savable
}

// NewRunner creates a runner over already constructed components.
func NewRunner(cfg *config.Config, source *FeatureSource, trainer *Trainer, evaluator *Evaluator, model Savable) *Runner {
	return &Runner{cfg: cfg, source: source, trainer: trainer, evaluator: evaluator, model: model}
}

func (r *Runner) loadDev(ctx context.Context) ([]features.Example, error) {
	return r.source.Load(ctx, DevSplit)
}

// Run performs the configured steps. The model is saved only when training ran.
func (r *Runner) Run(ctx context.Context) error {
	eteStart := time.Now()
	if err := r.cfg.EnsureOutputDir(); err != nil {
		return err
	}

	trainStart := time.Now()
	if r.cfg.DoTrain {
		examples, err := r.source.Load(ctx, TrainSplit)
		if err != nil {
			return fmt.Errorf("prepare train features: %w", err)
		}
		if n := r.cfg.SubsampleTrain; n > 0 && n < len(examples) {
			log.Info().Int("sample", n).Msg("subsampling train features")
			examples = Sample(examples, n, rand.New(rand.NewSource(r.cfg.Seed)))
		}

		r.trainer.OnEvaluate(PeriodicEval(r.evaluator, r.loadDev, r.cfg.EvalSample, r.cfg.Seed))
		trainStart = time.Now()
		if err := r.trainer.Train(ctx, r.model, examples); err != nil {
			return fmt.Errorf("train: %w", err)
		}
	}
	finish := time.Now()

	if r.cfg.DoEval {
		dev, err := r.loadDev(ctx)
		if err != nil {
			return fmt.Errorf("prepare dev features: %w", err)
		}
		log.Info().Msg("***** Running evaluation: Dev *****")
		result, err := r.evaluator.Evaluate(r.model, dev, r.trainer.GlobalStep())
		if err != nil {
			return err
		}
		if err := r.evaluator.Report(result); err != nil {
			return err
		}
	}

	log.Info().Msgf("ete_time: %v, training_time: %v", finish.Sub(eteStart).Seconds(), finish.Sub(trainStart).Seconds())
	if r.cfg.DoTrain {
		if err := r.model.Save(r.cfg.OutputDir); err != nil {
			return fmt.Errorf("save model: %w", err)
		}
	}
	return nil
}
