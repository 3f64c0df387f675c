package main

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/dig"

	"github.com/xcmyz/bert-race/internal/config"
	"github.com/xcmyz/bert-race/internal/models/multichoice"
	"github.com/xcmyz/bert-race/internal/trainer"
	"github.com/xcmyz/bert-race/pkg/distributed"
	"github.com/xcmyz/bert-race/pkg/featurecache"
	"github.com/xcmyz/bert-race/pkg/sink"
	"github.com/xcmyz/bert-race/pkg/tokenization"
)

const followerPollInterval = 5 * time.Second

// outputs are the scalar sinks of a run.
type outputs struct {
	loss    sink.Sink
	scalars sink.Sink
}

func (o *outputs) Close() error {
	return sink.Multi{o.loss, o.scalars}.Close()
}

func buildContainer(cfg *config.Config, runID string) (*dig.Container, error) {
	c := dig.New()
	providers := []interface{}{
		func() *config.Config { return cfg },
		newTokenizer,
		newCache,
		newFeatureSource,
		newModel,
		func(cfg *config.Config) *distributed.Group { return distributed.NewGroup(cfg.WorldSize) },
		func(cfg *config.Config) (*outputs, error) { return newOutputs(cfg, runID) },
		func(cfg *config.Config, g *distributed.Group, out *outputs) *trainer.Trainer {
			return trainer.New(cfg, g, out.loss, out.scalars)
		},
		func(cfg *config.Config) *trainer.Evaluator {
			return trainer.NewEvaluator(cfg.EvalBatchSize, cfg.OutputDir)
		},
		func(cfg *config.Config, src *trainer.FeatureSource, tr *trainer.Trainer, ev *trainer.Evaluator, m *multichoice.Model) *trainer.Runner {
			return trainer.NewRunner(cfg, src, tr, ev, m)
		},
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return nil, fmt.Errorf("provide: %w", err)
		}
	}
	return c, nil
}

func newTokenizer(cfg *config.Config) (*tokenization.FullTokenizer, error) {
	return tokenization.NewFullTokenizer(cfg.VocabFile, cfg.DoLowerCase)
}

func newCache(cfg *config.Config) *featurecache.Cache {
	opts := []featurecache.Option{featurecache.WithCompression(cfg.CompressionType())}
	if !cfg.IsCacheLeader() {
		opts = append(opts, featurecache.AsFollower(followerPollInterval))
	}
	return featurecache.New(cfg.CacheDir, opts...)
}

func newFeatureSource(cfg *config.Config, tok *tokenization.FullTokenizer, cache *featurecache.Cache) *trainer.FeatureSource {
	return trainer.NewFeatureSource(cfg.DataDir, cfg.DataName, cfg.MaxSeqLength, tok, cache)
}

func newModel(cfg *config.Config, tok *tokenization.FullTokenizer) (*multichoice.Model, error) {
	m := multichoice.New(multichoice.Config{
		Architecture:  string(cfg.Architecture),
		VocabSize:     tok.Vocab().Size(),
		HiddenSize:    cfg.HiddenSize,
		MaxSeqLength:  cfg.MaxSeqLength,
		HalfPrecision: cfg.FP16,
	})
	m.Init(cfg.Seed)
	if cfg.InitCheckpoint != "" {
		if err := m.LoadWeights(cfg.InitCheckpoint); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func newOutputs(cfg *config.Config, runID string) (*outputs, error) {
	if err := cfg.EnsureOutputDir(); err != nil {
		return nil, err
	}
	loss, err := sink.NewLossLog(filepath.Join(cfg.OutputDir, sink.LossFileName))
	if err != nil {
		return nil, err
	}
	tsv, err := sink.NewScalarLog(filepath.Join(cfg.OutputDir, sink.ScalarsFileName))
	if err != nil {
		loss.Close()
		return nil, err
	}
	var scalars sink.Sink = tsv
	if cfg.StatsdAddr != "" {
		statsd, err := sink.NewStatsd(cfg.StatsdAddr, runID)
		if err != nil {
			loss.Close()
			tsv.Close()
			return nil, err
		}
		scalars = sink.Multi{tsv, statsd}
	}
	return &outputs{loss: loss, scalars: scalars}, nil
}
