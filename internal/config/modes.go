package config

import (
	"fmt"

	"github.com/xcmyz/bert-race/internal/errors"
	"github.com/xcmyz/bert-race/pkg/compression"
)

// Architecture selects the tokenizer and parameter naming of the scoring model.
type Architecture string

const (
	ArchitectureBERT   Architecture = "bert"
	ArchitectureALBERT Architecture = "albert"
)

// OptimizerKind selects the parameter update rule.
type OptimizerKind string

const (
	OptimizerAdam OptimizerKind = "adam"
	OptimizerSGD  OptimizerKind = "sgd"
)

// ScheduleMode selects how the learning rate and clipping are driven.
type ScheduleMode string

const (
	// ScheduleLinearWarmup steps a warm-up/decay scheduler after each update, with optional
	// loss scaling and norm clipping.
	ScheduleLinearWarmup ScheduleMode = "linear_warmup"
	// ScheduleBertLegacy sets lr = base * warmup_linear(step/total) before each update and clips
	// every micro-batch through the fused clipper.
	ScheduleBertLegacy ScheduleMode = "bert_legacy"
)

func (a Architecture) Valid() bool {
	return a == ArchitectureBERT || a == ArchitectureALBERT
}

func (o OptimizerKind) Valid() bool {
	return o == OptimizerAdam || o == OptimizerSGD
}

func (s ScheduleMode) Valid() bool {
	return s == ScheduleLinearWarmup || s == ScheduleBertLegacy
}

// LoadError wraps a failure to read or decode a configuration source.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load config from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func NewLoadError(source string, err error) *LoadError {
	return &LoadError{Source: source, Err: err}
}

// Validate checks the configuration before anything runs.
func (c *Config) Validate() error {
	switch {
	case !c.DoTrain && !c.DoEval:
		return errors.NewConfigError("at least one of do_train or do_eval must be set")
	case c.DataDir == "":
		return errors.NewConfigError("data_dir is required")
	case c.VocabFile == "":
		return errors.NewConfigError("vocab_file is required")
	case c.OutputDir == "":
		return errors.NewConfigError("output_dir is required")
	case c.GradientAccumulationSteps < 1:
		return errors.NewConfigError("invalid gradient_accumulation_steps parameter: %d, should be >= 1", c.GradientAccumulationSteps)
	case c.TrainBatchSize < 1 || c.EvalBatchSize < 1:
		return errors.NewConfigError("batch sizes must be positive, got train=%d eval=%d", c.TrainBatchSize, c.EvalBatchSize)
	case c.TrainBatchSize%c.GradientAccumulationSteps != 0:
		return errors.NewConfigError("train_batch_size %d is not divisible by gradient_accumulation_steps %d", c.TrainBatchSize, c.GradientAccumulationSteps)
	case c.MaxSeqLength <= 3:
		return errors.NewConfigError("max_seq_length must exceed 3, got %d", c.MaxSeqLength)
	case c.HiddenSize < 1:
		return errors.NewConfigError("hidden_size must be positive, got %d", c.HiddenSize)
	case c.LearningRate <= 0:
		return errors.NewConfigError("learning_rate must be positive, got %g", c.LearningRate)
	case c.NumTrainEpochs <= 0:
		return errors.NewConfigError("num_train_epochs must be positive, got %g", c.NumTrainEpochs)
	case c.WarmupProportion < 0 || c.WarmupProportion > 1:
		return errors.NewConfigError("warmup_proportion must be in [0, 1], got %g", c.WarmupProportion)
	case c.LossScale < 0:
		return errors.NewConfigError("loss_scale must be >= 0, got %g", c.LossScale)
	case c.WorldSize < 1:
		return errors.NewConfigError("world_size must be >= 1, got %d", c.WorldSize)
	case c.LocalRank < -1:
		return errors.NewConfigError("local_rank must be >= -1, got %d", c.LocalRank)
	case c.MaxSteps < 0 || c.SubsampleTrain < 0:
		return errors.NewConfigError("step and subsample_train must be >= 0")
	case c.EvalEvery < 1 || c.EvalSample < 1:
		return errors.NewConfigError("eval_every and eval_sample must be positive")
	case !c.Architecture.Valid():
		return errors.NewConfigError("unknown architecture %q", c.Architecture)
	case !c.Optimizer.Valid():
		return errors.NewConfigError("unknown optimizer %q", c.Optimizer)
	case !c.Schedule.Valid():
		return errors.NewConfigError("unknown schedule %q", c.Schedule)
	}
	if _, err := compression.ParseType(c.Compression); err != nil {
		return errors.NewConfigError("%v", err)
	}
	return nil
}

// CompressionType is the parsed feature cache compression. Validate has already checked it.
func (c *Config) CompressionType() compression.Type {
	t, _ := compression.ParseType(c.Compression)
	return t
}
