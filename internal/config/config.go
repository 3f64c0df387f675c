package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/basicflag"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/rs/zerolog/log"
)

const (
	EnvPrefix       string = "RACE_"
	EnvDelimiter    string = "__"
	ConfigDelimiter string = "."

	// ConfigFileFlag names the flag that points at an optional YAML file.
	ConfigFileFlag = "config"
)

// Config is the full run configuration. Sources are layered: defaults, then the YAML file, then
// RACE_* environment variables, then command-line flags.
type Config struct {
	DataDir        string `koanf:"data_dir"`
	VocabFile      string `koanf:"vocab_file"`
	BertModel      string `koanf:"bert_model"`
	OutputDir      string `koanf:"output_dir"`
	CacheDir       string `koanf:"cache_dir"`
	InitCheckpoint string `koanf:"init_checkpoint"`
	DataName       string `koanf:"dataname"`

	Architecture Architecture  `koanf:"architecture"`
	Optimizer    OptimizerKind `koanf:"optimizer"`
	Schedule     ScheduleMode  `koanf:"schedule"`
	HiddenSize   int           `koanf:"hidden_size"`

	MaxSeqLength int  `koanf:"max_seq_length"`
	DoTrain      bool `koanf:"do_train"`
	DoEval       bool `koanf:"do_eval"`
	DoLowerCase  bool `koanf:"do_lower_case"`

	TrainBatchSize            int     `koanf:"train_batch_size"`
	EvalBatchSize             int     `koanf:"eval_batch_size"`
	LearningRate              float64 `koanf:"learning_rate"`
	NumTrainEpochs            float64 `koanf:"num_train_epochs"`
	WarmupProportion          float64 `koanf:"warmup_proportion"`
	GradientAccumulationSteps int     `koanf:"gradient_accumulation_steps"`
	GradClip                  bool    `koanf:"grad_clip"`
	MaxSteps                  int     `koanf:"step"`
	Seed                      int64   `koanf:"seed"`

	FP16      bool    `koanf:"fp16"`
	LossScale float64 `koanf:"loss_scale"`

	WorldSize      int `koanf:"world_size"`
	LocalRank      int `koanf:"local_rank"`
	EvalEvery      int `koanf:"eval_every"`
	EvalSample     int `koanf:"eval_sample"`
	SubsampleTrain int `koanf:"subsample_train"`

	Compression string `koanf:"compression"`
	StatsdAddr  string `koanf:"statsd_addr"`
	LogLevel    string `koanf:"log_level"`
}

// Defaults are the values used when no source sets a key.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"cache_dir":                   ".",
		"architecture":                string(ArchitectureBERT),
		"optimizer":                   string(OptimizerAdam),
		"schedule":                    string(ScheduleLinearWarmup),
		"hidden_size":                 64,
		"max_seq_length":              128,
		"train_batch_size":            32,
		"eval_batch_size":             8,
		"learning_rate":               5e-5,
		"num_train_epochs":            3.0,
		"warmup_proportion":           0.1,
		"gradient_accumulation_steps": 1,
		"grad_clip":                   true,
		"seed":                        42,
		"world_size":                  1,
		"local_rank":                  -1,
		"eval_every":                  500,
		"eval_sample":                 300,
		"compression":                 "zstd",
		"log_level":                   "INFO",
	}
}

// RegisterFlags declares one flag per configuration key on fs. Only flags given on the
// command line override other sources.
func RegisterFlags(fs *flag.FlagSet) {
	d := Defaults()
	fs.String(ConfigFileFlag, "", "optional YAML configuration file")

	fs.String("data_dir", "", "RACE data directory containing train/ and dev/")
	fs.String("vocab_file", "", "WordPiece vocabulary file")
	fs.String("bert_model", "", "pre-trained model name, recorded in the model config")
	fs.String("output_dir", "", "directory for the trained model and logs")
	fs.String("cache_dir", d["cache_dir"].(string), "directory for cached features")
	fs.String("init_checkpoint", "", "weights to start from")
	fs.String("dataname", "", "suffix of the cached feature files")

	fs.String("architecture", d["architecture"].(string), "bert or albert")
	fs.String("optimizer", d["optimizer"].(string), "adam or sgd")
	fs.String("schedule", d["schedule"].(string), "linear_warmup or bert_legacy")
	fs.Int("hidden_size", d["hidden_size"].(int), "hidden size of the scoring model")

	fs.Int("max_seq_length", d["max_seq_length"].(int), "maximum total input length after WordPiece tokenization")
	fs.Bool("do_train", false, "run training")
	fs.Bool("do_eval", false, "run evaluation on the dev set")
	fs.Bool("do_lower_case", false, "lower-case the input")

	fs.Int("train_batch_size", d["train_batch_size"].(int), "total batch size for training")
	fs.Int("eval_batch_size", d["eval_batch_size"].(int), "total batch size for evaluation")
	fs.Float64("learning_rate", d["learning_rate"].(float64), "initial learning rate")
	fs.Float64("num_train_epochs", d["num_train_epochs"].(float64), "number of training epochs")
	fs.Float64("warmup_proportion", d["warmup_proportion"].(float64), "fraction of training spent on linear warm-up")
	fs.Int("gradient_accumulation_steps", d["gradient_accumulation_steps"].(int), "micro-batches per optimizer step")
	fs.Bool("grad_clip", d["grad_clip"].(bool), "clip the gradient norm to 1.0")
	fs.Int("step", 0, "stop after this many optimizer steps (0 = no limit)")
	fs.Int64("seed", int64(d["seed"].(int)), "random seed")

	fs.Bool("fp16", false, "emulate half-precision training")
	fs.Float64("loss_scale", 0, "static loss scale; 0 selects dynamic scaling")

	fs.Int("world_size", d["world_size"].(int), "number of data-parallel workers")
	fs.Int("local_rank", d["local_rank"].(int), "rank of this process among processes sharing cache_dir; only -1 or 0 builds the cache")
	fs.Int("eval_every", d["eval_every"].(int), "evaluate every N optimizer steps during training")
	fs.Int("eval_sample", d["eval_sample"].(int), "dev examples sampled for periodic evaluation")
	fs.Int("subsample_train", 0, "train on a random sample of this many examples (0 = all)")

	fs.String("compression", d["compression"].(string), "feature cache compression: zstd or none")
	fs.String("statsd_addr", "", "host:port of a statsd agent for the scalar stream")
	fs.String("log_level", d["log_level"].(string), "DEBUG, INFO, WARN or ERROR")
}

// Load builds a Config from the parsed flag set fs.
func Load(fs *flag.FlagSet) (*Config, error) {
	k := koanf.New(ConfigDelimiter)

	if err := k.Load(confmap.Provider(Defaults(), ConfigDelimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if path := fs.Lookup(ConfigFileFlag); path != nil && path.Value.String() != "" {
		if err := k.Load(file.Provider(path.Value.String()), yaml.Parser()); err != nil {
			return nil, NewLoadError(path.Value.String(), err)
		}
		log.Debug().Msgf("loaded configuration file %s", path.Value.String())
	}

	err := k.Load(env.Provider(EnvPrefix, EnvDelimiter, func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	err = k.Load(basicflag.ProviderWithValue(fs, ConfigDelimiter, func(key, value string) (string, interface{}) {
		if !set[key] || key == ConfigFileFlag {
			return "", nil
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, NewLoadError("merged configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PerWorkerBatchSize is the micro-batch each worker feeds through forward and backward.
func (c *Config) PerWorkerBatchSize() int {
	return c.TrainBatchSize / c.GradientAccumulationSteps
}

// IsDistributed reports whether more than one worker trains.
func (c *Config) IsDistributed() bool {
	return c.WorldSize > 1
}

// IsCacheLeader reports whether this process builds feature cache artifacts.
func (c *Config) IsCacheLeader() bool {
	return c.LocalRank <= 0
}

// EnsureOutputDir creates the output directory.
func (c *Config) EnsureOutputDir() error {
	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}
