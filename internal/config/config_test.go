package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcmyz/bert-race/internal/errors"
	"github.com/xcmyz/bert-race/pkg/compression"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("race", flag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

var required = []string{"-data_dir", "RACE", "-vocab_file", "vocab.txt", "-output_dir", "out", "-do_train"}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := parse(t, required...)
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.MaxSeqLength)
	assert.Equal(t, 32, cfg.TrainBatchSize)
	assert.Equal(t, 8, cfg.EvalBatchSize)
	assert.Equal(t, 5e-5, cfg.LearningRate)
	assert.Equal(t, 3.0, cfg.NumTrainEpochs)
	assert.Equal(t, 0.1, cfg.WarmupProportion)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 500, cfg.EvalEvery)
	assert.Equal(t, 300, cfg.EvalSample)
	assert.True(t, cfg.GradClip)
	assert.False(t, cfg.DoEval)
	assert.Equal(t, ArchitectureBERT, cfg.Architecture)
	assert.Equal(t, ScheduleLinearWarmup, cfg.Schedule)
	assert.Equal(t, compression.TypeZSTD, cfg.CompressionType())
	assert.Equal(t, 32, cfg.PerWorkerBatchSize())
	assert.False(t, cfg.IsDistributed())
	assert.True(t, cfg.IsCacheLeader())
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "race.yaml")
	yml := heredoc.Doc(`
		max_seq_length: 256
		train_batch_size: 16
		eval_batch_size: 4
		optimizer: sgd
	`)
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("RACE_TRAIN_BATCH_SIZE", "24")
	t.Setenv("RACE_EVAL_BATCH_SIZE", "6")

	args := append([]string{"-config", path, "-eval_batch_size", "2"}, required...)
	cfg, err := parse(t, args...)
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.MaxSeqLength)
	assert.Equal(t, OptimizerSGD, cfg.Optimizer)
	assert.Equal(t, 24, cfg.TrainBatchSize)
	assert.Equal(t, 2, cfg.EvalBatchSize)
}

func TestLoad_PerWorkerBatch(t *testing.T) {
	cfg, err := parse(t, append([]string{"-gradient_accumulation_steps", "4"}, required...)...)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.PerWorkerBatchSize())
}

func TestLoad_WorldSize(t *testing.T) {
	cfg, err := parse(t, append([]string{"-world_size", "2"}, required...)...)
	require.NoError(t, err)
	assert.True(t, cfg.IsDistributed())
	assert.Equal(t, 2, cfg.WorldSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := parse(t, append([]string{"-config", "/nonexistent/race.yaml"}, required...)...)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"neither train nor eval", []string{"-data_dir", "d", "-vocab_file", "v", "-output_dir", "o"}},
		{"accumulation below one", append([]string{"-gradient_accumulation_steps", "0"}, required...)},
		{"batch not divisible", append([]string{"-gradient_accumulation_steps", "3"}, required...)},
		{"sequence too short", append([]string{"-max_seq_length", "3"}, required...)},
		{"unknown architecture", append([]string{"-architecture", "gpt"}, required...)},
		{"unknown optimizer", append([]string{"-optimizer", "radam"}, required...)},
		{"unknown schedule", append([]string{"-schedule", "cosine"}, required...)},
		{"unknown compression", append([]string{"-compression", "lz4"}, required...)},
		{"negative loss scale", append([]string{"-loss_scale", "-1"}, required...)},
		{"zero workers", append([]string{"-world_size", "0"}, required...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.args...)
			var cfgErr *errors.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}
