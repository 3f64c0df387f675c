package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcmyz/bert-race/internal/config"
	"github.com/xcmyz/bert-race/internal/models/multichoice"
	"github.com/xcmyz/bert-race/internal/trainer"
	"github.com/xcmyz/bert-race/pkg/sink"
)

func TestBuildContainer_ResolvesRunner(t *testing.T) {
	root := t.TempDir()
	vocab := filepath.Join(root, "vocab.txt")
	require.NoError(t, os.WriteFile(vocab, []byte("[PAD]\n[UNK]\n[CLS]\n[SEP]\nthe\n"), 0o644))

	cfg := &config.Config{
		VocabFile:                 vocab,
		OutputDir:                 filepath.Join(root, "out"),
		CacheDir:                  root,
		Architecture:              config.ArchitectureALBERT,
		HiddenSize:                4,
		MaxSeqLength:              16,
		FP16:                      true,
		TrainBatchSize:            2,
		EvalBatchSize:             2,
		GradientAccumulationSteps: 1,
		WorldSize:                 2,
		LocalRank:                 1,
		Compression:               "none",
	}

	c, err := buildContainer(cfg, "run")
	require.NoError(t, err)

	err = c.Invoke(func(r *trainer.Runner, m *multichoice.Model, out *outputs) error {
		assert.NotNil(t, r)
		assert.Equal(t, 5, m.Config.VocabSize)
		assert.True(t, m.Config.HalfPrecision)
		assert.Equal(t, "albert.embeddings.word_embeddings.weight", m.WordEmbeddings.Name)
		return out.Close()
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, sink.ScalarsFileName))
}

func TestNewModel_MissingCheckpoint(t *testing.T) {
	root := t.TempDir()
	vocab := filepath.Join(root, "vocab.txt")
	require.NoError(t, os.WriteFile(vocab, []byte("[UNK]\n"), 0o644))

	cfg := &config.Config{VocabFile: vocab, HiddenSize: 2, InitCheckpoint: filepath.Join(root, "missing.bin")}
	c, err := buildContainer(cfg, "run")
	require.NoError(t, err)
	err = c.Invoke(func(*multichoice.Model) {})
	assert.Error(t, err)
}
