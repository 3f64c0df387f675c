package featurecache

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xcmyz/bert-race/pkg/compression"
	"github.com/xcmyz/bert-race/pkg/features"
)

const (
	TrainPrefix = "data"
	EvalPrefix  = "eval"
)

// BuildFunc produces the features when no usable artifact exists.
type BuildFunc func() ([]features.Example, error)

// Cache persists encoded features between runs. Only the leader builds and writes; followers
// wait for the leader's artifact.
type Cache struct {
	dir          string
	compression  compression.Type
	leader       bool
	pollInterval time.Duration
}

type Option func(*Cache)

// WithCompression selects the payload codec. Defaults to zstd.
func WithCompression(t compression.Type) Option {
	return func(c *Cache) { c.compression = t }
}

// AsFollower makes the cache wait for another worker to build artifacts.
func AsFollower(pollInterval time.Duration) Option {
	return func(c *Cache) {
		c.leader = false
		c.pollInterval = pollInterval
	}
}

// New creates a cache rooted at dir. By default it builds missing artifacts and compresses with zstd.
func New(dir string, opts ...Option) *Cache {
	c := &Cache{
		dir:          dir,
		compression:  compression.TypeZSTD,
		leader:       true,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the artifact path for a prefix (TrainPrefix, EvalPrefix) and run name.
func (c *Cache) Path(prefix, name string) string {
	return filepath.Join(c.dir, prefix+name+".bin")
}

// LoadOrBuild returns the features stored at path when they were built from the inputs
// identified by fingerprint. Otherwise the leader calls build, persists the result and returns
// it, while followers poll until the leader's artifact appears or ctx ends.
func (c *Cache) LoadOrBuild(ctx context.Context, path string, fingerprint Fingerprint, build BuildFunc) ([]features.Example, error) {
	if examples, ok := c.tryLoad(path, fingerprint); ok {
		return examples, nil
	}
	if !c.leader {
		return c.waitFor(ctx, path, fingerprint)
	}

	start := time.Now()
	examples, err := build()
	if err != nil {
		return nil, err
	}
	if err := Save(path, fingerprint, c.compression, examples); err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Str("fingerprint", fingerprint.String()).Int("examples", len(examples)).
		Dur("took", time.Since(start)).Msg("Built feature cache")
	return examples, nil
}

func (c *Cache) tryLoad(path string, fingerprint Fingerprint) ([]features.Example, bool) {
	header, examples, err := Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, false
	case err != nil:
		log.Warn().Err(err).Str("path", path).Msg("Unreadable feature cache, rebuilding")
		return nil, false
	case header.Fingerprint != fingerprint:
		log.Warn().Str("path", path).Str("have", header.Fingerprint.String()).Str("want", fingerprint.String()).
			Msg("Stale feature cache, rebuilding")
		return nil, false
	}
	log.Info().Str("path", path).Int("examples", len(examples)).Msg("Loaded feature cache")
	return examples, true
}

func (c *Cache) waitFor(ctx context.Context, path string, fingerprint Fingerprint) ([]features.Example, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	log.Info().Str("path", path).Msg("Waiting for leader to build feature cache")
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			header, examples, err := Load(path)
			if err == nil && header.Fingerprint == fingerprint {
				return examples, nil
			}
		}
	}
}
