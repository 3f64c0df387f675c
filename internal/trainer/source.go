package trainer

import (
	"context"
	"fmt"

	"github.com/xcmyz/bert-race/pkg/featurecache"
	"github.com/xcmyz/bert-race/pkg/features"
	"github.com/xcmyz/bert-race/pkg/race"
	"github.com/xcmyz/bert-race/pkg/tokenization"
)

// Split names a corpus split and the cache artifact prefix it is stored under.
type Split struct {
	Name   string
	Prefix string
}

var (
	TrainSplit = Split{Name: "train", Prefix: featurecache.TrainPrefix}
	DevSplit   = Split{Name: "dev", Prefix: featurecache.EvalPrefix}
)

// FeatureSource reads a split from the data directory and encodes it, going through the feature
// cache so that unchanged inputs are encoded once.
type FeatureSource struct {
	dataDir      string
	dataName     string
	maxSeqLength int
	tokenizer    tokenization.Tokenizer
	cache        *featurecache.Cache
}

// NewFeatureSource creates a source reading dataDir/dataName and caching its features.
func NewFeatureSource(dataDir, dataName string, maxSeqLength int, tokenizer tokenization.Tokenizer, cache *featurecache.Cache) *FeatureSource {
	return &FeatureSource{
		dataDir:      dataDir,
		dataName:     dataName,
		maxSeqLength: maxSeqLength,
		tokenizer:    tokenizer,
		cache:        cache,
	}
}

// Load returns the encoded examples of split.
func (s *FeatureSource) Load(ctx context.Context, split Split) ([]features.Example, error) {
	dirs := race.SplitDirs(s.dataDir, split.Name)
	files, err := race.ListFiles(dirs)
	if err != nil {
		return nil, err
	}
	fingerprint, err := featurecache.ComputeFingerprint(files, s.tokenizer.Identity(), s.maxSeqLength)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s split: %w", split.Name, err)
	}

	path := s.cache.Path(split.Prefix, s.dataName)
	return s.cache.LoadOrBuild(ctx, path, fingerprint, func() ([]features.Example, error) {
		examples, err := race.ReadExamples(dirs)
		if err != nil {
			return nil, err
		}
		encoder, err := features.NewEncoder(s.tokenizer, s.maxSeqLength)
		if err != nil {
			return nil, err
		}
		defer encoder.Close()
		return encoder.Convert(examples)
	})
}
