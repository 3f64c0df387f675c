package multichoice

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"
	"github.com/tiendc/go-deepcopy"
	"github.com/xcmyz/bert-race/pkg/data"
	"github.com/xcmyz/bert-race/pkg/nn"
	"github.com/xcmyz/bert-race/pkg/race"
)

const numSegments = 2

// Config describes the model shape. It is written next to the weights as model_config.json.
type Config struct {
	Architecture  string `json:"architecture"`
	VocabSize     int    `json:"vocab_size"`
	HiddenSize    int    `json:"hidden_size"`
	MaxSeqLength  int    `json:"max_seq_length"`
	NumChoices    int    `json:"num_choices"`
	HalfPrecision bool   `json:"fp16"`
}

// Model scores each (context, option) sequence with a pooled embedding and a linear head, and
// trains with softmax cross-entropy over the options of an example.
type Model struct {
	Config Config

	WordEmbeddings    *nn.Parameter
	SegmentEmbeddings *nn.Parameter
	ClassifierWeight  *nn.Parameter
	ClassifierBias    *nn.Parameter

	Training bool
}

// New creates a model with zeroed parameters; call Init before training.
func New(cfg Config) *Model {
	if cfg.NumChoices == 0 {
		cfg.NumChoices = race.NumOptions
	}
	prefix := cfg.Architecture
	m := &Model{
		Config:            cfg,
		WordEmbeddings:    nn.NewParameter(prefix+".embeddings.word_embeddings.weight", cfg.VocabSize, cfg.HiddenSize),
		SegmentEmbeddings: nn.NewParameter(prefix+".embeddings.token_type_embeddings.weight", numSegments, cfg.HiddenSize),
		ClassifierWeight:  nn.NewParameter("classifier.weight", cfg.HiddenSize),
		ClassifierBias:    nn.NewParameter("classifier.bias", 1),
		Training:          true,
	}
	m.ClassifierBias.NoDecay = true
	return m
}

// Init draws every weight uniformly from (-0.5/dim, 0.5/dim). The bias stays zero.
func (m *Model) Init(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	dim := float64(m.Config.HiddenSize)

	log.Info().
		Str("architecture", m.Config.Architecture).
		Int("vocab_size", m.Config.VocabSize).
		Int("hidden_size", m.Config.HiddenSize).
		Bool("fp16", m.Config.HalfPrecision).
		Msg("Model Setting")

	for _, p := range []*nn.Parameter{m.WordEmbeddings, m.SegmentEmbeddings, m.ClassifierWeight} {
		for i := range p.Data {
			p.Data[i] = (rng.Float64() - 0.5) / dim
		}
	}
	clear(m.ClassifierBias.Data)
	m.round()
}

// Parameters returns the trainable tensors in a fixed order.
func (m *Model) Parameters() []*nn.Parameter {
	return []*nn.Parameter{m.WordEmbeddings, m.SegmentEmbeddings, m.ClassifierWeight, m.ClassifierBias}
}

// SetTrain switches between training and inference mode.
func (m *Model) SetTrain(train bool) {
	m.Training = train
}

// Clone returns an independent deep copy, weights and gradients included.
func (m *Model) Clone() (*Model, error) {
	var dst Model
	if err := deepcopy.Copy(&dst, *m); err != nil {
		return nil, fmt.Errorf("copy model: %w", err)
	}
	return &dst, nil
}

// Replica is Clone behind the nn.Module interface.
func (m *Model) Replica() (nn.Module, error) {
	c, err := m.Clone()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Model) half(x float64) float64 {
	if m.Config.HalfPrecision {
		return nn.Half(x)
	}
	return x
}

// round keeps fp16 master weights representable in half precision.
func (m *Model) round() {
	if !m.Config.HalfPrecision {
		return
	}
	for _, p := range m.Parameters() {
		nn.HalfSlice(p.Data)
	}
}

type pooled struct {
	z     []float64
	count int
}

// Forward scores every option of every example. Loss is the mean cross-entropy over examples
// with a label; it is zero when the batch has none.
func (m *Model) Forward(batch *data.Batch) (*nn.Output, error) {
	dim := m.Config.HiddenSize
	n := batch.Size()
	logits := make([][]float64, n)
	probs := make([][]float64, n)
	cache := make([][race.NumOptions]pooled, n)

	for i := 0; i < n; i++ {
		logits[i] = make([]float64, race.NumOptions)
		for c := 0; c < race.NumOptions; c++ {
			h := make([]float64, dim)
			ids, mask, segs := batch.InputIDs[i][c], batch.InputMask[i][c], batch.SegmentIDs[i][c]
			count := 0
			for t, id := range ids {
				if mask[t] == 0 {
					continue
				}
				if id < 0 || id >= m.Config.VocabSize {
					return nil, fmt.Errorf("token id %d out of vocabulary range [0, %d)", id, m.Config.VocabSize)
				}
				seg := segs[t]
				if seg < 0 || seg >= numSegments {
					return nil, fmt.Errorf("segment id %d out of range", seg)
				}
				word := m.WordEmbeddings.Data[id*dim : (id+1)*dim]
				segment := m.SegmentEmbeddings.Data[seg*dim : (seg+1)*dim]
				for d := 0; d < dim; d++ {
					h[d] += word[d] + segment[d]
				}
				count++
			}

			score := m.ClassifierBias.Data[0]
			for d := 0; d < dim; d++ {
				if count > 0 {
					h[d] /= float64(count)
				}
				h[d] = m.half(math.Tanh(h[d]))
				score += m.ClassifierWeight.Data[d] * h[d]
			}
			logits[i][c] = m.half(score)
			cache[i][c] = pooled{z: h, count: count}
		}
		probs[i] = softmax(logits[i])
	}

	loss, labelled := 0.0, 0
	for i, label := range batch.Labels {
		if label == race.NoLabel {
			continue
		}
		if label < 0 || label >= race.NumOptions {
			return nil, fmt.Errorf("label %d out of range", label)
		}
		loss -= math.Log(math.Max(probs[i][label], 1e-12))
		labelled++
	}
	if labelled > 0 {
		loss /= float64(labelled)
	}

	if !m.Training || labelled == 0 {
		return nn.NewOutput(loss, logits, nil), nil
	}
	return nn.NewOutput(loss, logits, func(scale float64) {
		m.backward(batch, probs, cache, labelled, scale)
	}), nil
}

func (m *Model) backward(batch *data.Batch, probs [][]float64, cache [][race.NumOptions]pooled, labelled int, scale float64) {
	dim := m.Config.HiddenSize
	norm := scale / float64(labelled)
	dh := make([]float64, dim)

	for i, label := range batch.Labels {
		if label == race.NoLabel {
			continue
		}
		for c := 0; c < race.NumOptions; c++ {
			dscore := probs[i][c]
			if c == label {
				dscore -= 1
			}
			dscore = m.half(dscore * norm)

			p := cache[i][c]
			m.ClassifierBias.Grad[0] += dscore
			for d := 0; d < dim; d++ {
				m.ClassifierWeight.Grad[d] += m.half(dscore * p.z[d])
				dh[d] = m.half(dscore * m.ClassifierWeight.Data[d] * (1 - p.z[d]*p.z[d]))
			}
			if p.count == 0 {
				continue
			}

			inv := 1 / float64(p.count)
			ids, mask, segs := batch.InputIDs[i][c], batch.InputMask[i][c], batch.SegmentIDs[i][c]
			for t, id := range ids {
				if mask[t] == 0 {
					continue
				}
				word := m.WordEmbeddings.Grad[id*dim : (id+1)*dim]
				segment := m.SegmentEmbeddings.Grad[segs[t]*dim : (segs[t]+1)*dim]
				for d := 0; d < dim; d++ {
					g := dh[d] * inv
					word[d] += g
					segment[d] += g
				}
			}
		}
	}
}

// AfterStep re-rounds the weights after an optimizer update in half precision.
func (m *Model) AfterStep() {
	m.round()
}

func softmax(xs []float64) []float64 {
	maxX := math.Inf(-1)
	for _, x := range xs {
		maxX = math.Max(maxX, x)
	}
	out := make([]float64, len(xs))
	sum := 0.0
	for i, x := range xs {
		out[i] = math.Exp(x - maxX)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
