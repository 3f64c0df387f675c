package multichoice

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

const (
	WeightsName = "model.bin"
	ConfigName  = "model_config.json"
)

type tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// SaveWeights writes every parameter, keyed by name.
func (m *Model) SaveWeights(filename string) error {
	state := make(map[string]tensor, 4)
	for _, p := range m.Parameters() {
		state[p.Name] = tensor{Shape: p.Shape, Data: p.Data}
	}
	b, err := sonic.ConfigStd.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	if err := os.WriteFile(filename, b, 0o644); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	log.Info().Msgf("Save to <%s>", filename)
	return nil
}

// LoadWeights restores parameters saved by SaveWeights. Every parameter must be present with
// the same shape.
func (m *Model) LoadWeights(filename string) error {
	b, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read weights: %w", err)
	}
	var state map[string]tensor
	if err := sonic.ConfigStd.Unmarshal(b, &state); err != nil {
		return fmt.Errorf("decode weights %s: %w", filename, err)
	}
	for _, p := range m.Parameters() {
		t, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("weights %s: missing parameter %s", filename, p.Name)
		}
		if !slices.Equal(t.Shape, p.Shape) || len(t.Data) != len(p.Data) {
			return fmt.Errorf("weights %s: parameter %s has shape %v, want %v", filename, p.Name, t.Shape, p.Shape)
		}
		copy(p.Data, t.Data)
	}
	m.round()
	return nil
}

// SaveConfig writes the model configuration as JSON.
func (m *Model) SaveConfig(filename string) error {
	b, err := sonic.ConfigStd.MarshalIndent(m.Config, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model config: %w", err)
	}
	return os.WriteFile(filename, b, 0o644)
}

// Save writes the weights and configuration into dir.
func (m *Model) Save(dir string) error {
	if err := m.SaveWeights(filepath.Join(dir, WeightsName)); err != nil {
		return err
	}
	return m.SaveConfig(filepath.Join(dir, ConfigName))
}
