package sink

import (
	"fmt"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

const namespace = "race."

type gaugeClient interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Close() error
}

// Statsd forwards scalars as gauges. Step is not sent; gauges are timestamped on arrival.
type Statsd struct {
	client gaugeClient
}

// NewStatsd dials addr (host:port) and tags every gauge with the run id.
func NewStatsd(addr, runID string) (*Statsd, error) {
	client, err := statsd.New(addr,
		statsd.WithNamespace(namespace),
		statsd.WithTags([]string{"run_id:" + runID}),
	)
	if err != nil {
		return nil, fmt.Errorf("statsd client for %s: %w", addr, err)
	}
	log.Info().Msgf("scalar stream forwarding to statsd at %s", addr)
	return &Statsd{client: client}, nil
}

func (s *Statsd) AddScalar(tag string, value float64, _ int) error {
	return s.client.Gauge(tag, value, nil, 1)
}

func (s *Statsd) Close() error {
	return s.client.Close()
}
