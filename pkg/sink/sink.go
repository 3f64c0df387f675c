package sink

import (
	"errors"
)

// Sink receives scalar records from the training loop. Implementations must be safe for use by
// several workers at once.
type Sink interface {
	AddScalar(tag string, value float64, step int) error
	Close() error
}

// Multi fans every record out to all sinks. Errors are joined; a failing sink does not stop the
// others.
type Multi []Sink

func (m Multi) AddScalar(tag string, value float64, step int) error {
	var errs []error
	for _, s := range m {
		if err := s.AddScalar(tag, value, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

func (Discard) AddScalar(string, float64, int) error { return nil }
func (Discard) Close() error                          { return nil }
