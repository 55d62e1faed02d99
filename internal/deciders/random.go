// Package deciders holds the decision nodes shipped with jobflow: random
// classifiers from the delivery sample, parameter routing and expression
// deciders.
package deciders

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/pkg/schema"
)

// RandomSource yields floats in [0, 1).
type RandomSource interface {
	Float64() float64
}

// Fixed is a RandomSource that always returns the same value.
type Fixed float64

func (f Fixed) Float64() float64 { return float64(f) }

// Sequence is a RandomSource that replays values in order and then repeats
// the last one.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequence creates a Sequence over values.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[min(s.next, len(s.values)-1)]
	s.next++
	return v
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// DefaultSource draws from the process-wide generator.
var DefaultSource RandomSource = globalSource{}

// Threshold classifies a random draw: below Cut it answers Below, otherwise
// Above.
type Threshold struct {
	Cut   float64
	Below schema.ExitStatus
	Above schema.ExitStatus
	Src   RandomSource
}

// Decide implements job.Decision.
func (t *Threshold) Decide(_ context.Context, _ job.ExecutionContext) (schema.ExitStatus, error) {
	src := t.Src
	if src == nil {
		src = DefaultSource
	}
	if src.Float64() < t.Cut {
		return t.Below, nil
	}
	return t.Above, nil
}

const (
	StatusCorrect    schema.ExitStatus = "CORRECT"
	StatusIncorrect  schema.ExitStatus = "INCORRECT"
	StatusPresent    schema.ExitStatus = "PRESENT"
	StatusNotPresent schema.ExitStatus = "NOT PRESENT"
)

// ItemValidator checks a delivered item: CORRECT seven times out of ten.
func ItemValidator(src RandomSource) job.Decision {
	return &Threshold{Cut: 0.7, Below: StatusCorrect, Above: StatusIncorrect, Src: src}
}

// DeliveryDecider reports whether the customer was home.
func DeliveryDecider(src RandomSource) job.Decision {
	return &Threshold{Cut: 0.5, Below: StatusPresent, Above: StatusNotPresent, Src: src}
}

var _ job.Decision = (*Threshold)(nil)
