package fusion

import (
	"github.com/ragaeeb/blackiya-sub001/internal/attempt"
	"github.com/ragaeeb/blackiya-sub001/internal/stabilize"
)

// Option configures an Engine at construction.
type Option func(*config)

type config struct {
	policy          stabilize.Policy
	bindingCapacity int
	idGen           attempt.IDGenerator
	canceller       Canceller
}

func defaultConfig() config {
	return config{
		policy:          stabilize.DefaultPolicy(),
		bindingCapacity: attempt.DefaultBindingCapacity,
		idGen:           attempt.UUIDv7Generator{},
	}
}

// WithStabilizationPolicy overrides the retry constants. The policy shape
// (fixed cadence, hard budget, one-shot timeout) is not configurable.
func WithStabilizationPolicy(p stabilize.Policy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithBindingCapacity overrides the conversation-binding cap.
func WithBindingCapacity(n int) Option {
	return func(c *config) {
		c.bindingCapacity = n
	}
}

// WithIDGenerator overrides the attempt ID generator.
// Use attempt.NewFixedGenerator in tests and replay for determinism.
func WithIDGenerator(g attempt.IDGenerator) Option {
	return func(c *config) {
		c.idGen = g
	}
}

// WithCanceller installs the probe canceller invoked when an attempt is
// superseded or disposed.
func WithCanceller(cn Canceller) Option {
	return func(c *config) {
		c.canceller = cn
	}
}
