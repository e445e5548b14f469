package audio

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// AudioEffect is one stage of sample processing. Effects may modify the
// input slice in place and return it.
type AudioEffect interface {
	Process(samples []int16) ([]int16, error)
	GetName() string
	Close() error
}

// EffectChain applies effects in insertion order. It is safe for concurrent
// use; Process calls are serialized.
type EffectChain struct {
	mu      sync.Mutex
	effects []AudioEffect
}

// NewEffectChain creates an empty effect chain.
func NewEffectChain(effects ...AudioEffect) *EffectChain {
	return &EffectChain{effects: effects}
}

// AddEffect appends an effect to the end of the chain.
func (e *EffectChain) AddEffect(effect AudioEffect) {
	if effect == nil {
		return
	}
	e.mu.Lock()
	e.effects = append(e.effects, effect)
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "EffectChain.AddEffect",
		"effect":   effect.GetName(),
	}).Debug("Added effect to chain")
}

// Process runs samples through every effect. Processing stops at the first
// error.
func (e *EffectChain) Process(samples []int16) ([]int16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := samples
	for _, effect := range e.effects {
		var err error
		out, err = effect.Process(out)
		if err != nil {
			return nil, fmt.Errorf("effect %s: %w", effect.GetName(), err)
		}
	}
	return out, nil
}

// GetEffectCount returns the number of effects in the chain.
func (e *EffectChain) GetEffectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.effects)
}

// GetEffectNames returns the effect names in processing order.
func (e *EffectChain) GetEffectNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, len(e.effects))
	for i, effect := range e.effects {
		names[i] = effect.GetName()
	}
	return names
}

// Close closes every effect and empties the chain. All close errors are
// reported.
func (e *EffectChain) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for _, effect := range e.effects {
		if err := effect.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "EffectChain.Close",
				"effect":   effect.GetName(),
				"error":    err.Error(),
			}).Warn("Failed to close effect")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	e.effects = nil
	return firstErr
}
