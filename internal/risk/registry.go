// Package risk caches each strategy's current risk level, fed by the risk
// assessment module over the bus.
package risk

import (
	"sync"

	"fincontrol/internal/model/enum"
	"fincontrol/pkg/exception"
)

// Registry is a mutex-guarded map of strategy id to risk level. Strategies
// without an assessment fall back to the configured default level.
type Registry struct {
	mu       sync.RWMutex
	levels   map[int64]enum.RiskLevel
	fallback enum.RiskLevel
}

// NewRegistry creates a registry with the given fallback level.
func NewRegistry(fallback enum.RiskLevel) *Registry {
	if !fallback.IsAvailable() {
		fallback = enum.RiskMedium
	}
	return &Registry{
		levels:   make(map[int64]enum.RiskLevel),
		fallback: fallback,
	}
}

// Level returns the strategy's current risk level.
func (r *Registry) Level(strategyID int64) enum.RiskLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if level, ok := r.levels[strategyID]; ok {
		return level
	}
	return r.fallback
}

// Set records a fresh assessment for the strategy.
func (r *Registry) Set(strategyID int64, level enum.RiskLevel) error {
	if strategyID <= 0 {
		return exception.ErrValidation
	}
	if !level.IsAvailable() {
		return exception.ErrValidation
	}
	r.mu.Lock()
	r.levels[strategyID] = level
	r.mu.Unlock()
	return nil
}
