package model

import "fincontrol/internal/model/enum"

// RiskTier is the per-level allocation ceiling and ratio cap.
type RiskTier struct {
	MaxAllocation Amount  `json:"maxAllocation"`
	MaxRatio      float64 `json:"maxRatio"`
}

// RiskTierTable maps risk levels to their tier limits.
type RiskTierTable map[enum.RiskLevel]RiskTier

// Tier looks up the limits for a level.
func (t RiskTierTable) Tier(level enum.RiskLevel) (RiskTier, bool) {
	tier, ok := t[level]
	return tier, ok
}
