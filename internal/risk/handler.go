package risk

import (
	"context"

	"fincontrol/internal/bus"
	"fincontrol/internal/obs"

	"github.com/yanun0323/logs"
)

// Handler builds the RISK_ASSESSMENT_RESULT bus handler feeding the registry.
func Handler(reg *Registry, metrics *obs.Metrics) bus.Handler {
	return func(_ context.Context, m bus.Message) {
		metrics.IncMessageIn(string(m.Type))
		decoded, err := bus.DecodePayload(m)
		if err != nil {
			logs.Warnf("decode risk assessment from %s: %v", m.Source, err)
			return
		}
		result, ok := decoded.(bus.RiskAssessmentResult)
		if !ok {
			logs.Warnf("unexpected risk payload %T from %s", decoded, m.Source)
			return
		}
		if err := reg.Set(result.StrategyID, result.RiskLevel); err != nil {
			logs.Warnf("risk assessment for strategy %d from %s rejected: %v", result.StrategyID, m.Source, err)
			return
		}
		logs.Infof("strategy %d risk level set to %s by %s", result.StrategyID, result.RiskLevel, result.AssessedBy)
	}
}
