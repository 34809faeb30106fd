package correction

import (
	"github.com/rallypoint-io/warroom/internal/common"
	"github.com/rallypoint-io/warroom/internal/model"
)

// projectCost estimates the function's cost after the action is applied,
// from the latest measured baseline. The switch is exhaustive over the
// closed action set.
func projectCost(action model.Action, baseline float64) float64 {
	switch a := action.(type) {
	case model.ThrottleRate:
		return baseline * a.Factor
	case model.DisableFunction:
		return 0
	case model.AdjustParameter, model.SwapModel:
		return baseline
	default:
		return baseline
	}
}

// projectLatency estimates latency after the action is applied.
func projectLatency(action model.Action, baseline float64) float64 {
	switch action.(type) {
	case model.DisableFunction:
		return 0
	case model.ThrottleRate, model.AdjustParameter, model.SwapModel:
		return baseline
	default:
		return baseline
	}
}

// checkGuardrails verifies that applying the action would not itself push
// projected cost or latency over the rule's ceilings. A violation blocks
// the action rather than applying it.
func checkGuardrails(rule *model.CorrectionRule, action model.Action, baseline model.Measurement) error {
	g := rule.Guardrails

	if g.CostCeiling > 0 {
		projected := projectCost(action, baseline.Cost)
		if projected > g.CostCeiling {
			return &common.GuardrailViolationError{
				Guardrail: "cost_ceiling",
				Projected: projected,
				Limit:     g.CostCeiling,
			}
		}
	}

	if g.LatencyCeilingMs > 0 {
		projected := projectLatency(action, baseline.LatencyMs)
		if projected > g.LatencyCeilingMs {
			return &common.GuardrailViolationError{
				Guardrail: "latency_ceiling",
				Projected: projected,
				Limit:     g.LatencyCeilingMs,
			}
		}
	}

	return nil
}
