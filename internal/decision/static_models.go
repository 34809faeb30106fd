package decision

import (
	"context"
	"fmt"

	"github.com/rallypoint-io/warroom/internal/model"
)

// StaticResponseModel predicts a flat conversion probability, scaled up for
// more urgent events. Stands in when the hosted response model is not
// configured.
type StaticResponseModel struct {
	// BaseProbability is the probability for standard-urgency events.
	BaseProbability float64
}

// Probability implements ResponseModel.
func (m StaticResponseModel) Probability(_ context.Context, event model.Event, _ model.Candidate) (float64, error) {
	p := m.BaseProbability
	switch event.Urgency {
	case model.UrgencyImmediate:
		p *= 1.5
	case model.UrgencyHigh:
		p *= 1.2
	case model.UrgencyLow:
		p *= 0.8
	}
	if p > 1 {
		p = 1
	}
	return p, nil
}

// ConfigCostModel quotes per-send cost from the cost-estimator function
// parameters: "rate_<channel>" when present, "base_rate" otherwise. Quoting
// from the snapshot keeps pricing consistent with the configuration version
// recorded on the decision.
type ConfigCostModel struct{}

// CostPerSend implements CostModel.
func (ConfigCostModel) CostPerSend(_ context.Context, channel string, params model.FunctionParams) (float64, error) {
	if !params.Enabled {
		return 0, fmt.Errorf("cost estimator is disabled")
	}
	if rate, ok := params.Params["rate_"+channel]; ok {
		return rate, nil
	}
	if rate, ok := params.Params["base_rate"]; ok {
		return rate, nil
	}
	return 0, fmt.Errorf("no cost rate configured for channel %s", channel)
}
