// Package decision implements the GO/NO-GO decision engine and the
// concurrent event evaluation pipeline.
package decision

import (
	"context"

	"github.com/rallypoint-io/warroom/internal/model"
)

// ResponseModel predicts the probability that outreach triggered by an
// event converts for a candidate. External collaborator; consumed as an
// opaque numeric input behind a bounded timeout.
type ResponseModel interface {
	Probability(ctx context.Context, event model.Event, candidate model.Candidate) (float64, error)
}

// CostModel quotes the per-send cost for a channel. The quote is priced
// against the cost-estimator function parameters from the configuration
// snapshot in force for this evaluation.
type CostModel interface {
	CostPerSend(ctx context.Context, channel string, params model.FunctionParams) (float64, error)
}
