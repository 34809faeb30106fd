package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CompareOp is the comparison a correction trigger applies to its metric.
type CompareOp string

// Comparison operators.
const (
	OpGreaterThan  CompareOp = "gt"
	OpGreaterEqual CompareOp = "gte"
	OpLessThan     CompareOp = "lt"
	OpLessEqual    CompareOp = "lte"
)

// Violates reports whether value violates the threshold under this operator.
func (op CompareOp) Violates(value, threshold float64) (bool, error) {
	switch op {
	case OpGreaterThan:
		return value > threshold, nil
	case OpGreaterEqual:
		return value >= threshold, nil
	case OpLessThan:
		return value < threshold, nil
	case OpLessEqual:
		return value <= threshold, nil
	}
	return false, fmt.Errorf("unknown comparison operator %q", op)
}

// Guardrails are hard floors and ceilings a correction may never cross.
// Zero-valued ceilings are treated as unset.
type Guardrails struct {
	QualityFloor       float64 `json:"quality_floor"`
	EffectivenessFloor float64 `json:"effectiveness_floor"`
	CostCeiling        float64 `json:"cost_ceiling"`
	LatencyCeilingMs   float64 `json:"latency_ceiling_ms"`
}

// RateLimits bound how often one rule may apply corrections.
type RateLimits struct {
	Cooldown           time.Duration `json:"cooldown"`
	MaxPerHour         int           `json:"max_per_hour"`
	MaxPerDay          int           `json:"max_per_day"`
}

// Trigger defines when a correction rule fires: the metric must violate the
// threshold continuously for ThresholdDuration and across at least
// ConsecutiveViolations samples.
type Trigger struct {
	ThresholdDuration     time.Duration `json:"threshold_duration"`
	Metric                Metric        `json:"metric"`
	Op                    CompareOp     `json:"op"`
	Threshold             float64       `json:"threshold"`
	ConsecutiveViolations int           `json:"consecutive_violations"`
}

// CorrectionRule is an operator-authored policy scoped to one function or a
// whole ecosystem.
type CorrectionRule struct {
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Name                string
	Function            string
	Ecosystem           string
	Trigger             Trigger
	Action              Action
	Guardrails          Guardrails
	RateLimits          RateLimits
	AutoRollbackAfter   time.Duration
	ID                  int64
	RequiresApproval    bool
	Active              bool
}

// AppliesTo reports whether the rule's scope covers the given measurement.
// A rule scoped to a function matches that function only; a rule scoped to
// an ecosystem matches every function in it.
func (r *CorrectionRule) AppliesTo(m Measurement) bool {
	if r.Function != "" {
		return r.Function == m.Function
	}
	if r.Ecosystem != "" {
		return r.Ecosystem == m.Ecosystem
	}
	return false
}

// Validate ensures a rule is well formed before it is stored or evaluated.
func (r *CorrectionRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Function == "" && r.Ecosystem == "" {
		return fmt.Errorf("rule requires a function or ecosystem scope")
	}
	if _, err := (Measurement{}).Value(r.Trigger.Metric); err != nil {
		return err
	}
	if _, err := r.Trigger.Op.Violates(0, 0); err != nil {
		return err
	}
	if r.Trigger.ConsecutiveViolations < 1 {
		return fmt.Errorf("consecutive violations must be at least 1")
	}
	if r.Action == nil {
		return fmt.Errorf("rule requires a correction action")
	}
	return nil
}

// CorrectionStatus tracks the lifecycle of one correction application.
type CorrectionStatus string

// Correction statuses. Pending corrections resolve to applied, blocked, or
// expired; applied corrections may later become rolled_back. History is
// append-only.
const (
	CorrectionPending    CorrectionStatus = "pending"
	CorrectionApplied    CorrectionStatus = "applied"
	CorrectionBlocked    CorrectionStatus = "blocked"
	CorrectionRolledBack CorrectionStatus = "rolled_back"
	CorrectionExpired    CorrectionStatus = "expired"
)

// WindowStats summarizes the metric over the violation window that fired a
// rule.
type WindowStats struct {
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// CorrectionEvent records one application of a CorrectionRule: parameter
// and metric snapshots before and after, status, and any approval. Append
// only; rollback transitions status but never deletes history.
type CorrectionEvent struct {
	TriggeredAt    time.Time
	AppliedAt      time.Time
	RollbackDueAt  time.Time
	ResolvedAt     time.Time
	PendingExpires time.Time
	ID             string
	RuleID         int64
	RuleName       string
	Function       string
	Status         CorrectionStatus
	Reason         string
	Action         Action
	ParamsBefore   FunctionParams
	ParamsAfter    FunctionParams
	MetricsBefore  Measurement
	MetricsAfter   *Measurement
	Window         WindowStats
	Approval       *Approval
}

// FunctionParams is the tunable configuration of one automated function.
// Corrections snapshot and mutate these; the decision engine's cost
// estimation reads them through versioned config snapshots.
type FunctionParams struct {
	Model     string             `json:"model"`
	Params    map[string]float64 `json:"params"`
	RateLimit float64            `json:"rate_limit"`
	Enabled   bool               `json:"enabled"`
}

// Clone returns a deep copy so snapshots stay immutable.
func (p FunctionParams) Clone() FunctionParams {
	out := p
	out.Params = make(map[string]float64, len(p.Params))
	for k, v := range p.Params {
		out.Params[k] = v
	}
	return out
}

// Equal reports whether two parameter sets are identical.
func (p FunctionParams) Equal(other FunctionParams) bool {
	if p.Model != other.Model || p.RateLimit != other.RateLimit || p.Enabled != other.Enabled {
		return false
	}
	if len(p.Params) != len(other.Params) {
		return false
	}
	for k, v := range p.Params {
		if ov, ok := other.Params[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ActionKind tags the concrete correction action variants.
type ActionKind string

// Action kinds.
const (
	KindAdjustParameter ActionKind = "adjust_parameter"
	KindSwapModel       ActionKind = "swap_model"
	KindThrottleRate    ActionKind = "throttle_rate"
	KindDisableFunction ActionKind = "disable_function"
)

// Action is the closed set of bounded, reversible corrections. Each variant
// applies to a parameter snapshot and returns the mutated copy; guardrail
// checks run against the projection before anything is committed.
type Action interface {
	Kind() ActionKind
	Apply(p FunctionParams) FunctionParams
	Describe() string
}

// AdjustParameter shifts one numeric parameter by a fixed delta.
type AdjustParameter struct {
	Name  string  `json:"name"`
	Delta float64 `json:"delta"`
}

// Kind implements Action.
func (a AdjustParameter) Kind() ActionKind { return KindAdjustParameter }

// Apply implements Action.
func (a AdjustParameter) Apply(p FunctionParams) FunctionParams {
	out := p.Clone()
	out.Params[a.Name] += a.Delta
	return out
}

// Describe implements Action.
func (a AdjustParameter) Describe() string {
	return fmt.Sprintf("adjust %s by %+g", a.Name, a.Delta)
}

// SwapModel switches the function to a different underlying model.
type SwapModel struct {
	To string `json:"to"`
}

// Kind implements Action.
func (a SwapModel) Kind() ActionKind { return KindSwapModel }

// Apply implements Action.
func (a SwapModel) Apply(p FunctionParams) FunctionParams {
	out := p.Clone()
	out.Model = a.To
	return out
}

// Describe implements Action.
func (a SwapModel) Describe() string { return fmt.Sprintf("swap model to %s", a.To) }

// ThrottleRate multiplies the function's rate limit by a factor in (0, 1].
type ThrottleRate struct {
	Factor float64 `json:"factor"`
}

// Kind implements Action.
func (a ThrottleRate) Kind() ActionKind { return KindThrottleRate }

// Apply implements Action.
func (a ThrottleRate) Apply(p FunctionParams) FunctionParams {
	out := p.Clone()
	out.RateLimit *= a.Factor
	return out
}

// Describe implements Action.
func (a ThrottleRate) Describe() string { return fmt.Sprintf("throttle rate by %g", a.Factor) }

// DisableFunction turns the function off entirely.
type DisableFunction struct{}

// Kind implements Action.
func (a DisableFunction) Kind() ActionKind { return KindDisableFunction }

// Apply implements Action.
func (a DisableFunction) Apply(p FunctionParams) FunctionParams {
	out := p.Clone()
	out.Enabled = false
	return out
}

// Describe implements Action.
func (a DisableFunction) Describe() string { return "disable function" }

// actionEnvelope is the tagged JSON form actions are stored in.
type actionEnvelope struct {
	Kind ActionKind      `json:"kind"`
	Spec json.RawMessage `json:"spec"`
}

// MarshalAction encodes an action with its kind tag for storage.
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("nil action")
	}
	spec, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action spec: %w", err)
	}
	return json.Marshal(actionEnvelope{Kind: a.Kind(), Spec: spec})
}

// UnmarshalAction decodes a stored action back to its concrete variant.
func UnmarshalAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action envelope: %w", err)
	}
	switch env.Kind {
	case KindAdjustParameter:
		var a AdjustParameter
		if err := json.Unmarshal(env.Spec, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindSwapModel:
		var a SwapModel
		if err := json.Unmarshal(env.Spec, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindThrottleRate:
		var a ThrottleRate
		if err := json.Unmarshal(env.Spec, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindDisableFunction:
		return DisableFunction{}, nil
	}
	return nil, fmt.Errorf("unknown action kind %q", env.Kind)
}
