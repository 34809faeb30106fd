package model

import (
	"fmt"
	"time"
)

// Metric names a measurable property of an automated function.
type Metric string

// Metrics the self-correction engine can trigger on.
const (
	MetricQuality       Metric = "quality"
	MetricEffectiveness Metric = "effectiveness"
	MetricLatencyMs     Metric = "latency_ms"
	MetricCost          Metric = "cost"
	MetricErrorRate     Metric = "error_rate"
)

// Measurement is one quality/cost/latency sample for a function, delivered
// by the execution/telemetry collaborator.
type Measurement struct {
	MeasuredAt    time.Time
	Function      string
	Ecosystem     string
	Quality       float64
	Effectiveness float64
	LatencyMs     float64
	Cost          float64
	ErrorRate     float64
	SampleSize    int
}

// Value returns the sample's value for the named metric.
func (m Measurement) Value(metric Metric) (float64, error) {
	switch metric {
	case MetricQuality:
		return m.Quality, nil
	case MetricEffectiveness:
		return m.Effectiveness, nil
	case MetricLatencyMs:
		return m.LatencyMs, nil
	case MetricCost:
		return m.Cost, nil
	case MetricErrorRate:
		return m.ErrorRate, nil
	}
	return 0, fmt.Errorf("unknown metric %q", metric)
}
