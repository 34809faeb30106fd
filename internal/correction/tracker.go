package correction

import (
	"fmt"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rallypoint-io/warroom/internal/model"
)

// streak tracks one rule's continuous violation run against one function.
type streak struct {
	samples []sample
}

type sample struct {
	at    time.Time
	value float64
}

// tracker keeps per-(rule, function) violation streaks. A non-violating
// sample resets the streak.
type tracker struct {
	streaks map[string]*streak
	mu      sync.Mutex
}

func newTracker() *tracker {
	return &tracker{streaks: make(map[string]*streak)}
}

func streakKey(ruleID int64, function string) string {
	return fmt.Sprintf("%d:%s", ruleID, function)
}

// observe records one sample and reports whether the rule's trigger fires.
// The trigger fires when the streak holds at least ConsecutiveViolations
// samples and has covered ThresholdDuration. Each sample is credited with
// the streak's average inter-sample spacing, so three violations four
// minutes apart cover twelve minutes, not eight.
func (t *tracker) observe(rule *model.CorrectionRule, function string, at time.Time, value float64, violates bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := streakKey(rule.ID, function)

	if !violates {
		delete(t.streaks, key)
		return false
	}

	s, ok := t.streaks[key]
	if !ok {
		s = &streak{}
		t.streaks[key] = s
	}
	s.samples = append(s.samples, sample{at: at, value: value})

	if len(s.samples) < rule.Trigger.ConsecutiveViolations {
		return false
	}

	return s.covered(at) >= rule.Trigger.ThresholdDuration
}

// covered returns the time span the streak's samples account for.
func (s *streak) covered(now time.Time) time.Duration {
	if len(s.samples) == 0 {
		return 0
	}
	elapsed := now.Sub(s.samples[0].at)
	if len(s.samples) > 1 {
		spacing := elapsed / time.Duration(len(s.samples)-1)
		return elapsed + spacing
	}
	return elapsed
}

// windowStats summarizes the streak's metric values and clears the streak.
func (t *tracker) windowStats(ruleID int64, function string) model.WindowStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := streakKey(ruleID, function)
	s, ok := t.streaks[key]
	if !ok || len(s.samples) == 0 {
		return model.WindowStats{}
	}

	values := make([]float64, len(s.samples))
	for i, smp := range s.samples {
		values[i] = smp.value
	}

	mean, _ := stats.Mean(values)
	median, _ := stats.Median(values)
	max, _ := stats.Max(values)

	delete(t.streaks, key)

	return model.WindowStats{
		Mean:    mean,
		Median:  median,
		Max:     max,
		Samples: len(values),
	}
}

// reset clears one streak without summarizing it.
func (t *tracker) reset(ruleID int64, function string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streaks, streakKey(ruleID, function))
}
