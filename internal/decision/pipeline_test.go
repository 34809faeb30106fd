package decision

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallypoint-io/warroom/internal/model"
	"github.com/rallypoint-io/warroom/internal/testutil"
)

func TestPipelineRun(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	var events []model.Event
	for i := range 3 {
		events = append(events, testutil.NewTestEvent(fmt.Sprintf("evt-%d", i)))
	}
	require.NoError(t, f.store.SaveEvents(ctx, events))

	var candidates []model.Candidate
	for i := range 2 {
		candidate := testutil.NewTestCandidate(fmt.Sprintf("cand-%d", i))
		require.NoError(t, f.store.SaveCandidate(ctx, &candidate))
		candidates = append(candidates, candidate)
	}

	for _, event := range events {
		for _, candidate := range candidates {
			f.seedBudgets(t, event, candidate, 100000)
		}
	}

	pipeline := NewPipeline(f.engine, f.store, PipelineConfig{Workers: 4, BatchSize: 10})
	stats, err := pipeline.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Events)
	assert.Equal(t, int64(6), stats.Evaluated)
	assert.Equal(t, int64(6), stats.Go)
	assert.Zero(t, stats.Failed)

	// Every event transitioned to processed.
	remaining, err := f.store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// Each pair has exactly one decision.
	for _, event := range events {
		for _, candidate := range candidates {
			decision, getErr := f.store.GetDecision(ctx, event.ID, candidate.ID)
			require.NoError(t, getErr)
			assert.Equal(t, model.VerdictGo, decision.Verdict)
		}
	}
}

func TestPipelineRerunIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	event := testutil.NewTestEvent("evt-1")
	require.NoError(t, f.store.SaveEvents(ctx, []model.Event{event}))
	candidate := testutil.NewTestCandidate("cand-1")
	require.NoError(t, f.store.SaveCandidate(ctx, &candidate))
	path := f.seedBudgets(t, event, candidate, 10000)

	pipeline := NewPipeline(f.engine, f.store, DefaultPipelineConfig())

	_, err := pipeline.Run(ctx)
	require.NoError(t, err)

	// A second run sees no unprocessed events and spends nothing more.
	stats, err := pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Events)

	tierNode, ok := f.ledger.Node(path.Key(model.LevelTier))
	require.True(t, ok)
	assert.InDelta(t, 500.0, tierNode.Actual, 0.001)
}

func TestPipelineEmptyBatch(t *testing.T) {
	f := newEngineFixture(t)

	pipeline := NewPipeline(f.engine, f.store, DefaultPipelineConfig())
	stats, err := pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Events)
	assert.Zero(t, stats.Evaluated)
}
