package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rallypoint-io/warroom/internal/common"
	"github.com/rallypoint-io/warroom/internal/model"
	"github.com/rallypoint-io/warroom/internal/service"
	"golang.org/x/sync/errgroup"
)

// PipelineConfig holds configuration options for the evaluation pipeline.
type PipelineConfig struct {
	// Workers bounds concurrent evaluations per event. Scoring and rule
	// evaluation are stateless, so the only serialization point is the
	// ledger itself.
	Workers int
	// BatchSize bounds how many unprocessed events one run picks up.
	BatchSize int
}

// DefaultPipelineConfig returns the default pipeline configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{Workers: 8, BatchSize: 100}
}

// Stats summarizes one pipeline run.
type Stats struct {
	Events    int
	Evaluated int64
	Go        int64
	NoGo      int64
	Pending   int64
	Failed    int64
}

// Pipeline fans unprocessed events out across active candidates on a
// bounded worker pool.
type Pipeline struct {
	engine  *Engine
	storage service.Storage
	cfg     PipelineConfig
}

// NewPipeline creates an evaluation pipeline.
func NewPipeline(engine *Engine, storage service.Storage, cfg PipelineConfig) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPipelineConfig().Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPipelineConfig().BatchSize
	}
	return &Pipeline{engine: engine, storage: storage, cfg: cfg}
}

// Run evaluates every unprocessed event against every active candidate.
// Each event is marked processed exactly once, after all its evaluations
// finish. Individual evaluation failures are logged and counted, never
// fatal to the run.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	events, err := p.storage.GetUnprocessedEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to load unprocessed events: %w", err)
	}
	if len(events) == 0 {
		slog.Info("No unprocessed events")
		return stats, nil
	}

	candidates, err := p.storage.GetActiveCandidates(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load candidates: %w", err)
	}

	slog.Info("Starting decision pipeline",
		"events", len(events),
		"candidates", len(candidates),
		"workers", p.cfg.Workers)

	for _, event := range events {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		if err := p.runEvent(ctx, event, candidates, &stats); err != nil {
			return stats, err
		}
		stats.Events++
	}

	slog.Info("Decision pipeline complete",
		"events", stats.Events,
		"evaluated", stats.Evaluated,
		"go", stats.Go,
		"no_go", stats.NoGo,
		"pending", stats.Pending,
		"failed", stats.Failed)

	return stats, nil
}

func (p *Pipeline) runEvent(ctx context.Context, event model.Event, candidates []model.Candidate, stats *Stats) error {
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() error {
			decision, err := p.engine.Evaluate(groupCtx, event, candidate)
			if err != nil {
				atomic.AddInt64(&stats.Failed, 1)

				var validation *common.ValidationError
				if errors.As(err, &validation) {
					slog.Warn("Skipping malformed input",
						"event_id", event.ID,
						"candidate_id", candidate.ID,
						"error", err)
					return nil
				}
				if errors.Is(err, context.Canceled) {
					return err
				}
				slog.Error("Evaluation failed",
					"event_id", event.ID,
					"candidate_id", candidate.ID,
					"error", err)
				return nil
			}

			atomic.AddInt64(&stats.Evaluated, 1)
			switch decision.Verdict {
			case model.VerdictGo:
				atomic.AddInt64(&stats.Go, 1)
			case model.VerdictPendingApproval:
				atomic.AddInt64(&stats.Pending, 1)
			default:
				atomic.AddInt64(&stats.NoGo, 1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// unprocessed -> processed exactly once, after every candidate has a
	// persisted decision for this event.
	if err := p.storage.MarkEventProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
	}

	return nil
}
