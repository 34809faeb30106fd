package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/rallypoint-io/warroom/internal/config"
	"github.com/rallypoint-io/warroom/internal/correction"
	"github.com/rallypoint-io/warroom/internal/decision"
	"github.com/rallypoint-io/warroom/internal/ledger"
	"github.com/rallypoint-io/warroom/internal/model"
	"github.com/rallypoint-io/warroom/internal/storage"
)

// openStorage opens the configured database and verifies its schema.
func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "~/.local/share/warroom/warroom.db"
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// loadThresholds reads decision thresholds from configuration, falling back
// to the defaults for anything unset.
func loadThresholds() config.Thresholds {
	thresholds := config.DefaultThresholds()
	if v := viper.GetFloat64("decision.relevance_threshold"); v > 0 {
		thresholds.RelevanceThreshold = v
	}
	if v := viper.GetFloat64("decision.roi_threshold"); v > 0 {
		thresholds.ROIRatioThreshold = v
	}
	if v := viper.GetDuration("decision.reservation_ttl"); v > 0 {
		thresholds.ReservationTTL = v
	}
	if v := viper.GetDuration("decision.approval_ttl"); v > 0 {
		thresholds.ApprovalTTL = v
	}
	return thresholds
}

// newConfigStore seeds the snapshot store from configuration: thresholds
// plus the cost-estimator function parameters.
func newConfigStore() *config.Store {
	params := map[string]float64{"base_rate": 0.10}
	for channel, rate := range viper.GetStringMap("cost.rates") {
		if v, ok := rate.(float64); ok {
			params["rate_"+channel] = v
		}
	}
	if v := viper.GetFloat64("cost.base_rate"); v > 0 {
		params["base_rate"] = v
	}

	functions := map[string]model.FunctionParams{
		decision.CostFunctionName: {
			Model:   "static-rates",
			Params:  params,
			Enabled: true,
		},
	}
	return config.NewStore(loadThresholds(), functions)
}

// newDecisionEngine wires storage, ledger, config, and the external models
// into a ready decision engine.
func newDecisionEngine(ctx context.Context, store *storage.SQLiteStorage, configs *config.Store) (*decision.Engine, *ledger.Ledger, error) {
	budget := ledger.New(store, ledger.Config{
		ReservationTTL: configs.Current().Thresholds.ReservationTTL,
	})
	if err := budget.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	responses := decision.StaticResponseModel{
		BaseProbability: viper.GetFloat64("response.base_probability"),
	}
	if responses.BaseProbability <= 0 {
		responses.BaseProbability = 0.02
	}

	cfg := decision.DefaultConfig()
	if v := viper.GetInt("decision.audience_size"); v > 0 {
		cfg.AudienceSize = v
	}
	if v := viper.GetFloat64("decision.average_gift"); v > 0 {
		cfg.AverageGift = v
	}
	if v := viper.GetDuration("decision.external_timeout"); v > 0 {
		cfg.ExternalTimeout = v
	}

	engine := decision.New(store, budget, configs, decision.ConfigCostModel{}, responses, cfg)
	return engine, budget, nil
}

// newCorrectionEngine wires the self-correction loop against the same
// snapshot store the decision engine reads.
func newCorrectionEngine(store *storage.SQLiteStorage, configs *config.Store) *correction.Engine {
	return correction.New(store, configs)
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", value, err)
	}
	return day, nil
}
