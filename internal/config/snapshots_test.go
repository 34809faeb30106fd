package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallypoint-io/warroom/internal/model"
)

func TestUpdateFunctionPublishesNewVersion(t *testing.T) {
	store := NewStore(DefaultThresholds(), map[string]model.FunctionParams{
		"cost_estimator": {Model: "v1", Params: map[string]float64{"base_rate": 0.10}, Enabled: true},
	})

	first := store.Current()
	assert.Equal(t, int64(1), first.Version)

	updated, err := store.UpdateFunction("cost_estimator", model.FunctionParams{
		Model:   "v2",
		Params:  map[string]float64{"base_rate": 0.08},
		Enabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// The old snapshot is untouched; a reader holding it sees v1 values.
	params, ok := first.Function("cost_estimator")
	require.True(t, ok)
	assert.Equal(t, "v1", params.Model)
	assert.InDelta(t, 0.10, params.Params["base_rate"], 0.0001)

	params, ok = store.Current().Function("cost_estimator")
	require.True(t, ok)
	assert.Equal(t, "v2", params.Model)
}

func TestSnapshotsAreIsolatedFromCallerMutation(t *testing.T) {
	seed := map[string]model.FunctionParams{
		"cost_estimator": {Params: map[string]float64{"base_rate": 0.10}, Enabled: true},
	}
	store := NewStore(DefaultThresholds(), seed)

	// Mutating the seed map after construction changes nothing.
	seed["cost_estimator"].Params["base_rate"] = 99

	params, ok := store.Current().Function("cost_estimator")
	require.True(t, ok)
	assert.InDelta(t, 0.10, params.Params["base_rate"], 0.0001)
}

func TestUpdateFunctionRequiresName(t *testing.T) {
	store := NewStore(DefaultThresholds(), nil)
	_, err := store.UpdateFunction("", model.FunctionParams{})
	assert.Error(t, err)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	store := NewStore(DefaultThresholds(), map[string]model.FunctionParams{
		"cost_estimator": {Params: map[string]float64{"base_rate": 0.10}, Enabled: true},
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := store.UpdateFunction("cost_estimator", model.FunctionParams{
					Params:  map[string]float64{"base_rate": 0.10},
					Enabled: true,
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := store.Current()
				if _, ok := snap.Function("cost_estimator"); !ok {
					t.Error("function missing from snapshot")
					return
				}
			}
		}()
	}
	wg.Wait()

	// Every write produced exactly one version.
	assert.Equal(t, int64(1+8*50), store.Current().Version)
}

func TestSetThresholds(t *testing.T) {
	store := NewStore(DefaultThresholds(), nil)

	thresholds := DefaultThresholds()
	thresholds.RelevanceThreshold = 80
	snap := store.SetThresholds(thresholds)

	assert.Equal(t, int64(2), snap.Version)
	assert.InDelta(t, 80.0, store.Current().Thresholds.RelevanceThreshold, 0.001)
}
