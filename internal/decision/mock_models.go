package decision

import (
	"context"
	"sync"

	"github.com/rallypoint-io/warroom/internal/model"
)

// MockResponseModel is a configurable ResponseModel for tests and dry runs.
type MockResponseModel struct {
	Err   error
	Prob  float64
	calls int
	mu    sync.Mutex
}

// Probability implements ResponseModel.
func (m *MockResponseModel) Probability(_ context.Context, _ model.Event, _ model.Candidate) (float64, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Prob, nil
}

// Calls returns how many quotes were requested.
func (m *MockResponseModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockCostModel is a configurable CostModel for tests and dry runs.
type MockCostModel struct {
	Err error
	// PerSend maps channel to quoted cost per send.
	PerSend map[string]float64
	mu      sync.Mutex
	// LastParams captures the parameters the quote was priced against.
	LastParams model.FunctionParams
}

// CostPerSend implements CostModel.
func (m *MockCostModel) CostPerSend(_ context.Context, channel string, params model.FunctionParams) (float64, error) {
	m.mu.Lock()
	m.LastParams = params
	m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	if cost, ok := m.PerSend[channel]; ok {
		return cost, nil
	}
	return 0.10, nil
}
