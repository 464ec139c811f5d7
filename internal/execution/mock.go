package execution

import (
	"context"
	"sync"

	"trade_copier/internal/domain"
	"trade_copier/pkg/quant"
)

// CloseCall records one ClosePosition invocation on the mock.
type CloseCall struct {
	PositionID int64
	Volume     quant.LotMicros
}

type scriptedResult struct {
	out domain.OrderOutcome
	err error
}

// MockClient is a scripted TradeClient for tests. Results are consumed
// in FIFO order; with an empty script every call is accepted and gets
// a fresh position id.
type MockClient struct {
	mu sync.Mutex

	Orders []domain.OrderRequest
	Closes []CloseCall

	orderScript []scriptedResult
	closeScript []scriptedResult
	nextID      int64
}

// NewMockClient returns a mock whose generated position ids start at 9000.
func NewMockClient() *MockClient {
	return &MockClient{nextID: 9000}
}

// ScriptOrder enqueues the result of the next SendMarketOrder call.
func (m *MockClient) ScriptOrder(out domain.OrderOutcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderScript = append(m.orderScript, scriptedResult{out, err})
}

// ScriptClose enqueues the result of the next ClosePosition call.
func (m *MockClient) ScriptClose(out domain.OrderOutcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeScript = append(m.closeScript, scriptedResult{out, err})
}

func (m *MockClient) SendMarketOrder(_ context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders = append(m.Orders, req)

	if len(m.orderScript) > 0 {
		r := m.orderScript[0]
		m.orderScript = m.orderScript[1:]
		return r.out, r.err
	}
	m.nextID++
	return domain.OrderOutcome{Accepted: true, SlavePositionID: m.nextID}, nil
}

func (m *MockClient) ClosePosition(_ context.Context, positionID int64, volume quant.LotMicros) (domain.OrderOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closes = append(m.Closes, CloseCall{PositionID: positionID, Volume: volume})

	if len(m.closeScript) > 0 {
		r := m.closeScript[0]
		m.closeScript = m.closeScript[1:]
		return r.out, r.err
	}
	return domain.OrderOutcome{Accepted: true, SlavePositionID: positionID}, nil
}

// OrderCount returns how many market orders the mock has seen.
func (m *MockClient) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Orders)
}
