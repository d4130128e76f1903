package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrortrader/internal/domain"
	"mirrortrader/internal/events"
)

type executedCall struct {
	action domain.TradeAction
	symbol string
	price  float64
	shares int64
}

type fakeExecutor struct {
	mu        sync.Mutex
	calls     []executedCall
	available map[string]int64
	err       error
}

func (f *fakeExecutor) Buy(symbol string, price float64, shares int64) error {
	return f.record(domain.ActionBuy, symbol, price, shares)
}

func (f *fakeExecutor) Sell(symbol string, price float64, shares int64) error {
	return f.record(domain.ActionSell, symbol, price, shares)
}

func (f *fakeExecutor) record(action domain.TradeAction, symbol string, price float64, shares int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, executedCall{action: action, symbol: symbol, price: price, shares: shares})
	return nil
}

func (f *fakeExecutor) AvailableShares(symbol string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available[symbol], nil
}

func (f *fakeExecutor) executed() []executedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executedCall(nil), f.calls...)
}

func newTestDispatcher(cfg Config, executor domain.ExecutionAdapter) (*Dispatcher, *events.Bus) {
	bus := events.NewBus(zerolog.Nop())
	manager := events.NewManager(bus, zerolog.Nop())
	return NewDispatcher(cfg, executor, manager, zerolog.Nop()), bus
}

func freshInstruction(action domain.TradeAction, symbol string, shares int64, price float64) domain.TradeInstruction {
	return domain.TradeInstruction{
		Portfolio: "ZH123456",
		Symbol:    symbol,
		Action:    action,
		Shares:    shares,
		Price:     price,
		Timestamp: time.Now(),
	}
}

func TestExecuteAppliesSlippage(t *testing.T) {
	executor := &fakeExecutor{}
	dispatcher, _ := newTestDispatcher(Config{Slippage: 0.01}, executor)

	dispatcher.execute(freshInstruction(domain.ActionBuy, "SH600000", 500, 10))
	dispatcher.execute(freshInstruction(domain.ActionSell, "SZ000001", 200, 20))

	calls := executor.executed()
	require.Len(t, calls, 2)
	assert.InDelta(t, 10.1, calls[0].price, 1e-9)
	assert.InDelta(t, 19.8, calls[1].price, 1e-9)
}

func TestExpiredInstructionDiscarded(t *testing.T) {
	executor := &fakeExecutor{}
	dispatcher, bus := newTestDispatcher(Config{ExpireSeconds: 120}, executor)

	var expired []*events.Event
	bus.Subscribe(events.InstructionExpired, func(event *events.Event) {
		expired = append(expired, event)
	})

	// Age exactly at the bound is already expired
	instruction := freshInstruction(domain.ActionBuy, "SH600000", 500, 10)
	instruction.Timestamp = time.Now().Add(-120 * time.Second)
	dispatcher.now = func() time.Time { return instruction.Timestamp.Add(120 * time.Second) }

	dispatcher.execute(instruction)

	assert.Empty(t, executor.executed())
	require.Len(t, expired, 1)

	data, ok := expired[0].GetTypedData().(*events.InstructionExpiredData)
	require.True(t, ok)
	assert.InDelta(t, 120, data.AgeSeconds, 0.1)
}

func TestAdjustSellSkipsWithoutPosition(t *testing.T) {
	executor := &fakeExecutor{available: map[string]int64{}}
	dispatcher, bus := newTestDispatcher(Config{AdjustSell: true}, executor)

	var skipped []*events.Event
	bus.Subscribe(events.TradeSkipped, func(event *events.Event) {
		skipped = append(skipped, event)
	})

	dispatcher.execute(freshInstruction(domain.ActionSell, "SH600000", 500, 10))

	assert.Empty(t, executor.executed())
	require.Len(t, skipped, 1)
	data, ok := skipped[0].GetTypedData().(*events.TradeEventData)
	require.True(t, ok)
	assert.Equal(t, "no position held", data.Detail)
}

func TestAdjustSellCapsAtHeldLots(t *testing.T) {
	executor := &fakeExecutor{available: map[string]int64{"SH600000": 380}}
	dispatcher, _ := newTestDispatcher(Config{AdjustSell: true}, executor)

	dispatcher.execute(freshInstruction(domain.ActionSell, "SH600000", 500, 10))

	calls := executor.executed()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(300), calls[0].shares)
}

func TestFailureIsContained(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("资金不足")}
	dispatcher, bus := newTestDispatcher(Config{}, executor)

	var failed []*events.Event
	bus.Subscribe(events.TradeFailed, func(event *events.Event) {
		failed = append(failed, event)
	})

	dispatcher.execute(freshInstruction(domain.ActionBuy, "SH600000", 500, 10))
	require.Len(t, failed, 1)

	// Next instruction still executes
	executor.err = nil
	dispatcher.execute(freshInstruction(domain.ActionBuy, "SZ000001", 200, 12))
	assert.Len(t, executor.executed(), 1)
}

func TestDispatcherDrainsQueueInOrder(t *testing.T) {
	executor := &fakeExecutor{}
	dispatcher, bus := newTestDispatcher(Config{}, executor)

	done := make(chan struct{}, 2)
	bus.Subscribe(events.TradeExecuted, func(event *events.Event) {
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	dispatcher.Enqueue(freshInstruction(domain.ActionSell, "SH600000", 300, 10))
	dispatcher.Enqueue(freshInstruction(domain.ActionBuy, "SZ000001", 200, 12))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for execution")
		}
	}

	calls := executor.executed()
	require.Len(t, calls, 2)
	assert.Equal(t, "SH600000", calls[0].symbol)
	assert.Equal(t, "SZ000001", calls[1].symbol)

	cancel()
	dispatcher.Wait()
}
