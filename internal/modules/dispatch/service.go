// Package dispatch owns the trade execution path: a single consumer drains
// the instruction queue and drives the execution adapter, so trades for one
// account are always serialized.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mirrortrader/internal/domain"
	"mirrortrader/internal/events"
)

// Config controls dispatcher behavior
type Config struct {
	// ExpireSeconds discards instructions whose age reached this bound.
	// Zero disables expiry.
	ExpireSeconds int

	// Slippage widens the limit price: buys pay price*(1+s), sells accept
	// price*(1-s).
	Slippage float64

	// AdjustSell caps sell instructions at the shares actually held,
	// floored to the 100-share lot. Without it an oversized sell is
	// submitted as-is and rejected upstream.
	AdjustSell bool
}

// Dispatcher consumes trade instructions and executes them one at a time.
// Producers deduplicate before enqueueing; the dispatcher only expires,
// prices and submits.
type Dispatcher struct {
	cfg      Config
	executor domain.ExecutionAdapter
	events   *events.Manager
	queue    *instructionQueue
	log      zerolog.Logger

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup

	now func() time.Time
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(cfg Config, executor domain.ExecutionAdapter, eventManager *events.Manager, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		executor: executor,
		events:   eventManager,
		queue:    newInstructionQueue(),
		log:      log.With().Str("service", "dispatch").Logger(),
		now:      time.Now,
	}
}

// Enqueue adds an instruction to the execution queue. Never blocks.
func (d *Dispatcher) Enqueue(instruction domain.TradeInstruction) {
	d.queue.push(instruction)
	d.events.EmitTyped("dispatch", &events.SignalQueuedData{
		Portfolio: instruction.Portfolio,
		Symbol:    instruction.Symbol,
		Action:    string(instruction.Action),
		Shares:    instruction.Shares,
		Price:     instruction.Price,
		Reason:    instruction.Reason,
	})
}

// QueueDepth returns the number of pending instructions
func (d *Dispatcher) QueueDepth() int {
	return d.queue.size()
}

// Start launches the executor goroutine. It drains until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		d.log.Warn().Msg("Dispatcher already started, ignoring")
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
	d.log.Info().Msg("Dispatcher started")
}

// Wait blocks until the executor goroutine has exited
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		instruction, ok := d.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.queue.wait():
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		d.execute(instruction)
	}
}

// execute runs one instruction end to end. Failures are contained: they are
// logged and emitted, never propagated into the consumer loop.
func (d *Dispatcher) execute(instruction domain.TradeInstruction) {
	if d.expired(instruction) {
		return
	}

	shares := instruction.Shares
	if instruction.Action == domain.ActionSell && d.cfg.AdjustSell {
		adjusted, ok := d.adjustSellShares(instruction)
		if !ok {
			return
		}
		shares = adjusted
	}

	price := d.limitPrice(instruction)

	var err error
	switch instruction.Action {
	case domain.ActionSell:
		err = d.executor.Sell(instruction.Symbol, price, shares)
	default:
		err = d.executor.Buy(instruction.Symbol, price, shares)
	}
	if err != nil {
		d.fail(instruction, err)
		return
	}

	d.log.Info().
		Str("portfolio", instruction.Portfolio).
		Str("symbol", instruction.Symbol).
		Str("action", string(instruction.Action)).
		Int64("shares", shares).
		Float64("price", price).
		Msg("Trade executed")

	d.events.EmitTyped("dispatch", &events.TradeEventData{
		Kind:      events.TradeExecuted,
		Portfolio: instruction.Portfolio,
		Symbol:    instruction.Symbol,
		Action:    string(instruction.Action),
		Shares:    shares,
		Price:     price,
	})
}

// expired discards instructions whose age reached the expiry bound
func (d *Dispatcher) expired(instruction domain.TradeInstruction) bool {
	if d.cfg.ExpireSeconds <= 0 {
		return false
	}
	age := d.now().Sub(instruction.Timestamp).Seconds()
	if age < float64(d.cfg.ExpireSeconds) {
		return false
	}

	d.log.Warn().
		Err(domain.ErrInstructionExpired).
		Str("symbol", instruction.Symbol).
		Str("action", string(instruction.Action)).
		Float64("age_seconds", age).
		Msg("Discarding instruction")

	d.events.EmitTyped("dispatch", &events.InstructionExpiredData{
		Portfolio:  instruction.Portfolio,
		Symbol:     instruction.Symbol,
		Action:     string(instruction.Action),
		Shares:     instruction.Shares,
		AgeSeconds: age,
	})
	return true
}

// adjustSellShares caps a sell at the position actually held, floored to
// the 100-share lot. Returns ok=false when the sell must be skipped.
func (d *Dispatcher) adjustSellShares(instruction domain.TradeInstruction) (int64, bool) {
	available, err := d.executor.AvailableShares(instruction.Symbol)
	if err != nil {
		d.fail(instruction, err)
		return 0, false
	}

	if available <= 0 {
		d.skip(instruction, "no position held")
		return 0, false
	}
	if available >= instruction.Shares {
		return instruction.Shares, true
	}

	adjusted := available / 100 * 100
	if adjusted <= 0 {
		d.skip(instruction, "held position below one lot")
		return 0, false
	}

	d.log.Info().
		Str("symbol", instruction.Symbol).
		Int64("requested", instruction.Shares).
		Int64("adjusted", adjusted).
		Msg("Sell size capped at held position")
	return adjusted, true
}

// limitPrice applies slippage to the instruction price
func (d *Dispatcher) limitPrice(instruction domain.TradeInstruction) float64 {
	if d.cfg.Slippage == 0 {
		return instruction.Price
	}
	if instruction.Action == domain.ActionSell {
		return instruction.Price * (1 - d.cfg.Slippage)
	}
	return instruction.Price * (1 + d.cfg.Slippage)
}

func (d *Dispatcher) skip(instruction domain.TradeInstruction, reason string) {
	d.log.Info().
		Str("symbol", instruction.Symbol).
		Str("action", string(instruction.Action)).
		Str("reason", reason).
		Msg("Trade skipped")

	d.events.EmitTyped("dispatch", &events.TradeEventData{
		Kind:      events.TradeSkipped,
		Portfolio: instruction.Portfolio,
		Symbol:    instruction.Symbol,
		Action:    string(instruction.Action),
		Shares:    instruction.Shares,
		Price:     instruction.Price,
		Detail:    reason,
	})
}

func (d *Dispatcher) fail(instruction domain.TradeInstruction, err error) {
	d.log.Error().Err(err).
		Str("portfolio", instruction.Portfolio).
		Str("symbol", instruction.Symbol).
		Str("action", string(instruction.Action)).
		Msg("Trade failed")

	d.events.EmitTyped("dispatch", &events.TradeEventData{
		Kind:      events.TradeFailed,
		Portfolio: instruction.Portfolio,
		Symbol:    instruction.Symbol,
		Action:    string(instruction.Action),
		Shares:    instruction.Shares,
		Price:     instruction.Price,
		Detail:    err.Error(),
	})
}
