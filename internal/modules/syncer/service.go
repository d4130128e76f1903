// Package syncer orchestrates full reconciliation of a simulated account
// against its reference portfolio: snapshot, resolve, plan, execute, report.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mirrortrader/internal/domain"
	"mirrortrader/internal/events"
	"mirrortrader/internal/modules/allocation"
	"mirrortrader/internal/modules/detector"
	"mirrortrader/internal/modules/planner"
)

// recentTransactionCount bounds the transaction tail attached to reports
const recentTransactionCount = 20

// Orchestrator runs reconciliation cycles for tracked account/portfolio pairs
type Orchestrator struct {
	gateway  domain.Gateway
	resolver *allocation.Resolver
	planner  *planner.Planner
	detector *detector.Detector
	tradeLog *TradeLogRepository
	events   *events.Manager
	log      zerolog.Logger

	mu          sync.Mutex
	lastReports map[int64]*domain.SyncReport
	firstSynced map[int64]bool
	tracking    map[int64]*trackHandle
}

type trackHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator creates a sync orchestrator
func NewOrchestrator(
	gateway domain.Gateway,
	resolver *allocation.Resolver,
	reconPlanner *planner.Planner,
	changeDetector *detector.Detector,
	tradeLog *TradeLogRepository,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		gateway:     gateway,
		resolver:    resolver,
		planner:     reconPlanner,
		detector:    changeDetector,
		tradeLog:    tradeLog,
		events:      eventManager,
		log:         log.With().Str("service", "syncer").Logger(),
		lastReports: make(map[int64]*domain.SyncReport),
		firstSynced: make(map[int64]bool),
		tracking:    make(map[int64]*trackHandle),
	}
}

// RunSyncCycle reconciles the account against the reference portfolio and
// returns the cycle report. Individual trade failures are contained in the
// report; only upstream fetch failures abort the cycle.
func (o *Orchestrator) RunSyncCycle(accountID int64, portfolio string) (*domain.SyncReport, error) {
	report := &domain.SyncReport{
		CycleID:   uuid.New().String(),
		AccountID: accountID,
		Portfolio: portfolio,
		StartedAt: time.Now(),
	}
	log := o.log.With().Str("cycle_id", report.CycleID).Int64("account_id", accountID).Str("portfolio", portfolio).Logger()

	snapshot, err := o.gateway.GetAccountSnapshot(accountID)
	if err != nil {
		return nil, err
	}
	report.TotalAssets = snapshot.TotalAssets

	targets, cashWeight, err := o.gateway.GetReferenceAllocation(portfolio)
	if err != nil {
		return nil, err
	}

	holdings, err := o.gateway.GetHoldings(accountID)
	if err != nil {
		return nil, err
	}

	resolved, skipped := o.resolver.Resolve(snapshot.TotalAssets, targets)

	plan, atTarget := o.planner.Plan(portfolio, holdings, resolved)
	report.Skipped = append(skipped, atTarget...)
	log.Info().
		Float64("total_assets", snapshot.TotalAssets).
		Float64("cash_weight", cashWeight).
		Int("targets", len(targets)).
		Int("instructions", len(plan)).
		Msg("Sync cycle planned")

	for _, instruction := range plan {
		o.executeInstruction(report, instruction, log)
	}

	report.BuyCount = len(report.Buys)
	report.SellCount = len(report.Sells)
	report.ErrorCount = len(report.Errors)
	report.FinishedAt = time.Now()

	if transactions, err := o.gateway.ListRecentTransactions(accountID, recentTransactionCount); err != nil {
		log.Warn().Err(err).Msg("Failed to fetch recent transactions")
	} else {
		report.RecentTransactions = transactions
	}

	o.mu.Lock()
	o.lastReports[accountID] = report
	o.firstSynced[accountID] = true
	o.mu.Unlock()

	o.events.EmitTyped("syncer", &events.SyncCompletedData{
		CycleID:     report.CycleID,
		AccountID:   accountID,
		Portfolio:   portfolio,
		TotalAssets: report.TotalAssets,
		BuyCount:    report.BuyCount,
		SellCount:   report.SellCount,
		ErrorCount:  report.ErrorCount,
	})
	log.Info().
		Int("buys", report.BuyCount).
		Int("sells", report.SellCount).
		Int("errors", report.ErrorCount).
		Msg("Sync cycle completed")

	return report, nil
}

// executeInstruction submits one planned trade and records the outcome
func (o *Orchestrator) executeInstruction(report *domain.SyncReport, instruction domain.TradeInstruction, log zerolog.Logger) {
	err := o.gateway.SubmitTrade(report.AccountID, instruction.Symbol, instruction.Price, instruction.Shares, instruction.Action)

	executed := domain.ExecutedTrade{
		Symbol:  instruction.Symbol,
		Name:    instruction.Name,
		Shares:  instruction.Shares,
		Price:   instruction.Price,
		Reason:  instruction.Reason,
		Success: err == nil,
	}
	entry := TradeLogEntry{
		CycleID:   report.CycleID,
		AccountID: report.AccountID,
		Portfolio: report.Portfolio,
		Symbol:    instruction.Symbol,
		Name:      instruction.Name,
		Action:    instruction.Action,
		Shares:    instruction.Shares,
		Price:     instruction.Price,
		Success:   err == nil,
	}

	eventKind := events.TradeExecuted
	if err != nil {
		log.Error().Err(err).Str("symbol", instruction.Symbol).Str("action", string(instruction.Action)).Msg("Planned trade failed")
		report.Errors = append(report.Errors, err.Error())
		entry.Detail = err.Error()
		eventKind = events.TradeFailed
	}

	if instruction.Action == domain.ActionSell {
		report.Sells = append(report.Sells, executed)
	} else {
		report.Buys = append(report.Buys, executed)
	}

	if o.tradeLog != nil {
		if logErr := o.tradeLog.Record(entry); logErr != nil {
			log.Warn().Err(logErr).Msg("Failed to persist trade log entry")
		}
	}

	detail := entry.Detail
	o.events.EmitTyped("syncer", &events.TradeEventData{
		Kind:      eventKind,
		Portfolio: report.Portfolio,
		Symbol:    instruction.Symbol,
		Action:    string(instruction.Action),
		Shares:    instruction.Shares,
		Price:     instruction.Price,
		CycleID:   report.CycleID,
		Detail:    detail,
	})
}

// CheckNeedsSync reports whether the account deviates from the reference,
// along with the instructions a sync cycle would execute. The planner's cheap
// check short-circuits before any plan is built when nothing deviates.
func (o *Orchestrator) CheckNeedsSync(accountID int64, portfolio string) (bool, []domain.TradeInstruction, error) {
	snapshot, err := o.gateway.GetAccountSnapshot(accountID)
	if err != nil {
		return false, nil, err
	}
	targets, _, err := o.gateway.GetReferenceAllocation(portfolio)
	if err != nil {
		return false, nil, err
	}
	holdings, err := o.gateway.GetHoldings(accountID)
	if err != nil {
		return false, nil, err
	}

	resolved, _ := o.resolver.Resolve(snapshot.TotalAssets, targets)
	if !o.planner.NeedsSync(holdings, resolved) {
		return false, nil, nil
	}
	plan, _ := o.planner.Plan(portfolio, holdings, resolved)
	return len(plan) > 0, plan, nil
}

// LastReport returns the most recent report for the account, nil when the
// account has not synced yet.
func (o *Orchestrator) LastReport(accountID int64) *domain.SyncReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastReports[accountID]
}

// AutoTrack polls the account until ctx is cancelled. The first iteration
// syncs unconditionally; later iterations sync when the reference changed or
// the account drifted off target. maxIterations of 0 means unbounded.
func (o *Orchestrator) AutoTrack(ctx context.Context, accountID int64, portfolio string, interval time.Duration, maxIterations int) {
	log := o.log.With().Int64("account_id", accountID).Str("portfolio", portfolio).Logger()
	log.Info().Dur("interval", interval).Msg("Auto-track started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for iteration := 0; ; iteration++ {
		if maxIterations > 0 && iteration >= maxIterations {
			log.Info().Int("iterations", iteration).Msg("Auto-track iteration bound reached")
			return
		}

		o.trackOnce(accountID, portfolio, log)

		select {
		case <-ctx.Done():
			log.Info().Msg("Auto-track stopped")
			return
		case <-ticker.C:
		}
	}
}

// trackOnce runs one auto-track iteration with contained errors. The first
// iteration syncs unconditionally to establish a baseline. After that a
// clean poll does nothing; a detected change runs the needs-sync check and
// syncs only when instructions result, so a change that nets to zero never
// fires the full cycle.
func (o *Orchestrator) trackOnce(accountID int64, portfolio string, log zerolog.Logger) {
	o.mu.Lock()
	first := !o.firstSynced[accountID]
	o.mu.Unlock()

	if !first {
		change, err := o.detector.Detect(portfolio)
		if err != nil {
			log.Error().Err(err).Msg("Detection failed")
			o.events.EmitError("syncer", err, map[string]interface{}{"portfolio": portfolio})
			return
		}
		if change == nil {
			return
		}
		o.events.EmitTyped("syncer", &events.ChangeDetectedData{
			Portfolio:      change.Portfolio,
			Trigger:        change.Trigger,
			OldRebalanceID: change.OldRebalanceID,
			NewRebalanceID: change.NewRebalanceID,
			MaxDrift:       change.MaxDrift,
			MeanDrift:      change.MeanDrift,
		})

		needs, _, err := o.CheckNeedsSync(accountID, portfolio)
		if err != nil {
			log.Error().Err(err).Msg("Needs-sync check failed")
			o.events.EmitError("syncer", err, map[string]interface{}{"portfolio": portfolio})
			return
		}
		if !needs {
			log.Info().Str("trigger", change.Trigger).Msg("Detected change yields no instructions")
			return
		}
	}

	if _, err := o.RunSyncCycle(accountID, portfolio); err != nil {
		log.Error().Err(err).Msg("Sync cycle failed")
		o.events.EmitError("syncer", err, map[string]interface{}{
			"account_id": accountID,
			"portfolio":  portfolio,
		})
	}
}

// StartAutoTrack launches auto-track in the background. Returns false when
// the account is already tracking.
func (o *Orchestrator) StartAutoTrack(ctx context.Context, accountID int64, portfolio string, interval time.Duration) bool {
	o.mu.Lock()
	if _, active := o.tracking[accountID]; active {
		o.mu.Unlock()
		return false
	}
	trackCtx, cancel := context.WithCancel(ctx)
	handle := &trackHandle{cancel: cancel, done: make(chan struct{})}
	o.tracking[accountID] = handle
	o.mu.Unlock()

	go func() {
		defer close(handle.done)
		o.AutoTrack(trackCtx, accountID, portfolio, interval, 0)

		o.mu.Lock()
		delete(o.tracking, accountID)
		o.mu.Unlock()
	}()
	return true
}

// StopAutoTrack cancels the account's auto-track loop and waits for it to
// exit. Returns false when the account was not tracking.
func (o *Orchestrator) StopAutoTrack(accountID int64) bool {
	o.mu.Lock()
	handle, active := o.tracking[accountID]
	o.mu.Unlock()
	if !active {
		return false
	}
	handle.cancel()
	<-handle.done
	return true
}

// TrackingActive reports whether the account has a running auto-track loop
func (o *Orchestrator) TrackingActive(accountID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, active := o.tracking[accountID]
	return active
}

// StopAll cancels every auto-track loop. Used at shutdown.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	handles := make([]*trackHandle, 0, len(o.tracking))
	for _, handle := range o.tracking {
		handles = append(handles, handle)
	}
	o.mu.Unlock()

	for _, handle := range handles {
		handle.cancel()
		<-handle.done
	}
}
