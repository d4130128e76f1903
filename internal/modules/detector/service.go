// Package detector watches reference portfolios for published changes.
// Two independent signals fire a detection: a new rebalance id in the
// history feed, or a drift in the current weight snapshot. Either alone is
// unreliable — history lags during partial rebalances and weights wobble
// with market moves — so both are checked every poll.
package detector

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"mirrortrader/internal/domain"
)

// weightDriftThreshold in percentage points. Drift at or below this is
// treated as market noise, strictly above it as a published change.
// driftEpsilon absorbs float64 subtraction noise so a nominal
// exactly-at-threshold move (30.01 - 30.00) stays below the bound.
const (
	weightDriftThreshold = 0.01
	driftEpsilon         = 1e-9
)

// ReferenceSource provides the reference portfolio feeds the detector polls
type ReferenceSource interface {
	GetReferenceAllocation(portfolioCode string) ([]domain.TargetAllocation, float64, error)
	GetReferenceRebalanceHistory(portfolioCode string, count int) ([]domain.RebalanceEvent, error)
}

// Change describes one detected reference-portfolio change
type Change struct {
	Portfolio      string
	Trigger        string // "rebalance_id" or "weight_drift"
	OldRebalanceID int64
	NewRebalanceID int64
	MaxDrift       float64
	MeanDrift      float64
	Event          *domain.RebalanceEvent // Latest event; nil when history is empty
}

// pollState is the per-portfolio detection baseline
type pollState struct {
	lastRebalanceID int64
	lastWeights     map[string]float64
	primed          bool
}

// Detector tracks poll state per portfolio and reports changes
type Detector struct {
	source ReferenceSource
	log    zerolog.Logger

	mu    sync.Mutex
	state map[string]*pollState
}

// NewDetector creates a new change detector
func NewDetector(source ReferenceSource, log zerolog.Logger) *Detector {
	return &Detector{
		source: source,
		log:    log.With().Str("service", "detector").Logger(),
		state:  make(map[string]*pollState),
	}
}

// Detect polls the portfolio's feeds and returns a Change when either signal
// fires, nil otherwise. The first poll of a portfolio only primes the
// baseline and never fires. The baseline advances at detection time, so a
// change reported once is not reported again even if acting on it fails.
func (d *Detector) Detect(portfolioCode string) (*Change, error) {
	events, err := d.source.GetReferenceRebalanceHistory(portfolioCode, 3)
	if err != nil {
		return nil, err
	}
	allocations, _, err := d.source.GetReferenceAllocation(portfolioCode)
	if err != nil {
		return nil, err
	}

	var latestID int64
	var latest *domain.RebalanceEvent
	if len(events) > 0 {
		latest = &events[0]
		latestID = latest.ID
	}

	weights := make(map[string]float64, len(allocations))
	for _, a := range allocations {
		weights[a.Symbol] = a.WeightPercent
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[portfolioCode]
	if !ok || !st.primed {
		d.state[portfolioCode] = &pollState{
			lastRebalanceID: latestID,
			lastWeights:     weights,
			primed:          true,
		}
		d.log.Debug().Str("portfolio", portfolioCode).Int64("rebalance_id", latestID).Msg("Baseline primed")
		return nil, nil
	}

	change := &Change{
		Portfolio:      portfolioCode,
		OldRebalanceID: st.lastRebalanceID,
		NewRebalanceID: latestID,
		Event:          latest,
	}
	change.MaxDrift, change.MeanDrift = driftStats(st.lastWeights, weights)

	switch {
	case latestID != 0 && latestID != st.lastRebalanceID:
		change.Trigger = "rebalance_id"
	case change.MaxDrift > weightDriftThreshold+driftEpsilon:
		change.Trigger = "weight_drift"
	default:
		return nil, nil
	}

	st.lastRebalanceID = latestID
	st.lastWeights = weights

	d.log.Info().
		Str("portfolio", portfolioCode).
		Str("trigger", change.Trigger).
		Int64("old_rebalance_id", change.OldRebalanceID).
		Int64("new_rebalance_id", change.NewRebalanceID).
		Float64("max_drift", change.MaxDrift).
		Msg("Reference change detected")

	return change, nil
}

// Reset drops the portfolio's baseline; the next poll primes it again
func (d *Detector) Reset(portfolioCode string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.state, portfolioCode)
}

// driftStats computes max and mean absolute weight drift over the union of
// symbols in the old and new snapshots. A symbol entering or leaving the
// snapshot counts with its full weight.
func driftStats(old, current map[string]float64) (maxDrift, meanDrift float64) {
	symbols := make(map[string]bool, len(old)+len(current))
	for s := range old {
		symbols[s] = true
	}
	for s := range current {
		symbols[s] = true
	}
	if len(symbols) == 0 {
		return 0, 0
	}

	drifts := make([]float64, 0, len(symbols))
	for s := range symbols {
		drifts = append(drifts, math.Abs(current[s]-old[s]))
	}

	for _, drift := range drifts {
		if drift > maxDrift {
			maxDrift = drift
		}
	}
	return maxDrift, stat.Mean(drifts, nil)
}
