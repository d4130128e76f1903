// Package follower mirrors reference-portfolio rebalances without a backing
// simulated account. Instead of diffing holdings, each published weight
// change is projected directly into a share delta against a configured
// asset base.
package follower

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mirrortrader/internal/domain"
	"mirrortrader/internal/events"
	"mirrortrader/internal/modules/dedup"
	"mirrortrader/internal/modules/detector"
)

// PortfolioSource provides the lookups a watcher needs beyond detection
type PortfolioSource interface {
	LookupQuote(symbol string) (*domain.Quote, error)
	NetValue(portfolioCode string) (float64, error)
}

// Enqueuer accepts instructions for execution
type Enqueuer interface {
	Enqueue(instruction domain.TradeInstruction)
}

// WatchTarget configures one followed portfolio. TotalAssets wins when set;
// otherwise assets derive from InitialAssets scaled by the portfolio's
// current net value.
type WatchTarget struct {
	Portfolio     string
	TotalAssets   float64
	InitialAssets float64
}

// Service polls followed portfolios and projects their rebalances into
// trade instructions.
type Service struct {
	targets    []WatchTarget
	interval   time.Duration
	detector   *detector.Detector
	source     PortfolioSource
	dedup      *dedup.Deduplicator
	dispatcher Enqueuer
	events     *events.Manager
	log        zerolog.Logger

	wg sync.WaitGroup
}

// NewService creates a follower service
func NewService(
	targets []WatchTarget,
	interval time.Duration,
	changeDetector *detector.Detector,
	source PortfolioSource,
	deduplicator *dedup.Deduplicator,
	dispatcher Enqueuer,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		targets:    targets,
		interval:   interval,
		detector:   changeDetector,
		source:     source,
		dedup:      deduplicator,
		dispatcher: dispatcher,
		events:     eventManager,
		log:        log.With().Str("service", "follower").Logger(),
	}
}

// Start launches one watcher goroutine per target
func (s *Service) Start(ctx context.Context) {
	for _, target := range s.targets {
		target := target
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watch(ctx, target)
		}()
	}
	s.log.Info().Int("targets", len(s.targets)).Msg("Follower started")
}

// Wait blocks until all watchers have exited
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) watch(ctx context.Context, target WatchTarget) {
	log := s.log.With().Str("portfolio", target.Portfolio).Logger()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(target, log)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Watcher stopped")
			return
		case <-ticker.C:
			s.poll(target, log)
		}
	}
}

// poll runs one detection cycle. Errors are contained per cycle.
func (s *Service) poll(target WatchTarget, log zerolog.Logger) {
	change, err := s.detector.Detect(target.Portfolio)
	if err != nil {
		log.Error().Err(err).Msg("Detection failed")
		s.events.EmitError("follower", err, map[string]interface{}{"portfolio": target.Portfolio})
		return
	}
	if change == nil || change.Event == nil {
		return
	}

	s.events.EmitTyped("follower", &events.ChangeDetectedData{
		Portfolio:      change.Portfolio,
		Trigger:        change.Trigger,
		OldRebalanceID: change.OldRebalanceID,
		NewRebalanceID: change.NewRebalanceID,
		MaxDrift:       change.MaxDrift,
		MeanDrift:      change.MeanDrift,
	})

	assets, err := s.resolveAssets(target)
	if err != nil {
		log.Error().Err(err).Msg("Asset base resolution failed")
		s.events.EmitError("follower", err, map[string]interface{}{"portfolio": target.Portfolio})
		return
	}

	instructions := s.project(target.Portfolio, change.Event, assets, log)
	instructions = s.dedup.Filter(instructions)

	enqueued := 0
	for _, instruction := range instructions {
		// Mark before queueing: the same signal resurfacing under a later
		// rebalance id must not queue again while this one is pending.
		if err := s.dedup.Mark(instruction); err != nil {
			log.Error().Err(err).Str("symbol", instruction.Symbol).Msg("Failed to persist command key, dropping signal")
			continue
		}
		s.dispatcher.Enqueue(instruction)
		enqueued++
	}
	if enqueued > 0 {
		log.Info().Int("instructions", enqueued).Msg("Rebalance projected")
	}
}

// minAssets is the smallest asset base worth projecting against; below it
// every weight delta floors to zero shares anyway.
const minAssets = 1000

// resolveAssets returns the asset base the projection scales against
func (s *Service) resolveAssets(target WatchTarget) (float64, error) {
	assets := target.TotalAssets
	if assets <= 0 {
		netValue, err := s.source.NetValue(target.Portfolio)
		if err != nil {
			return 0, err
		}
		assets = target.InitialAssets * netValue
	}
	if assets < minAssets {
		return 0, fmt.Errorf("asset base %.2f for %s is below the %d minimum", assets, target.Portfolio, minAssets)
	}
	return assets, nil
}

// project converts a rebalance event's weight changes into instructions.
// Sells come first so a same-event rotation frees cash before buying.
func (s *Service) project(portfolio string, event *domain.RebalanceEvent, assets float64, log zerolog.Logger) []domain.TradeInstruction {
	var sells, buys []domain.TradeInstruction

	for _, change := range event.Changes {
		delta := change.Weight - change.PrevWeight
		if delta == 0 {
			continue
		}

		price := change.Price
		if price <= 0 {
			quote, err := s.source.LookupQuote(change.Symbol)
			if err != nil {
				log.Warn().Err(err).Str("symbol", change.Symbol).Msg("No price for weight change, skipping")
				continue
			}
			price = quote.Price
		}

		shares := ProjectShares(assets, delta, price)
		if shares == 0 {
			continue
		}

		instruction := domain.TradeInstruction{
			Portfolio: portfolio,
			Symbol:    change.Symbol,
			Name:      change.Name,
			Shares:    shares,
			Price:     price,
			Reason:    "reference rebalance",
			Timestamp: time.UnixMilli(change.CreatedAt),
		}
		if delta > 0 {
			instruction.Action = domain.ActionBuy
			buys = append(buys, instruction)
		} else {
			instruction.Action = domain.ActionSell
			sells = append(sells, instruction)
		}
	}

	return append(sells, buys...)
}

// ProjectShares converts a weight delta into a share count rounded to the
// nearest 100-share lot.
func ProjectShares(assets, weightDelta, price float64) int64 {
	if price <= 0 || assets <= 0 {
		return 0
	}

	shares := decimal.NewFromFloat(assets).
		Mul(decimal.NewFromFloat(weightDelta).Abs()).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromFloat(price))

	return shares.Div(decimal.NewFromInt(100)).Round(0).Mul(decimal.NewFromInt(100)).IntPart()
}
