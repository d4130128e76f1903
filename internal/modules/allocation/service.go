// Package allocation converts reference-portfolio weights into integer
// share targets for the simulated account.
package allocation

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mirrortrader/internal/domain"
)

// QuoteSource resolves symbols to current quotes
type QuoteSource interface {
	LookupQuote(symbol string) (*domain.Quote, error)
}

// Resolver turns percentage weights into lot-aligned share counts
type Resolver struct {
	quotes QuoteSource
	log    zerolog.Logger
}

// NewResolver creates a new allocation resolver
func NewResolver(quotes QuoteSource, log zerolog.Logger) *Resolver {
	return &Resolver{
		quotes: quotes,
		log:    log.With().Str("service", "allocation").Logger(),
	}
}

// SharesForWeight converts one weight into a share count at the given price,
// floored to the instrument's lot size. Decimal arithmetic keeps
// 0.1-percent weights exact; a float intermediate can land one lot short.
func SharesForWeight(totalAssets, weightPercent, price float64, class domain.InstrumentClass) int64 {
	if price <= 0 || totalAssets <= 0 || weightPercent <= 0 {
		return 0
	}

	lot := decimal.NewFromInt(class.LotSize())
	targetValue := decimal.NewFromFloat(totalAssets).
		Mul(decimal.NewFromFloat(weightPercent)).
		Div(decimal.NewFromInt(100))

	shares := targetValue.
		Div(decimal.NewFromFloat(price)).
		Div(lot).Floor().Mul(lot)

	return shares.IntPart()
}

// ResolveOne resolves a single target allocation against a live quote
func (r *Resolver) ResolveOne(totalAssets float64, target domain.TargetAllocation) (*domain.ResolvedTarget, error) {
	quote, err := r.quotes.LookupQuote(target.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", target.Symbol, err)
	}

	shares := SharesForWeight(totalAssets, target.WeightPercent, quote.Price, quote.Class)

	name := target.Name
	if name == "" {
		name = quote.Name
	}

	return &domain.ResolvedTarget{
		Symbol:        target.Symbol,
		Name:          name,
		TargetShares:  shares,
		TargetValue:   totalAssets * target.WeightPercent / 100,
		Price:         quote.Price,
		WeightPercent: target.WeightPercent,
	}, nil
}

// Resolve converts all target allocations into share targets. A target whose
// quote cannot be resolved is skipped and recorded, never aborts the batch.
func (r *Resolver) Resolve(totalAssets float64, targets []domain.TargetAllocation) ([]domain.ResolvedTarget, []domain.SkippedTarget) {
	resolved := make([]domain.ResolvedTarget, 0, len(targets))
	var skipped []domain.SkippedTarget

	for _, target := range targets {
		result, err := r.ResolveOne(totalAssets, target)
		if err != nil {
			if errors.Is(err, domain.ErrQuoteUnavailable) {
				r.log.Warn().
					Str("symbol", target.Symbol).
					Float64("weight", target.WeightPercent).
					Msg("Quote unavailable, skipping target")
				skipped = append(skipped, domain.SkippedTarget{
					Symbol: target.Symbol,
					Name:   target.Name,
					Reason: "quote unavailable",
				})
				continue
			}
			r.log.Error().Err(err).Str("symbol", target.Symbol).Msg("Quote lookup failed, skipping target")
			skipped = append(skipped, domain.SkippedTarget{
				Symbol: target.Symbol,
				Name:   target.Name,
				Reason: err.Error(),
			})
			continue
		}
		resolved = append(resolved, *result)
	}

	return resolved, skipped
}
