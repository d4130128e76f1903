// Package planner diffs current holdings against resolved share targets and
// emits the trade instructions that close the gap.
package planner

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mirrortrader/internal/domain"
)

// Planner produces reconciliation plans
type Planner struct {
	log zerolog.Logger
}

// NewPlanner creates a new planner
func NewPlanner(log zerolog.Logger) *Planner {
	return &Planner{
		log: log.With().Str("service", "planner").Logger(),
	}
}

// Plan computes the instructions that move holdings onto the resolved
// targets, plus the targets already at their share count. Sells always
// precede buys so freed cash funds the buy side. A holding absent from the
// targets is sold in full.
func (p *Planner) Plan(portfolio string, holdings []domain.Holding, targets []domain.ResolvedTarget) ([]domain.TradeInstruction, []domain.SkippedTarget) {
	held := make(map[string]domain.Holding, len(holdings))
	for _, h := range holdings {
		held[h.Symbol] = h
	}
	targeted := make(map[string]bool, len(targets))

	now := time.Now()
	var sells, buys []domain.TradeInstruction
	var atTarget []domain.SkippedTarget

	for _, target := range targets {
		targeted[target.Symbol] = true
		delta := target.TargetShares - held[target.Symbol].Shares
		if delta == 0 {
			atTarget = append(atTarget, domain.SkippedTarget{
				Symbol: target.Symbol,
				Name:   target.Name,
				Reason: "already at target",
			})
			continue
		}

		instruction := domain.TradeInstruction{
			Portfolio: portfolio,
			Symbol:    target.Symbol,
			Name:      target.Name,
			Price:     target.Price,
			Timestamp: now,
		}
		if delta > 0 {
			instruction.Action = domain.ActionBuy
			instruction.Shares = delta
			instruction.Reason = fmt.Sprintf("rebalance to %.2f%%", target.WeightPercent)
			buys = append(buys, instruction)
		} else {
			instruction.Action = domain.ActionSell
			instruction.Shares = -delta
			instruction.Reason = "overweight"
			sells = append(sells, instruction)
		}
	}

	// Positions the reference no longer holds are closed out entirely
	for _, h := range holdings {
		if targeted[h.Symbol] || h.Shares <= 0 {
			continue
		}
		sells = append(sells, domain.TradeInstruction{
			Portfolio: portfolio,
			Symbol:    h.Symbol,
			Name:      h.Name,
			Action:    domain.ActionSell,
			Shares:    h.Shares,
			Price:     h.CurrentPrice,
			Reason:    "not in target",
			Timestamp: now,
		})
	}

	plan := append(sells, buys...)

	p.log.Debug().
		Str("portfolio", portfolio).
		Int("sells", len(sells)).
		Int("buys", len(buys)).
		Int("at_target", len(atTarget)).
		Msg("Reconciliation plan computed")

	return plan, atTarget
}

// NeedsSync reports whether any holding deviates from its resolved target.
// Short-circuits on the first deviation found.
func (p *Planner) NeedsSync(holdings []domain.Holding, targets []domain.ResolvedTarget) bool {
	held := make(map[string]int64, len(holdings))
	for _, h := range holdings {
		held[h.Symbol] = h.Shares
	}

	targeted := make(map[string]bool, len(targets))
	for _, target := range targets {
		targeted[target.Symbol] = true
		if target.TargetShares != held[target.Symbol] {
			return true
		}
	}

	for _, h := range holdings {
		if h.Shares > 0 && !targeted[h.Symbol] {
			return true
		}
	}
	return false
}
