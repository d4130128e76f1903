// Package dedup guarantees at-most-once execution per trade command.
// Every instruction maps to a canonical key; a key already in the executed
// set is never dispatched again, across restarts included.
package dedup

import (
	"fmt"
	"strconv"

	"mirrortrader/internal/domain"
)

// Key builds the canonical command key for an instruction. Two instructions
// that agree on portfolio, symbol, action, shares, price and originating
// second are the same command regardless of which detection produced them.
func Key(instruction domain.TradeInstruction) string {
	return fmt.Sprintf("%s_%s_%s_%d_%s_%d",
		instruction.Portfolio,
		instruction.Symbol,
		instruction.Action,
		instruction.Shares,
		strconv.FormatFloat(instruction.Price, 'f', -1, 64),
		instruction.Timestamp.Unix(),
	)
}
