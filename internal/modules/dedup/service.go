package dedup

import (
	"fmt"

	"github.com/rs/zerolog"

	"mirrortrader/internal/domain"
)

// Deduplicator filters instructions that were already executed
type Deduplicator struct {
	store domain.KeyStore
	log   zerolog.Logger
}

// NewDeduplicator creates a deduplicator over the given key store
func NewDeduplicator(store domain.KeyStore, log zerolog.Logger) *Deduplicator {
	return &Deduplicator{
		store: store,
		log:   log.With().Str("service", "dedup").Logger(),
	}
}

// Seen reports whether the instruction's command was already executed
func (d *Deduplicator) Seen(instruction domain.TradeInstruction) bool {
	return d.store.Contains(Key(instruction))
}

// Mark durably records the instruction as executed. Callers mark before
// submitting the trade: replaying a never-submitted command is worse than
// dropping one on the rare crash between mark and submit.
func (d *Deduplicator) Mark(instruction domain.TradeInstruction) error {
	key := Key(instruction)
	if err := d.store.Put(key); err != nil {
		return fmt.Errorf("failed to mark command executed: %w", err)
	}
	d.log.Debug().Str("key", key).Msg("Command marked executed")
	return nil
}

// Filter returns the instructions not yet executed, preserving order
func (d *Deduplicator) Filter(instructions []domain.TradeInstruction) []domain.TradeInstruction {
	fresh := make([]domain.TradeInstruction, 0, len(instructions))
	for _, instruction := range instructions {
		if d.Seen(instruction) {
			d.log.Debug().
				Err(domain.ErrDuplicateCommand).
				Str("symbol", instruction.Symbol).
				Str("action", string(instruction.Action)).
				Msg("Command dropped")
			continue
		}
		fresh = append(fresh, instruction)
	}
	return fresh
}

// Size returns the executed-set cardinality
func (d *Deduplicator) Size() int {
	return d.store.Len()
}
