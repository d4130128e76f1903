package dispatch

import (
	"sync"

	"mirrortrader/internal/domain"
)

// instructionQueue is an unbounded FIFO. Producers never block: a burst of
// instructions from several watchers must not stall the detection loops.
type instructionQueue struct {
	mu     sync.Mutex
	items  []domain.TradeInstruction
	notify chan struct{}
}

func newInstructionQueue() *instructionQueue {
	return &instructionQueue{
		notify: make(chan struct{}, 1),
	}
}

// push appends an instruction and wakes the consumer
func (q *instructionQueue) push(instruction domain.TradeInstruction) {
	q.mu.Lock()
	q.items = append(q.items, instruction)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest instruction; ok is false when the queue is empty
func (q *instructionQueue) pop() (domain.TradeInstruction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return domain.TradeInstruction{}, false
	}
	instruction := q.items[0]
	q.items = q.items[1:]
	return instruction, true
}

// wait returns a channel that signals when new items may be available
func (q *instructionQueue) wait() <-chan struct{} {
	return q.notify
}

// size returns the number of queued instructions
func (q *instructionQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
