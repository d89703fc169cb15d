// Package queue is the external transaction collaborator the consensus
// loop pulls candidate transactions from: a thread-safe pool of accepted
// transactions, pruned as they are included in blocks or expire. Adapted
// from the teacher's core.Mempool, keyed by transaction hash instead of a
// pubkey-derived ID and pruned by wall-clock TTL instead of a fixed age
// window.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/meridianledger/meridian/core"
)

// ErrFull is returned by Add when the queue has reached its capacity.
var ErrFull = errors.New("queue: full")

// ErrDuplicate is returned by Add when a transaction with the same hash is
// already queued.
var ErrDuplicate = errors.New("queue: transaction already queued")

// Queue is a thread-safe pool of accepted, not-yet-committed transactions.
type Queue struct {
	mu       sync.RWMutex
	capacity int
	txs      map[core.Hash]*core.AcceptedTransaction
	order    []core.Hash // insertion order, for deterministic block proposals
}

// New creates an empty Queue bounded at capacity entries.
func New(capacity int) *Queue {
	return &Queue{capacity: capacity, txs: make(map[core.Hash]*core.AcceptedTransaction)}
}

// Add inserts tx, keyed by its accepted hash. Callers are expected to have
// already run core.Accept; Add itself only enforces capacity and
// dedup.
func (q *Queue) Add(tx *core.AcceptedTransaction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.txs[tx.Hash]; exists {
		return ErrDuplicate
	}
	if len(q.txs) >= q.capacity {
		return ErrFull
	}
	q.txs[tx.Hash] = tx
	q.order = append(q.order, tx.Hash)
	return nil
}

// IsExpired reports whether tx's TTL has elapsed as of now.
func (q *Queue) IsExpired(tx *core.AcceptedTransaction, now time.Time) bool {
	return !now.Before(tx.ExpiresAt())
}

// PruneExpired removes every queued transaction whose TTL has elapsed as of
// now, returning how many were removed. The consensus loop calls this once
// per round before refilling transaction_cache.
func (q *Queue) PruneExpired(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0]
	removed := 0
	for _, h := range q.order {
		tx := q.txs[h]
		if !now.Before(tx.ExpiresAt()) {
			delete(q.txs, h)
			removed++
			continue
		}
		kept = append(kept, h)
	}
	q.order = kept
	return removed
}

// GetTransactionsForBlock appends up to cap pending transactions (in
// insertion order) to out, skipping any already present in exclude, and
// returns the extended slice.
func (q *Queue) GetTransactionsForBlock(capHint int, exclude map[core.Hash]bool, out []*core.AcceptedTransaction) []*core.AcceptedTransaction {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, h := range q.order {
		if len(out) >= capHint {
			break
		}
		if exclude != nil && exclude[h] {
			continue
		}
		out = append(out, q.txs[h])
	}
	return out
}

// Remove deletes the given transaction hashes (the consensus loop calls it
// at round start for queued transactions that a block already committed).
func (q *Queue) Remove(hashes []core.Hash) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := make(map[core.Hash]bool, len(hashes))
	for _, h := range hashes {
		delete(q.txs, h)
		removed[h] = true
	}
	filtered := q.order[:0]
	for _, h := range q.order {
		if !removed[h] {
			filtered = append(filtered, h)
		}
	}
	q.order = filtered
}

// Len returns the current number of queued transactions.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.txs)
}
