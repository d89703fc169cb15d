package state

import (
	"fmt"
	"sync"

	"github.com/meridianledger/meridian/core"
)

// WASMEngine is the opaque, shared sandboxed execution service used for
// transactions whose instructions are a WASM blob rather than a built-in
// list. It is constructed once at startup and its lifetime must strictly
// outlive the consensus loop, since every round borrows it to execute
// WASM-bearing transactions.
type WASMEngine interface {
	// Run executes module against the mutate surface exposed by handle,
	// consuming up to fuelLimit units of compute.
	Run(module []byte, handle any, fuelLimit uint64) error
}

// State is World plus the chain-wide bookkeeping that does not belong to
// committed ledger contents: the append-only list of block hashes, an
// index from transaction hash to the height that contains it, and the
// handle to the WASM engine shared across every block's execution.
type State struct {
	mu           sync.RWMutex
	World        *World
	chainID      string
	blockHashes  []core.Hash // index i holds the hash of the block at height i+1
	transactions map[core.Hash]uint64
	engine       WASMEngine
}

// New creates a State for chainID, with an empty World seeded from params
// and engine as the shared WASM execution service.
func New(chainID string, params Parameters, engine WASMEngine) *State {
	return &State{
		World:        NewWorld(params),
		chainID:      chainID,
		transactions: make(map[core.Hash]uint64),
		engine:       engine,
	}
}

// ChainID returns the chain identifier this State was built for.
func (s *State) ChainID() string { return s.chainID }

// Engine returns the shared WASM execution service.
func (s *State) Engine() WASMEngine { return s.engine }

// Height returns the height of the latest recorded block, or 0 if none.
func (s *State) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.blockHashes))
}

// BlockHash returns the hash recorded for height, which must be 1-based.
func (s *State) BlockHash(height uint64) (core.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if height == 0 || height > uint64(len(s.blockHashes)) {
		return "", false
	}
	return s.blockHashes[height-1], true
}

// TransactionHeight looks up the height of the block containing txHash.
func (s *State) TransactionHeight(txHash core.Hash) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.transactions[txHash]
	return h, ok
}

// RecordBlock appends height's hash and indexes its transactions. Called
// once a block's World.Block has already been committed, so RecordBlock
// itself cannot fail on anything but a height-continuity violation.
func (s *State) RecordBlock(height uint64, hash core.Hash, txHashes []core.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height != uint64(len(s.blockHashes))+1 {
		return fmt.Errorf("record block: height %d does not follow recorded tip %d", height, len(s.blockHashes))
	}
	s.blockHashes = append(s.blockHashes, hash)
	for _, txh := range txHashes {
		s.transactions[txh] = height
	}
	return nil
}

// ReplaceTop discards the currently recorded top block (used by a soft-fork
// replacement) and records newHash/newTxHashes in its place at the same
// height.
func (s *State) ReplaceTop(newHash core.Hash, newTxHashes []core.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blockHashes) == 0 {
		return fmt.Errorf("replace top: no block recorded yet")
	}
	height := uint64(len(s.blockHashes))
	oldHash := s.blockHashes[height-1]
	for txh, h := range s.transactions {
		if h == height {
			delete(s.transactions, txh)
		}
	}
	s.blockHashes[height-1] = newHash
	for _, txh := range newTxHashes {
		s.transactions[txh] = height
	}
	_ = oldHash
	return nil
}
