// Package kura is the append-only block store: the consensus loop persists
// a block only after it has been applied successfully to the state layer.
// Adapted from the teacher's storage.LevelBlockStore, keyed by height
// (1-based) instead of a tip-pointer chain since a soft fork here replaces
// the top height's entry rather than rewriting a linked list of hashes.
package kura

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/meridianledger/meridian/core"
)

// Store is the append-only, replaceable-at-the-top block store backing one
// node's view of the chain.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) a kura store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open kura store %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func heightKey(height uint64) []byte {
	return []byte(fmt.Sprintf("height:%020d", height))
}

// StoreBlock appends block at its header's height. Returns an error if a
// block is already stored at that height (use ReplaceTopBlock for a soft
// fork).
func (s *Store) StoreBlock(block *core.Block) error {
	key := heightKey(block.Header.Height)
	if _, err := s.db.Get(key, nil); err == nil {
		return fmt.Errorf("kura: block already stored at height %d", block.Header.Height)
	} else if err != leveldb.ErrNotFound {
		return err
	}
	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if err := s.db.Put(key, data, nil); err != nil {
		return err
	}
	return s.db.Put([]byte("tip"), []byte(fmt.Sprintf("%d", block.Header.Height)), nil)
}

// ReplaceTopBlock overwrites the block stored at height (which must be the
// current tip) with newBlock, the soft-fork primitive at the storage layer.
func (s *Store) ReplaceTopBlock(height uint64, newBlock *core.Block) error {
	tip, err := s.TipHeight()
	if err != nil {
		return err
	}
	if tip != height {
		return fmt.Errorf("kura: height %d is not the current tip %d", height, tip)
	}
	data, err := json.Marshal(newBlock)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	return s.db.Put(heightKey(height), data, nil)
}

// GetBlockByHeight returns the block stored at height, or (nil, false) if
// none is stored there.
func (s *Store) GetBlockByHeight(height uint64) (*core.Block, bool, error) {
	data, err := s.db.Get(heightKey(height), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var b core.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, false, fmt.Errorf("unmarshal block: %w", err)
	}
	return &b, true, nil
}

// TipHeight returns the height of the most recently stored block, or 0 for
// an empty store.
func (s *Store) TipHeight() (uint64, error) {
	data, err := s.db.Get([]byte("tip"), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var height uint64
	if _, err := fmt.Sscanf(string(data), "%d", &height); err != nil {
		return 0, fmt.Errorf("parse tip height: %w", err)
	}
	return height, nil
}

// BlocksFrom returns up to limit consecutively stored blocks starting at
// height, stopping early if a gap is found.
func (s *Store) BlocksFrom(height uint64, limit int) ([]*core.Block, error) {
	blocks := make([]*core.Block, 0, limit)
	for h := height; len(blocks) < limit; h++ {
		b, ok, err := s.GetBlockByHeight(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// Iterate walks every stored block in ascending height order, calling fn
// until it returns false or an error.
func (s *Store) Iterate(fn func(*core.Block) (bool, error)) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte("height:")), nil)
	defer iter.Release()
	for iter.Next() {
		var b core.Block
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return fmt.Errorf("unmarshal block: %w", err)
		}
		cont, err := fn(&b)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return iter.Error()
}
