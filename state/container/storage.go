package container

import (
	"sync"

	"github.com/tidwall/btree"
)

// Less orders two keys of type K. Storage requires a total order so range
// iteration is deterministic (§3 "opaque, totally ordered identifiers").
type Less[K any] func(a, b K) bool

type entry[K any, V any] struct {
	key K
	val V
}

// Storage is an ordered mapping with the same three-scope layering as Cell,
// plus range iteration. Each layer is a copy-on-write snapshot of an
// immutable B-tree, so taking a Block or Transaction handle is O(1) and
// never blocks concurrent readers of the committed View.
type Storage[K any, V any] struct {
	mu      sync.RWMutex
	tree    *btree.BTreeG[entry[K, V]]
	prev    *btree.BTreeG[entry[K, V]]
	hasPrev bool
	less    Less[K]
}

// NewStorage creates an empty Storage ordered by less.
func NewStorage[K any, V any](less Less[K]) *Storage[K, V] {
	lessEntry := func(a, b entry[K, V]) bool { return less(a.key, b.key) }
	return &Storage[K, V]{
		tree: btree.NewBTreeG(lessEntry),
		less: less,
	}
}

func keyOnly[K any, V any](k K) entry[K, V] { return entry[K, V]{key: k} }

// StorageView is a read-only, torn-free snapshot of a Storage's committed
// contents.
type StorageView[K any, V any] struct {
	tree *btree.BTreeG[entry[K, V]]
}

// Get looks up key in the snapshot.
func (v StorageView[K, V]) Get(key K) (V, bool) {
	e, ok := v.tree.Get(keyOnly[K, V](key))
	return e.val, ok
}

// Len returns the number of entries in the snapshot.
func (v StorageView[K, V]) Len() int { return v.tree.Len() }

// Ascend iterates entries in ascending key order starting at (or after)
// pivot, calling fn until it returns false.
func (v StorageView[K, V]) Ascend(pivot K, fn func(key K, val V) bool) {
	v.tree.Ascend(keyOnly[K, V](pivot), func(e entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// Scan iterates every entry in ascending key order.
func (v StorageView[K, V]) Scan(fn func(key K, val V) bool) {
	v.tree.Scan(func(e entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// View takes an immutable snapshot of the committed contents.
func (s *Storage[K, V]) View() StorageView[K, V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StorageView[K, V]{tree: s.tree}
}

// StorageBlock stages inserts/removes for the duration of applying one
// candidate block.
type StorageBlock[K any, V any] struct {
	parent *Storage[K, V]
	tree   *btree.BTreeG[entry[K, V]]
	revert bool
}

// Block obtains a block-layer handle staging atop the current committed
// contents.
func (s *Storage[K, V]) Block() *StorageBlock[K, V] {
	s.mu.RLock()
	base := s.tree.Copy()
	s.mu.RUnlock()
	return &StorageBlock[K, V]{parent: s, tree: base}
}

// BlockAndRevert obtains a block-layer handle staging atop the contents
// committed before the most recent Block.Commit (the soft-fork primitive).
func (s *Storage[K, V]) BlockAndRevert() *StorageBlock[K, V] {
	s.mu.RLock()
	base := s.tree
	if s.hasPrev {
		base = s.prev
	}
	base = base.Copy()
	s.mu.RUnlock()
	return &StorageBlock[K, V]{parent: s, tree: base, revert: true}
}

// Get looks up key, checking this block's staged contents.
func (b *StorageBlock[K, V]) Get(key K) (V, bool) {
	e, ok := b.tree.Get(keyOnly[K, V](key))
	return e.val, ok
}

// Set stages an insert/update of key to val.
func (b *StorageBlock[K, V]) Set(key K, val V) {
	b.tree.Set(entry[K, V]{key: key, val: val})
}

// Delete stages a removal of key.
func (b *StorageBlock[K, V]) Delete(key K) {
	b.tree.Delete(keyOnly[K, V](key))
}

// Ascend iterates the block layer's staged contents in ascending order.
func (b *StorageBlock[K, V]) Ascend(pivot K, fn func(key K, val V) bool) {
	b.tree.Ascend(keyOnly[K, V](pivot), func(e entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// Scan iterates every entry of the block layer's staged contents.
func (b *StorageBlock[K, V]) Scan(fn func(key K, val V) bool) {
	b.tree.Scan(func(e entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// Len returns the number of entries staged in this block layer.
func (b *StorageBlock[K, V]) Len() int { return b.tree.Len() }

// StorageTransaction stages inserts/removes on top of a StorageBlock for
// the duration of one transaction or trigger firing.
type StorageTransaction[K any, V any] struct {
	parent *StorageBlock[K, V]
	tree   *btree.BTreeG[entry[K, V]]
}

// Transaction obtains a transaction-layer handle nested under this block.
func (b *StorageBlock[K, V]) Transaction() *StorageTransaction[K, V] {
	return &StorageTransaction[K, V]{parent: b, tree: b.tree.Copy()}
}

// Get looks up key, checking this transaction's staged contents.
func (t *StorageTransaction[K, V]) Get(key K) (V, bool) {
	e, ok := t.tree.Get(keyOnly[K, V](key))
	return e.val, ok
}

// Set stages an insert/update of key to val.
func (t *StorageTransaction[K, V]) Set(key K, val V) {
	t.tree.Set(entry[K, V]{key: key, val: val})
}

// Delete stages a removal of key.
func (t *StorageTransaction[K, V]) Delete(key K) {
	t.tree.Delete(keyOnly[K, V](key))
}

// Ascend iterates the transaction layer's staged contents in ascending order.
func (t *StorageTransaction[K, V]) Ascend(pivot K, fn func(key K, val V) bool) {
	t.tree.Ascend(keyOnly[K, V](pivot), func(e entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// Scan iterates every entry of the transaction layer's staged contents.
func (t *StorageTransaction[K, V]) Scan(fn func(key K, val V) bool) {
	t.tree.Scan(func(e entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// Apply folds the transaction layer's staged contents back into its parent
// block. Dropping t instead leaves the block untouched.
func (t *StorageTransaction[K, V]) Apply() {
	t.parent.tree = t.tree
}

// Commit folds the block layer's staged contents into the committed
// Storage. When b is a normal (non-revert) block, the contents being
// replaced become the new one-level undo point. Dropping b instead leaves
// the Storage untouched.
func (b *StorageBlock[K, V]) Commit() {
	b.parent.mu.Lock()
	defer b.parent.mu.Unlock()
	if !b.revert {
		b.parent.prev, b.parent.hasPrev = b.parent.tree, true
	}
	b.parent.tree = b.tree
}
