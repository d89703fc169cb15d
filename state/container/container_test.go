package container

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCellBlockCommitAndDrop(t *testing.T) {
	c := NewCell(10)

	b := c.Block()
	b.Set(20)
	require.Equal(t, 10, c.View().Get(), "uncommitted block must not be visible")
	b.Commit()
	require.Equal(t, 20, c.View().Get())

	// Dropping a block (never calling Commit) leaves the cell untouched.
	b2 := c.Block()
	b2.Set(999)
	require.Equal(t, 20, c.View().Get())
}

func TestCellTransactionApplyAndDrop(t *testing.T) {
	c := NewCell("a")
	b := c.Block()

	tx := b.Transaction()
	tx.Set("b")
	require.Equal(t, "a", b.Get(), "uncommitted transaction must not be visible to its block")
	tx.Apply()
	require.Equal(t, "b", b.Get())

	// A dropped transaction leaves the block's value bit-identical.
	before := b.Get()
	tx2 := b.Transaction()
	tx2.Set("c")
	require.Equal(t, before, b.Get())
}

func TestCellBlockAndRevertUndoesOneCommit(t *testing.T) {
	c := NewCell(1)
	b1 := c.Block()
	b1.Set(2)
	b1.Commit()
	require.Equal(t, 2, c.View().Get())

	b2 := c.Block()
	b2.Set(3)
	b2.Commit()
	require.Equal(t, 3, c.View().Get())

	// Revert discards the top commit (3) and stages atop the one before it (2).
	r := c.BlockAndRevert()
	require.Equal(t, 2, r.Get())
	r.Set(42)
	r.Commit()
	require.Equal(t, 42, c.View().Get())
}

func TestStorageBlockCommitIsolated(t *testing.T) {
	s := NewStorage[string, int](func(a, b string) bool { return a < b })
	b := s.Block()
	b.Set("x", 1)
	b.Set("y", 2)
	b.Commit()

	v := s.View()
	got, ok := v.Get("x")
	require.True(t, ok)
	require.Equal(t, 1, got)

	// A second, uncommitted block must not leak into the committed view.
	b2 := s.Block()
	b2.Set("x", 100)
	b2.Delete("y")
	got, ok = s.View().Get("x")
	require.True(t, ok)
	require.Equal(t, 1, got)
}

func TestStorageAscendOrder(t *testing.T) {
	s := NewStorage[string, int](func(a, b string) bool { return a < b })
	b := s.Block()
	for _, k := range []string{"c", "a", "b"} {
		b.Set(k, len(k))
	}
	b.Commit()

	var order []string
	s.View().Scan(func(k string, v int) bool {
		order = append(order, k)
		return true
	})
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestStorageBlockAndRevert(t *testing.T) {
	s := NewStorage[string, int](func(a, b string) bool { return a < b })

	b1 := s.Block()
	b1.Set("k", 1)
	b1.Commit()

	b2 := s.Block()
	b2.Set("k", 2)
	b2.Commit()
	got, _ := s.View().Get("k")
	require.Equal(t, 2, got)

	r := s.BlockAndRevert()
	got, ok := r.Get("k")
	require.True(t, ok)
	require.Equal(t, 1, got)
	r.Commit()

	got, _ = s.View().Get("k")
	require.Equal(t, 1, got)
}

func TestStorageTransactionDropLeavesBlockUnchanged(t *testing.T) {
	s := NewStorage[string, int](func(a, b string) bool { return a < b })
	b := s.Block()
	b.Set("k", 1)

	tx := b.Transaction()
	tx.Set("k", 2)
	tx.Delete("other")
	// tx dropped without Apply: block must be byte-identical to before.
	got, _ := b.Get("k")
	require.Equal(t, 1, got)
}
