package blocksync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
	"github.com/meridianledger/meridian/executor"
	"github.com/meridianledger/meridian/executor/builtin"
	"github.com/meridianledger/meridian/kura"
	"github.com/meridianledger/meridian/state"
	"github.com/meridianledger/meridian/topology"
	"github.com/meridianledger/meridian/txexec"
)

// sealedBlock builds a single-peer-topology block signed solely by priv, so
// it carries both the leader signature and a full quorum (n=1) under topo.
func sealedBlock(t *testing.T, priv crypto.PrivateKey, topo topology.Topology, prev *core.BlockHeader) *core.Block {
	t.Helper()
	hash := topo.Hash()
	b := core.NewBlockBuilder(nil).Chain(0, prev, hash, hash)
	require.NoError(t, b.Sign(priv))
	require.NoError(t, b.Categorize(func(*core.SignedTransaction) error { return nil }))
	require.NoError(t, b.Commit(topo.MinVotesForCommit()))
	return b
}

func TestApplyBlockExtendsChainByOneHeight(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	topo := topology.New([]core.PeerID{core.PeerID(pub.Hex())})

	store, err := kura.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	st := state.New("test-chain", state.DefaultParameters(), nil)
	eng := txexec.New(executor.New(), builtin.Default(), nil)
	cat := New(store, st, eng, topo)

	block := sealedBlock(t, priv, topo, nil)
	require.NoError(t, cat.ApplyBlock(block))
	require.Equal(t, uint64(1), st.Height())

	tip, ok, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, core.StatusCommitted, tip.Status)
}

func TestApplyBlockRejectsWrongHeight(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	topo := topology.New([]core.PeerID{core.PeerID(pub.Hex())})

	store, err := kura.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	st := state.New("test-chain", state.DefaultParameters(), nil)
	eng := txexec.New(executor.New(), builtin.Default(), nil)
	cat := New(store, st, eng, topo)

	block := sealedBlock(t, priv, topo, nil)
	block.Header.Height = 5
	err = cat.ApplyBlock(block)
	require.Error(t, err)
}

func TestApplyBlockRejectsForgedQuorum(t *testing.T) {
	forger, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, realPub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	topo := topology.New([]core.PeerID{core.PeerID(realPub.Hex())})

	store, err := kura.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	st := state.New("test-chain", state.DefaultParameters(), nil)
	eng := txexec.New(executor.New(), builtin.Default(), nil)
	cat := New(store, st, eng, topo)

	// Forge a "committed" block claiming the real topology's hash, but
	// signed by a key that topology does not recognize at slot 0: the
	// structural checks core.Block.Commit performs (leader slot present,
	// enough signatures) are satisfied, but none of those signatures
	// verify against a real topology peer's key.
	hash := topo.Hash()
	b := core.NewBlockBuilder(nil).Chain(0, nil, hash, hash)
	require.NoError(t, b.Sign(forger))
	require.NoError(t, b.Categorize(func(*core.SignedTransaction) error { return nil }))
	require.NoError(t, b.Commit(topo.MinVotesForCommit()))

	err = cat.ApplyBlock(b)
	require.Error(t, err)
	require.Equal(t, uint64(0), st.Height())
}
