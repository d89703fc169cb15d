package genesis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
	"github.com/meridianledger/meridian/executor"
	"github.com/meridianledger/meridian/executor/builtin"
	"github.com/meridianledger/meridian/kura"
	"github.com/meridianledger/meridian/network"
	"github.com/meridianledger/meridian/queue"
	"github.com/meridianledger/meridian/state"
	"github.com/meridianledger/meridian/txexec"
)

func TestBootstrapCommitsGenesisBlock(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	store, err := kura.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	st := state.New("test-chain", state.DefaultParameters(), nil)
	eng := txexec.New(executor.New(), builtin.Default(), nil)
	node := network.NewNode("genesis-peer", "127.0.0.1:0", queue.New(10), nil, nil)

	registerDomain, err := core.NewInstruction(core.InstrRegisterDomain, core.RegisterDomainPayload{ID: "wonderland"})
	require.NoError(t, err)

	doc := &Document{
		ChainID:      "test-chain",
		TrustedPeers: []core.PeerID{core.PeerID(pub.Hex())},
		Instructions: []core.Instruction{registerDomain},
	}

	block, err := Bootstrap(doc, priv, store, st, eng, node)
	require.NoError(t, err)
	require.Equal(t, core.StatusCommitted, block.Status)
	require.Equal(t, uint64(1), st.Height())

	require.True(t, st.World.View().TrustedPeers.Get()[0] == core.PeerID(pub.Hex()))
	_, ok := st.World.View().Domains.Get("wonderland")
	require.True(t, ok)
}

func TestBootstrapRejectsNonZeroHeight(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	store, err := kura.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	st := state.New("test-chain", state.DefaultParameters(), nil)
	require.NoError(t, st.RecordBlock(1, "deadbeef", nil))

	eng := txexec.New(executor.New(), builtin.Default(), nil)
	node := network.NewNode("genesis-peer", "127.0.0.1:0", queue.New(10), nil, nil)

	doc := &Document{ChainID: "test-chain"}
	_, err = Bootstrap(doc, priv, store, st, eng, node)
	require.ErrorIs(t, err, ErrAlreadyBootstrapped)
}
