package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
	"github.com/meridianledger/meridian/events"
	"github.com/meridianledger/meridian/executor"
	"github.com/meridianledger/meridian/executor/builtin"
	"github.com/meridianledger/meridian/kura"
	"github.com/meridianledger/meridian/network"
	"github.com/meridianledger/meridian/queue"
	"github.com/meridianledger/meridian/state"
	"github.com/meridianledger/meridian/topology"
	"github.com/meridianledger/meridian/txexec"
)

func TestSingleLeaderTopologySelfCommits(t *testing.T) {
	dir := t.TempDir()
	store, err := kura.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	peerID := core.PeerID(pub.Hex())
	topo := topology.New([]core.PeerID{peerID})

	st := state.New("test-chain", state.DefaultParameters(), nil)
	eng := txexec.New(executor.New(), builtin.Default(), nil)
	q := queue.New(10)
	node := network.NewNode("leader", "127.0.0.1:0", q, nil, nil)
	emitter := events.NewEmitter()

	s := New("test-chain", peerID, priv, topo, store, st, eng, node, emitter,
		core.AcceptanceLimits{MaxInstructions: 10, MaxClockDrift: time.Minute}, time.Second, 5*time.Second, nil)

	require.NoError(t, s.StartRound(q))
	require.Equal(t, uint64(1), st.Height())

	tip, ok, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, core.StatusCommitted, tip.Status)
}
