package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianledger/meridian/core"
)

func peers(n int) []core.PeerID {
	ids := make([]core.PeerID, n)
	for i := range ids {
		ids[i] = core.PeerID(string(rune('a' + i)))
	}
	return ids
}

func TestRoleAssignmentSevenPeers(t *testing.T) {
	// n=7, f=2: leader at 0, validating peers 1..3, proxy tail at 4,
	// observing peers at 5,6.
	tp := New(peers(7))
	require.Equal(t, 2, tp.MaxFaults())
	require.Equal(t, 5, tp.MinVotesForCommit())

	require.Equal(t, RoleLeader, tp.RoleOf("a"))
	require.Equal(t, RoleValidatingPeer, tp.RoleOf("b"))
	require.Equal(t, RoleProxyTail, tp.RoleOf("e"))
	require.Equal(t, RoleObservingPeer, tp.RoleOf("f"))
	require.Equal(t, RoleObservingPeer, tp.RoleOf("g"))
	require.Equal(t, RoleUndefined, tp.RoleOf("zzz"))
}

func TestIsConsensusRequiredSinglePeer(t *testing.T) {
	require.False(t, New(peers(1)).IsConsensusRequired())
	require.True(t, New(peers(4)).IsConsensusRequired())
}

func TestNthRotation(t *testing.T) {
	tp := New(peers(4))
	r1 := tp.NthRotation(1)
	require.Equal(t, []core.PeerID{"b", "c", "d", "a"}, r1.Peers())

	r4 := tp.NthRotation(4)
	require.Equal(t, tp.Peers(), r4.Peers(), "rotating by n wraps back to the original order")
}

func TestBlockCommittedRotatesAndReconciles(t *testing.T) {
	tp := New(peers(4)) // a b c d
	next := tp.BlockCommitted([]core.PeerID{"b", "c", "d", "e"})
	// one leader-to-tail rotation of a,b,c,d -> b,c,d,a; then drop a (not in
	// newPeers) and append e at the tail.
	require.Equal(t, []core.PeerID{"b", "c", "d", "e"}, next.Peers())
}

func TestProxyTailAbsentForSmallTopology(t *testing.T) {
	tp := New(peers(2)) // n=2, f=0, proxy tail slot n-f-1=1 but n<=f+1 is false... check n=1
	_, ok := New(peers(1)).ProxyTail()
	require.False(t, ok)
	_, ok = tp.ProxyTail()
	require.True(t, ok)
}
