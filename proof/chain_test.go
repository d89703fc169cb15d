package proof

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
	"github.com/meridianledger/meridian/topology"
)

// sevenPeerTopology returns a seven-peer topology whose peer IDs are real
// hex public keys, together with the matching private keys by slot.
func sevenPeerTopology(t *testing.T) (topology.Topology, []crypto.PrivateKey) {
	t.Helper()
	ids := make([]core.PeerID, 7)
	keys := make([]crypto.PrivateKey, 7)
	for i := range ids {
		priv, pub, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		ids[i] = core.PeerID(pub.Hex())
		keys[i] = priv
	}
	return topology.New(ids), keys
}

// vote is slot signer's view-change signature over (anchor, index).
func vote(keys []crypto.PrivateKey, signer int, anchor core.Hash, index uint64) crypto.Signature {
	return crypto.Signature{Signatory: crypto.SignatoryIndex(signer), Data: crypto.Sign(keys[signer], SigningBytes(anchor, index))}
}

func TestInsertProofRequiresMatchingAnchorAndIndex(t *testing.T) {
	topo, keys := sevenPeerTopology(t)
	var c Chain

	p0 := Proof{Anchor: "block-1", Index: 0, Signatures: crypto.NewSignatureSet(vote(keys, 1, "block-1", 0))}
	require.True(t, c.InsertProof(p0, topo, "block-1", 1))
	require.Equal(t, 1, c.Len())

	// wrong anchor is rejected
	pBad := Proof{Anchor: "other", Index: 1, Signatures: crypto.NewSignatureSet(vote(keys, 2, "other", 1))}
	require.False(t, c.InsertProof(pBad, topo, "block-1", 2))

	// out-of-order index is rejected (chain length is 1, so next must be index 1)
	pSkip := Proof{Anchor: "block-1", Index: 2, Signatures: crypto.NewSignatureSet(vote(keys, 3, "block-1", 2))}
	require.False(t, c.InsertProof(pSkip, topo, "block-1", 3))
}

func TestVerifyWithStateRequiresQuorum(t *testing.T) {
	topo, keys := sevenPeerTopology(t) // f=2, need f+1=3 sigs per proof
	var c Chain

	sigs := crypto.NewSignatureSet(
		vote(keys, 1, "b", 0),
		vote(keys, 2, "b", 0),
	)
	c.InsertProof(Proof{Anchor: "b", Index: 0, Signatures: sigs}, topo, "b", 1)
	require.Equal(t, uint64(0), c.VerifyWithState(topo, "b"), "only 2 of 3 required signatures present")

	merged := Proof{Anchor: "b", Index: 0, Signatures: crypto.NewSignatureSet(vote(keys, 3, "b", 0))}
	c.InsertProof(merged, topo, "b", 3)
	require.Equal(t, uint64(1), c.VerifyWithState(topo, "b"))
}

func TestPruneClearsOnAnchorMismatch(t *testing.T) {
	topo, keys := sevenPeerTopology(t)
	var c Chain
	c.InsertProof(Proof{Anchor: "b1", Index: 0, Signatures: crypto.NewSignatureSet(vote(keys, 1, "b1", 0))}, topo, "b1", 1)
	require.Equal(t, 1, c.Len())

	c.Prune("b2")
	require.Equal(t, 0, c.Len())
}

func TestGetProofForViewChange(t *testing.T) {
	topo, keys := sevenPeerTopology(t)
	var c Chain
	c.InsertProof(Proof{Anchor: "b", Index: 0, Signatures: crypto.NewSignatureSet(vote(keys, 1, "b", 0))}, topo, "b", 1)

	_, ok := c.GetProofForViewChange(5)
	require.False(t, ok)
	p, ok := c.GetProofForViewChange(0)
	require.True(t, ok)
	require.Equal(t, core.Hash("b"), p.Anchor)
}
