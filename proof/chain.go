// Package proof implements the view-change proof chain: the evidence peers
// accumulate to justify abandoning the current round in favor of a new
// leader rotation.
package proof

import (
	"fmt"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
	"github.com/meridianledger/meridian/topology"
)

// SigningBytes is the exact byte sequence a view-change vote signs: the
// anchor block the chain is abandoning and the index being voted for.
// Signers and verifiers must agree on this encoding or every signature
// fails verification.
func SigningBytes(anchor core.Hash, index uint64) []byte {
	return []byte(fmt.Sprintf("%s:%d", anchor, index))
}

// verifiedSignatures returns the subset of sigs that are cryptographically
// valid over SigningBytes(anchor, index) by a peer actually present in
// topo at the signatory's claimed index. Forged or stale signatures (an
// index no longer held by the key that produced them, or bytes that don't
// verify) are silently dropped rather than causing the whole proof to be
// rejected, so a proof merging signatures from several senders only loses
// the bad ones.
func verifiedSignatures(sigs crypto.SignatureSet, anchor core.Hash, index uint64, topo topology.Topology) crypto.SignatureSet {
	peers := topo.Peers()
	msg := SigningBytes(anchor, index)
	var out crypto.SignatureSet
	for _, sig := range sigs.All() {
		if int(sig.Signatory) < 0 || int(sig.Signatory) >= len(peers) {
			continue
		}
		pub, err := crypto.PubKeyFromHex(string(peers[sig.Signatory]))
		if err != nil {
			continue
		}
		if err := crypto.Verify(pub, msg, sig.Data); err != nil {
			continue
		}
		out.Add(sig)
	}
	return out
}

// Proof asserts, under the signatures of f+1 peers, that the block
// identified by Anchor should be abandoned in favor of view-change index
// Index+1.
type Proof struct {
	Anchor     core.Hash           `json:"anchor"`
	Index      uint64              `json:"index"`
	Signatures crypto.SignatureSet `json:"signatures"`
}

// Chain is an ordered list of proofs, one per view-change index, each
// extending the previous index by exactly one.
type Chain struct {
	proofs []Proof
}

// Len returns the number of proofs currently held.
func (c *Chain) Len() int { return len(c.proofs) }

// InsertProof appends proof to the chain iff: its anchor matches
// latestBlock, its signatory is a member of topology, and its index equals
// the chain's current length (i.e. it extends the chain by exactly one). A
// proof for an index already present has its signature merged in instead
// of creating a duplicate entry, deduplicating by signatory.
func (c *Chain) InsertProof(p Proof, topo topology.Topology, latestBlock core.Hash, signer crypto.SignatoryIndex) bool {
	if p.Anchor != latestBlock {
		return false
	}
	if int(signer) < 0 || int(signer) >= topo.Len() {
		return false
	}
	verified := verifiedSignatures(p.Signatures, p.Anchor, p.Index, topo)
	if verified.Len() == 0 {
		return false
	}
	p.Signatures = verified
	if int(p.Index) == len(c.proofs) {
		c.proofs = append(c.proofs, p)
		return true
	}
	if int(p.Index) < len(c.proofs) {
		existing := &c.proofs[p.Index]
		for _, sig := range p.Signatures.All() {
			existing.Signatures.Add(sig)
		}
		return true
	}
	return false
}

// VerifyWithState returns the largest prefix length k such that every
// proof at index i < k carries at least f+1 valid signatures from topo, its
// stored index equals i, and its anchor matches latestBlock. That length is
// the chain's verified view-change index.
func (c *Chain) VerifyWithState(topo topology.Topology, latestBlock core.Hash) uint64 {
	minSigs := topo.MaxFaults() + 1
	var k uint64
	for i, p := range c.proofs {
		if int(p.Index) != i {
			break
		}
		if p.Anchor != latestBlock {
			break
		}
		if verifiedSignatures(p.Signatures, p.Anchor, p.Index, topo).Len() < minSigs {
			break
		}
		k++
	}
	return k
}

// Prune clears the chain if its anchor (the first proof's anchor) no longer
// matches latestBlock, which happens once the round commits a new block.
func (c *Chain) Prune(latestBlock core.Hash) {
	if len(c.proofs) == 0 {
		return
	}
	if c.proofs[0].Anchor != latestBlock {
		c.proofs = nil
	}
}

// GetProofForViewChange returns the proof at view-change index i, for
// rebroadcast to peers that missed it.
func (c *Chain) GetProofForViewChange(i uint64) (Proof, bool) {
	if int(i) < 0 || int(i) >= len(c.proofs) {
		return Proof{}, false
	}
	return c.proofs[i], true
}
