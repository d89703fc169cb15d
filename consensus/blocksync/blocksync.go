// Package blocksync is the categorizer a peer falls back to when it
// receives a block out of band from the normal Sumeragi round: catching up
// after falling behind, or accepting a soft-fork replacement for the block
// it last committed. Both paths share the same height/view-change
// bookkeeping, which is why they live together rather than inside
// consensus itself.
package blocksync

import (
	"errors"
	"fmt"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
	"github.com/meridianledger/meridian/kura"
	"github.com/meridianledger/meridian/state"
	"github.com/meridianledger/meridian/topology"
	"github.com/meridianledger/meridian/txexec"
)

// Categorizer applies externally-received blocks to the local store and
// state: either extending the chain by exactly one height, or replacing the
// block currently at the tip with a higher-view-change-index soft fork.
// It tracks the topology the chain's last two commits were made under, so
// a block arriving out of band can have its claimed commit_topology
// reconstructed and its signatures checked against a real quorum rather
// than trusted on the strength of its Status field alone.
type Categorizer struct {
	store *kura.Store
	st    *state.State
	exec  *txexec.Engine

	topo     topology.Topology // topology in effect for the next block to extend the chain
	prevTopo topology.Topology // topology in effect one commit back, for verifying a soft fork
}

// New creates a Categorizer writing through to store and st, verifying
// incoming blocks against topo (the topology following the chain's current
// tip).
func New(store *kura.Store, st *state.State, exec *txexec.Engine, topo topology.Topology) *Categorizer {
	return &Categorizer{store: store, st: st, exec: exec, topo: topo, prevTopo: topo}
}

// ApplyBlock accepts block as the next height, or as a soft-fork
// replacement for the current tip, reconstructing the commit topology the
// block claims and requiring a real quorum of cryptographically valid
// signatures from it before re-executing and committing. It implements
// network.BlockApplier and is for untrusted, peer-supplied blocks; a
// node's own previously-committed blocks should go through Replay instead.
func (c *Categorizer) ApplyBlock(block *core.Block) error {
	return c.apply(block, true)
}

// Replay applies block exactly as ApplyBlock does but skips quorum
// verification, for blocks this node already committed itself (restart
// replay from local storage, where the signatures were already checked
// once at original commit time and the trust boundary is the local disk,
// not the network).
func (c *Categorizer) Replay(block *core.Block) error {
	return c.apply(block, false)
}

func (c *Categorizer) apply(block *core.Block, verifyQuorum bool) error {
	if block.Status != core.StatusCommitted {
		return fmt.Errorf("%w: block %d is not committed", core.ErrBlockNotValid, block.Header.Height)
	}
	if err := block.VerifyIntegrity(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrBlockNotValid, err)
	}

	tipHeight, err := c.store.TipHeight()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInternal, err)
	}

	switch {
	case block.Header.Height == tipHeight+1:
		if verifyQuorum {
			if err := c.verifyQuorum(block, c.topo); err != nil {
				return err
			}
		}
		return c.extend(block)
	case block.Header.Height == tipHeight && tipHeight > 0:
		if verifyQuorum {
			if err := c.verifyQuorum(block, c.prevTopo); err != nil {
				return err
			}
		}
		return c.softFork(block)
	default:
		return fmt.Errorf("%w: block at height %d, local tip at %d", core.ErrBlockNotProperHeight, block.Header.Height, tipHeight)
	}
}

// verifyQuorum checks that block claims commit_topology as topo (the
// topology it should have been produced and voted under), that topo
// actually required a quorum it could have met, and that block.Signatures
// contains at least MinVotesForCommit cryptographically valid signatures
// from topo's peers, including the mandatory leader (slot 0) signature —
// the check §4.6 requires before replaying a block received out of band.
func (c *Categorizer) verifyQuorum(block *core.Block, topo topology.Topology) error {
	if block.Header.CommitTopologyHash != topo.Hash() {
		return fmt.Errorf("%w: block %d commit_topology does not match reconstructed topology", core.ErrBlockNotValid, block.Header.Height)
	}
	if !block.Signatures.Has(0) {
		return fmt.Errorf("%w: block %d missing leader signature", core.ErrBlockNotValid, block.Header.Height)
	}
	peers := topo.Peers()
	valid := 0
	leaderValid := false
	for _, sig := range block.Signatures.All() {
		if int(sig.Signatory) < 0 || int(sig.Signatory) >= len(peers) {
			continue
		}
		pub, err := crypto.PubKeyFromHex(string(peers[sig.Signatory]))
		if err != nil {
			continue
		}
		if err := crypto.Verify(pub, []byte(block.Header.Hash()), sig.Data); err != nil {
			continue
		}
		if sig.Signatory == 0 {
			leaderValid = true
		}
		valid++
	}
	if !leaderValid {
		return fmt.Errorf("%w: block %d leader signature does not verify", core.ErrBlockNotValid, block.Header.Height)
	}
	if need := topo.MinVotesForCommit(); valid < need {
		return fmt.Errorf("%w: block %d has %d valid signatures, need %d", core.ErrBlockNotValid, block.Header.Height, valid, need)
	}
	return nil
}

func (c *Categorizer) extend(block *core.Block) error {
	worldBlock := c.replay(block)
	if worldBlock == nil {
		return fmt.Errorf("%w: re-execution failed", core.ErrBlockNotValid)
	}
	if err := c.store.StoreBlock(block); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInternal, err)
	}
	worldBlock.Commit()
	if err := c.st.RecordBlock(block.Header.Height, block.Header.Hash(), txHashes(block)); err != nil {
		return err
	}
	c.advanceTopology()
	return nil
}

// advanceTopology rotates the tracked topology the same way a successful
// round does (consensus.Sumeragi.commitLocked), keeping prevTopo one commit
// behind topo so a subsequent soft fork at the new tip can still be
// verified against the topology that actually produced it.
func (c *Categorizer) advanceTopology() {
	c.prevTopo = c.topo
	c.topo = c.topo.BlockCommitted(c.st.World.View().TrustedPeers.Get())
}

func (c *Categorizer) softFork(block *core.Block) error {
	current, ok, err := c.store.GetBlockByHeight(block.Header.Height)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInternal, err)
	}
	if !ok {
		return fmt.Errorf("%w: no block stored at height %d to replace", core.ErrInternal, block.Header.Height)
	}
	if block.Header.ViewChangeIndex <= current.Header.ViewChangeIndex {
		return fmt.Errorf("%w: replacement view-change index %d does not exceed current %d",
			core.ErrSoftForkSmallViewChangeIndex, block.Header.ViewChangeIndex, current.Header.ViewChangeIndex)
	}

	// Undo the rejected block's commit first, so the replacement's
	// transactions replay against the state as it stood before that block.
	c.st.World.BlockAndRevert().Commit()

	worldBlock := c.replay(block)
	if worldBlock == nil {
		return fmt.Errorf("%w: re-execution failed", core.ErrSoftForkBlockNotValid)
	}
	if err := c.store.ReplaceTopBlock(block.Header.Height, block); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInternal, err)
	}
	worldBlock.Commit()
	if err := c.st.ReplaceTop(block.Header.Hash(), txHashes(block)); err != nil {
		return err
	}
	// The replacement still extends prevTopo (the topology before the
	// block being replaced), just possibly with a different resulting
	// membership than the block it displaces produced.
	c.topo = c.prevTopo.BlockCommitted(c.st.World.View().TrustedPeers.Get())
	return nil
}

// replay re-executes block's transactions against a fresh world-block
// handle, returning it uncommitted (the caller decides how to fold it in),
// or nil if any transaction's outcome disagrees with the block's recorded
// outcome.
func (c *Categorizer) replay(block *core.Block) *state.Block {
	wb := c.st.World.Block()
	for i, tx := range block.Transactions {
		accepted := &core.AcceptedTransaction{SignedTransaction: tx, Hash: tx.Hash()}
		err := c.exec.Execute(wb, block.Header.Height, accepted)
		wantErr := i < len(block.Outcomes) && block.Outcomes[i].Error != ""
		if (err != nil) != wantErr {
			return nil
		}
	}
	return wb
}

func txHashes(block *core.Block) []core.Hash {
	hashes := make([]core.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		hashes[i] = tx.Hash()
	}
	return hashes
}

// ErrCaughtUp is returned by callers (not by Categorizer itself) when a
// sync request turns out to need no blocks because the local tip already
// matches the peer's.
var ErrCaughtUp = errors.New("blocksync: already caught up")
