package network

import (
	"encoding/json"

	"github.com/meridianledger/meridian/core"
)

// BlockApplier validates and commits a synced block into the local kura
// store and state, in one step. The blocksync package supplies the
// concrete implementation (it knows how to run a block through the
// executor and detect a soft fork).
type BlockApplier interface {
	ApplyBlock(block *core.Block) error
}

// HeightSource reports the highest height currently stored locally, and
// answers requests for blocks since a given height.
type HeightSource interface {
	TipHeight() (uint64, error)
	BlocksFrom(height uint64, limit int) ([]*core.Block, error)
}

// Syncer handles block synchronisation between nodes: it asks a peer for
// everything past the local tip and applies whatever comes back, and
// answers the same request when asked. Adapted from the teacher's
// get_blocks/blocks request-response pair, collapsed into a single
// block_sync_update exchange since a BFT chain never needs a competing
// fork resolved, only a height gap filled.
type Syncer struct {
	node    *Node
	heights HeightSource
	applier BlockApplier
}

// NewSyncer creates a Syncer that requests missing blocks from peers and
// applies blocks received from them.
func NewSyncer(node *Node, heights HeightSource, applier BlockApplier) *Syncer {
	s := &Syncer{node: node, heights: heights, applier: applier}
	node.Handle(MsgBlockSyncUpdate, s.handleUpdate)
	return s
}

// RequestSync asks peer for every block it has from the local tip onward.
func (s *Syncer) RequestSync(peer *Peer) error {
	tip, err := s.heights.TipHeight()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(BlockSyncUpdatePayload{FromHeight: tip + 1})
	if err != nil {
		return err
	}
	return peer.Send(Message{Type: MsgBlockSyncUpdate, Payload: payload})
}

func (s *Syncer) handleUpdate(peer *Peer, msg Message) {
	var update BlockSyncUpdatePayload
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		s.node.log.Errorf("unmarshal block_sync_update: %v", err)
		return
	}
	if len(update.Blocks) == 0 {
		s.reply(peer, update.FromHeight)
		return
	}
	for _, b := range update.Blocks {
		if err := s.applier.ApplyBlock(b); err != nil {
			s.node.log.Errorf("apply block %d from %s failed: %v", b.Header.Height, peer.ID, err)
			return
		}
	}
}

func (s *Syncer) reply(peer *Peer, fromHeight uint64) {
	blocks, err := s.heights.BlocksFrom(fromHeight, 200)
	if err != nil {
		s.node.log.Errorf("load blocks from %d: %v", fromHeight, err)
		return
	}
	payload, err := json.Marshal(BlockSyncUpdatePayload{FromHeight: fromHeight, Blocks: blocks})
	if err != nil {
		s.node.log.Errorf("marshal block_sync_update reply: %v", err)
		return
	}
	if err := peer.Send(Message{Type: MsgBlockSyncUpdate, Payload: payload}); err != nil {
		s.node.log.Errorf("send block_sync_update reply to %s: %v", peer.ID, err)
	}
}
