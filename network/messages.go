package network

import (
	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
)

// HelloPayload identifies the sending peer when a connection is first
// established.
type HelloPayload struct {
	PeerID string `json:"peer_id"`
}

// TxPayload carries one client-submitted transaction for mempool admission.
type TxPayload struct {
	Transaction *core.SignedTransaction `json:"transaction"`
}

// BlockCreatedPayload is broadcast by the leader once it has assembled and
// signed a candidate block, starting the validation round.
type BlockCreatedPayload struct {
	Block *core.Block `json:"block"`
}

// BlockSignedPayload carries one peer's signature over the block currently
// being voted on, addressed back to the proxy tail collecting the quorum.
type BlockSignedPayload struct {
	BlockHash core.Hash       `json:"block_hash"`
	Height    uint64          `json:"height"`
	Signature crypto.Signature `json:"signature"`
}

// BlockCommittedPayload is broadcast by the proxy tail once a quorum of
// signatures has been assembled, instructing every peer to commit the block.
type BlockCommittedPayload struct {
	Block *core.Block `json:"block"`
}

// BlockSyncUpdatePayload is exchanged between the block-synchronization
// collaborators of two peers to reconcile a height gap.
type BlockSyncUpdatePayload struct {
	FromHeight uint64        `json:"from_height"`
	Blocks     []*core.Block `json:"blocks"`
}

// ControlFlowPayload carries a view-change proof vote or request between
// peers outside the normal signing round.
type ControlFlowPayload struct {
	ViewChangeIndex uint64              `json:"view_change_index"`
	Proof           *ControlFlowProof   `json:"proof,omitempty"`
}

// ControlFlowProof mirrors proof.Proof without importing the proof package,
// keeping network free of a dependency on the consensus machinery it only
// ferries bytes for.
type ControlFlowProof struct {
	Anchor     core.Hash         `json:"anchor"`
	Index      uint64            `json:"index"`
	Signatures crypto.SignatureSet `json:"signatures"`
}
