// Package genesis bootstraps a fresh chain: one designated peer builds and
// commits block #0 from a declarative genesis document; every other peer
// waits to receive it over the network before joining the normal
// consensus round.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
	"github.com/meridianledger/meridian/executor"
	"github.com/meridianledger/meridian/kura"
	"github.com/meridianledger/meridian/network"
	"github.com/meridianledger/meridian/state"
	"github.com/meridianledger/meridian/txexec"
)

// ErrAlreadyBootstrapped is returned by Bootstrap when the local state is
// not at height 0.
var ErrAlreadyBootstrapped = errors.New("genesis: state is already past height 0")

// Document is the declarative genesis body: the instructions that
// establish the chain's first domains, accounts, roles and trusted peer
// set, executed atomically as block #0.
type Document struct {
	ChainID      string             `json:"chain_id"`
	TrustedPeers []core.PeerID      `json:"trusted_peers"`
	Instructions []core.Instruction `json:"instructions"`
}

// allInstructions returns doc's explicit instructions followed by one
// RegisterPeer instruction per entry in TrustedPeers, so callers only need
// to list peer identities once rather than hand-writing the instructions.
func (doc *Document) allInstructions() []core.Instruction {
	instructions := make([]core.Instruction, 0, len(doc.Instructions)+len(doc.TrustedPeers))
	instructions = append(instructions, doc.Instructions...)
	for _, peer := range doc.TrustedPeers {
		instr, err := core.NewInstruction(core.InstrRegisterPeer, core.RegisterPeerPayload{Peer: peer})
		if err != nil {
			continue
		}
		instructions = append(instructions, instr)
	}
	return instructions
}

// Load reads and parses a genesis document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	return &doc, nil
}

// Bootstrap runs the genesis peer's bootstrap sequence (spec §4.7, steps
// 1–4): assert the chain is empty, build and sign a genesis transaction
// carrying doc's instructions, execute it at height 0 (where the executor
// policy accepts unconditionally), broadcast the committed block, and
// return it.
func Bootstrap(doc *Document, priv crypto.PrivateKey, store *kura.Store, st *state.State, exec *txexec.Engine, node *network.Node) (*core.Block, error) {
	if st.Height() != 0 {
		return nil, ErrAlreadyBootstrapped
	}

	tx := core.NewSignedTransaction(doc.ChainID, executor.GenesisAccount, 24*time.Hour, core.Instructions{BuiltIn: doc.allInstructions()})
	if err := tx.Sign(priv); err != nil {
		return nil, fmt.Errorf("genesis: sign bootstrap transaction: %w", err)
	}

	block := core.NewBlockBuilder([]*core.SignedTransaction{tx}).Chain(0, nil, "", "")
	if err := block.Sign(priv); err != nil {
		return nil, fmt.Errorf("genesis: sign candidate: %w", err)
	}

	wb := st.World.Block()
	executeAt0 := func(signed *core.SignedTransaction) error {
		accepted := &core.AcceptedTransaction{SignedTransaction: signed, Hash: signed.Hash()}
		return exec.Execute(wb, 0, accepted)
	}
	if err := block.Categorize(executeAt0); err != nil {
		return nil, fmt.Errorf("genesis: categorize: %w", err)
	}
	for _, outcome := range block.Outcomes {
		if outcome.Error != "" {
			return nil, fmt.Errorf("genesis: instruction failed: %s", outcome.Error)
		}
	}

	if err := block.Commit(1); err != nil {
		return nil, fmt.Errorf("genesis: commit: %w", err)
	}

	if err := store.StoreBlock(block); err != nil {
		return nil, fmt.Errorf("genesis: store: %w", err)
	}
	wb.Commit()
	txHashes := make([]core.Hash, len(block.Transactions))
	for i, t := range block.Transactions {
		txHashes[i] = t.Hash()
	}
	if err := st.RecordBlock(1, block.Header.Hash(), txHashes); err != nil {
		return nil, fmt.Errorf("genesis: record: %w", err)
	}

	node.BroadcastBlockCreated(block)
	node.BroadcastBlockCommitted(block)
	return block, nil
}

// WaitForGenesis implements init_listen_for_genesis: every non-bootstrap
// peer blocks here, polling every pollInterval, until a committed genesis
// block arrives over the network (as BlockCreated or BlockSyncUpdate),
// validates it against the bootstrap peer's key, commits it locally, and
// returns. Peers that already have committed state (st.Height() > 0) must
// not call this at all.
func WaitForGenesis(bootstrapPeer crypto.PublicKey, store *kura.Store, st *state.State, exec *txexec.Engine, node *network.Node, pollInterval time.Duration, done <-chan struct{}) (*core.Block, error) {
	received := make(chan *core.Block, 1)
	node.Handle(network.MsgBlockCreated, func(_ *network.Peer, msg network.Message) {
		var payload network.BlockCreatedPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Block == nil {
			return
		}
		select {
		case received <- payload.Block:
		default:
		}
	})
	node.Handle(network.MsgBlockSyncUpdate, func(_ *network.Peer, msg network.Message) {
		var payload network.BlockSyncUpdatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || len(payload.Blocks) == 0 || payload.Blocks[0] == nil {
			return
		}
		select {
		case received <- payload.Blocks[0]:
		default:
		}
	})

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil, errors.New("genesis: wait cancelled")
		case candidate := <-received:
			block, err := acceptGenesis(candidate, bootstrapPeer, store, st, exec)
			if err != nil {
				continue // malformed or unsigned-by-bootstrap-peer candidate; keep waiting
			}
			node.BroadcastBlockCommitted(block)
			return block, nil
		case <-ticker.C:
			// no candidate yet; loop
		}
	}
}

func acceptGenesis(candidate *core.Block, bootstrapPeer crypto.PublicKey, store *kura.Store, st *state.State, exec *txexec.Engine) (*core.Block, error) {
	if candidate.Header.Height != 1 {
		return nil, fmt.Errorf("genesis: candidate at height %d, want 1", candidate.Header.Height)
	}
	// The bootstrap peer sends genesis already committed; re-validate it
	// locally from the New stage.
	if candidate.Status == core.StatusCommitted {
		candidate.Status = core.StatusNew
	}
	wb := st.World.Block()
	executeAt0 := func(signed *core.SignedTransaction) error {
		accepted := &core.AcceptedTransaction{SignedTransaction: signed, Hash: signed.Hash()}
		return exec.Execute(wb, 0, accepted)
	}
	valid, err := core.Validate(candidate, bootstrapPeer, executeAt0)
	if err != nil {
		return nil, err
	}
	if err := valid.Commit(1); err != nil {
		return nil, err
	}
	if err := store.StoreBlock(valid); err != nil {
		return nil, err
	}
	wb.Commit()
	txHashes := make([]core.Hash, len(valid.Transactions))
	for i, t := range valid.Transactions {
		txHashes[i] = t.Hash()
	}
	if err := st.RecordBlock(1, valid.Header.Hash(), txHashes); err != nil {
		return nil, err
	}
	return valid, nil
}
