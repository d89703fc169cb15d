package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meridianledger/meridian/crypto"
)

// BlockStatus is the lifecycle stage a block occupies: Unverified, New,
// Valid or Committed. Stages only move forward; a soft fork produces a new
// New block rather than rewinding an existing one.
type BlockStatus string

const (
	StatusUnverified BlockStatus = "unverified"
	StatusNew        BlockStatus = "new"
	StatusValid      BlockStatus = "valid"
	StatusCommitted  BlockStatus = "committed"
)

// BlockHeader contains the block metadata that is hashed and signed. Fields
// follow the normative header layout: height, prev-hash, timestamp,
// view-change index, consensus-estimation, and content-hashes of the
// transaction list and the topology before/after commit.
type BlockHeader struct {
	Height               uint64 `json:"height"` // 1-based, never 0
	PrevBlockHash        Hash   `json:"prev_block_hash,omitempty"` // omitted iff height == 1
	Timestamp            int64  `json:"timestamp"` // unix millis
	ViewChangeIndex      uint64 `json:"view_change_index"`
	ConsensusEstimation  int64  `json:"consensus_estimation_ms"`
	TransactionsHash     Hash   `json:"transactions_hash"`
	CommitTopologyHash   Hash   `json:"commit_topology_hash"`
	PrevCommitTopologyHash Hash `json:"prev_commit_topology_hash"`
}

// Hash returns the content hash of the header, which doubles as the block's
// identity and the PrevBlockHash of its successor.
func (h BlockHeader) Hash() Hash {
	data, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return Hash(crypto.Hash(data))
}

// TxOutcome records the per-transaction result of categorizing a block: the
// empty string means the transaction executed without error.
type TxOutcome struct {
	TxHash Hash   `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

// Block is a proposed or committed set of transactions together with its
// header and the signatures collected for it so far. Status tracks where in
// the Unverified→New→Valid→Committed lifecycle the block currently sits;
// callers should not inspect a Block's fields for stages its Status has not
// yet reached.
type Block struct {
	Status       BlockStatus          `json:"status"`
	Header       BlockHeader          `json:"header"`
	Transactions []*SignedTransaction `json:"transactions"`
	Outcomes     []TxOutcome          `json:"outcomes,omitempty"`
	Signatures   crypto.SignatureSet  `json:"signatures"`
}

// BlockBuilder accumulates an Unverified block before it is categorized.
type BlockBuilder struct {
	txs []*SignedTransaction
}

// NewBlockBuilder starts a block proposal from a candidate transaction set.
func NewBlockBuilder(txs []*SignedTransaction) *BlockBuilder {
	return &BlockBuilder{txs: txs}
}

// Chain produces an Unverified block with a fresh header extending prev
// (or a genesis header if prev is nil) at the given view-change index.
func (bb *BlockBuilder) Chain(viewChangeIndex uint64, prev *BlockHeader, commitTopologyHash, prevCommitTopologyHash Hash) *Block {
	h := BlockHeader{
		Height:                 1,
		Timestamp:              time.Now().UnixMilli(),
		ViewChangeIndex:        viewChangeIndex,
		TransactionsHash:       computeTransactionsHash(bb.txs),
		CommitTopologyHash:     commitTopologyHash,
		PrevCommitTopologyHash: prevCommitTopologyHash,
	}
	if prev != nil {
		h.Height = prev.Height + 1
		h.PrevBlockHash = prev.Hash()
	}
	return &Block{
		Status:       StatusUnverified,
		Header:       h,
		Transactions: bb.txs,
	}
}

// computeTransactionsHash builds a deterministic content hash over a
// transaction list's hashes, each length-prefixed to avoid boundary
// ambiguity between different transaction sets.
func computeTransactionsHash(txs []*SignedTransaction) Hash {
	if len(txs) == 0 {
		return Hash(crypto.Hash([]byte("empty")))
	}
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, tx := range txs {
		id := []byte(tx.Hash())
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(id)))
		buf.Write(lenBuf[:])
		buf.Write(id)
	}
	return Hash(crypto.Hash(buf.Bytes()))
}

// Sign produces a New block signed by the proposer (topology slot 0),
// setting the leader's signature as signatory index 0.
func (b *Block) Sign(priv crypto.PrivateKey) error {
	if b.Status != StatusUnverified {
		return fmt.Errorf("sign: block is %s, want %s", b.Status, StatusUnverified)
	}
	sig := crypto.Sign(priv, []byte(b.Header.Hash()))
	b.Signatures = crypto.NewSignatureSet(crypto.Signature{Signatory: 0, Data: sig})
	b.Status = StatusNew
	return nil
}

// Categorize executes the block's transactions one by one through execute,
// recording each transaction's outcome in-place, and advances the block to
// Valid. The supplied execute callback is responsible for dispatching one
// transaction's instructions against whatever state handle it captured;
// Categorize does not itself touch ledger state.
func (b *Block) Categorize(execute func(tx *SignedTransaction) error) error {
	if b.Status != StatusUnverified && b.Status != StatusNew {
		return fmt.Errorf("categorize: block is %s", b.Status)
	}
	outcomes := make([]TxOutcome, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		outcome := TxOutcome{TxHash: tx.Hash()}
		if err := execute(tx); err != nil {
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	b.Outcomes = outcomes
	b.Status = StatusValid
	return nil
}

// AddSignature adds a signature at the signer's topology slot. A slot that
// already holds a signature (whatever its bytes) and slots outside
// [0, topologySize) are rejected structurally.
func (b *Block) AddSignature(sig crypto.Signature, topologySize int) error {
	if b.Status != StatusValid && b.Status != StatusNew {
		return fmt.Errorf("sign: block is %s, want %s or %s", b.Status, StatusNew, StatusValid)
	}
	if int(sig.Signatory) < 0 || int(sig.Signatory) >= topologySize {
		return fmt.Errorf("%w: slot %d outside topology of size %d", ErrBlockValidation, sig.Signatory, topologySize)
	}
	if !b.Signatures.Add(sig) {
		return fmt.Errorf("%w: duplicate signature for slot %d", ErrBlockValidation, sig.Signatory)
	}
	return nil
}

// Commit advances a Valid block to Committed. It succeeds iff the
// signature set includes the leader's slot (0) and at least
// minVotesForCommit signatures (one per slot) in total. It only counts
// slots; it does not verify the signature bytes.
func (b *Block) Commit(minVotesForCommit int) error {
	if b.Status != StatusValid {
		return fmt.Errorf("commit: block is %s, want %s", b.Status, StatusValid)
	}
	if !b.Signatures.Has(0) {
		return fmt.Errorf("%w: missing leader signature", ErrBlockValidation)
	}
	if b.Signatures.Len() < minVotesForCommit {
		return fmt.Errorf("%w: have %d signatures, need %d", ErrBlockValidation, b.Signatures.Len(), minVotesForCommit)
	}
	b.Status = StatusCommitted
	return nil
}

// Validate is the consolidated entry non-leader peers use to accept a
// proposed block: it checks the proposer's signature, re-executes the body
// through execute, and returns the Valid block (or a BlockValidationError).
func Validate(unverified *Block, leaderKey crypto.PublicKey, execute func(tx *SignedTransaction) error) (*Block, error) {
	if unverified.Status != StatusUnverified && unverified.Status != StatusNew {
		return nil, fmt.Errorf("validate: block is %s", unverified.Status)
	}
	proposerSig, ok := findSignature(unverified.Signatures, 0)
	if !ok {
		return nil, fmt.Errorf("%w: missing proposer signature", ErrBlockValidation)
	}
	if err := crypto.Verify(leaderKey, []byte(unverified.Header.Hash()), proposerSig.Data); err != nil {
		return nil, fmt.Errorf("%w: proposer signature: %v", ErrBlockValidation, err)
	}
	if err := unverified.Categorize(execute); err != nil {
		return nil, err
	}
	return unverified, nil
}

func findSignature(set crypto.SignatureSet, signatory crypto.SignatoryIndex) (crypto.Signature, bool) {
	for _, s := range set.All() {
		if s.Signatory == signatory {
			return s, true
		}
	}
	return crypto.Signature{}, false
}

// ReplaceSignatures atomically swaps b's signature set with sigs, returning
// the previous set. Non-proxy-tail peers use this to adopt the canonical
// signature set announced by the proxy tail.
func ReplaceSignatures(b *Block, sigs crypto.SignatureSet) crypto.SignatureSet {
	prev := b.Signatures
	b.Signatures = sigs
	return prev
}

// VerifyIntegrity checks structural integrity independent of any
// signature: the transactions hash must match the recomputed one.
func (b *Block) VerifyIntegrity() error {
	if got := computeTransactionsHash(b.Transactions); got != b.Header.TransactionsHash {
		return errors.New("transactions_hash mismatch")
	}
	return nil
}
