package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meridianledger/meridian/crypto"
)

// TxSignature pairs a transaction signature with the hex-encoded ed25519
// public key that produced it. Unlike a block's signature set, a
// transaction's signer is not a topology slot, so signatures here are keyed
// by the author's key rather than by position.
type TxSignature struct {
	PublicKey string `json:"public_key"`
	Data      string `json:"data"`
}

// SignedTransaction is the wire form of a client-submitted transaction: a
// chain ID binding it to one network, an author account, a submission
// timestamp, a time-to-live, an instruction payload, and the author's
// signature(s) over it.
type SignedTransaction struct {
	ChainID      string        `json:"chain_id"`
	Author       AccountID     `json:"author"`
	Timestamp    int64         `json:"timestamp"` // unix millis
	TTL          int64         `json:"ttl"`        // milliseconds
	Instructions Instructions  `json:"instructions"`
	Signatures   []TxSignature `json:"signatures"`
}

// signingBody holds the fields covered by the author's signature.
type signingBody struct {
	ChainID      string       `json:"chain_id"`
	Author       AccountID    `json:"author"`
	Timestamp    int64        `json:"timestamp"`
	TTL          int64        `json:"ttl"`
	Instructions Instructions `json:"instructions"`
}

func (tx *SignedTransaction) signingBytes() ([]byte, error) {
	return json.Marshal(signingBody{
		ChainID:      tx.ChainID,
		Author:       tx.Author,
		Timestamp:    tx.Timestamp,
		TTL:          tx.TTL,
		Instructions: tx.Instructions,
	})
}

// Hash returns the content hash used as the transaction's identity, the key
// under which its execution error (if any) is recorded in a block, and the
// leaf fed into the block's transaction-root hash.
func (tx *SignedTransaction) Hash() Hash {
	data, err := tx.signingBytes()
	if err != nil {
		return ""
	}
	return Hash(crypto.Hash(data))
}

// Sign appends a signature over tx's signing bytes using priv, keyed by
// priv's public key.
func (tx *SignedTransaction) Sign(priv crypto.PrivateKey) error {
	data, err := tx.signingBytes()
	if err != nil {
		return fmt.Errorf("marshal signing body: %w", err)
	}
	pub := priv.Public()
	tx.Signatures = append(tx.Signatures, TxSignature{
		PublicKey: pub.Hex(),
		Data:      crypto.Sign(priv, data),
	})
	return nil
}

// VerifyAuthorSignature checks that at least one signature verifies under
// authorKey, the public key the caller attributes to tx.Author. Additional signatures
// (e.g. from a multisig quorum) are not otherwise inspected here; that
// belongs to the executor's permission checks, not structural acceptance.
func (tx *SignedTransaction) VerifyAuthorSignature(authorKey crypto.PublicKey) error {
	if len(tx.Signatures) == 0 {
		return errors.New("transaction has no signatures")
	}
	data, err := tx.signingBytes()
	if err != nil {
		return fmt.Errorf("marshal signing body: %w", err)
	}
	hex := authorKey.Hex()
	for _, sig := range tx.Signatures {
		if sig.PublicKey != hex {
			continue
		}
		if crypto.Verify(authorKey, data, sig.Data) == nil {
			return nil
		}
	}
	return errors.New("no valid signature under author's public key")
}

// ExpiresAt returns the instant after which the transaction is no longer
// eligible for inclusion in a block.
func (tx *SignedTransaction) ExpiresAt() time.Time {
	return time.UnixMilli(tx.Timestamp + tx.TTL)
}

// NewSignedTransaction builds an unsigned transaction stamped with the
// current time. Callers must call Sign before submission.
func NewSignedTransaction(chainID string, author AccountID, ttl time.Duration, instructions Instructions) *SignedTransaction {
	return &SignedTransaction{
		ChainID:      chainID,
		Author:       author,
		Timestamp:    time.Now().UnixMilli(),
		TTL:          ttl.Milliseconds(),
		Instructions: instructions,
	}
}

// AcceptanceLimits bounds what Accept will admit, independent of ledger
// state.
type AcceptanceLimits struct {
	MaxInstructions int
	MaxClockDrift   time.Duration
}

// AcceptedTransaction is a SignedTransaction that has passed structural
// acceptance (chain ID, clock drift, TTL, instruction limits, signature) but
// has not yet been executed against any ledger state.
type AcceptedTransaction struct {
	*SignedTransaction
	Hash Hash
}

// Accept structurally validates tx against chainID, the current wall clock,
// and limits, without touching ledger state: chain ID must match, the
// timestamp must fall within [now-drift, now+drift], the TTL must not have
// already elapsed, the instruction count must be within limits, and the
// author's signature must verify under authorKey.
func Accept(tx *SignedTransaction, chainID string, now time.Time, authorKey crypto.PublicKey, limits AcceptanceLimits) (*AcceptedTransaction, error) {
	if tx.ChainID != chainID {
		return nil, fmt.Errorf("chain id mismatch: tx has %q, expected %q", tx.ChainID, chainID)
	}
	ts := time.UnixMilli(tx.Timestamp)
	drift := limits.MaxClockDrift
	if ts.Before(now.Add(-drift)) || ts.After(now.Add(drift)) {
		return nil, fmt.Errorf("timestamp %s outside clock drift window of %s", ts, now)
	}
	if !now.Before(tx.ExpiresAt()) {
		return nil, fmt.Errorf("transaction expired at %s", tx.ExpiresAt())
	}
	if n := tx.Instructions.Len(); n > limits.MaxInstructions {
		return nil, fmt.Errorf("instruction count %d exceeds limit %d", n, limits.MaxInstructions)
	}
	if err := tx.VerifyAuthorSignature(authorKey); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	return &AcceptedTransaction{SignedTransaction: tx, Hash: tx.Hash()}, nil
}
