package wallet

import (
	"time"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
)

// defaultTTL bounds how long a wallet-built transaction remains acceptable
// if it sits unconfirmed.
const defaultTTL = 5 * time.Minute

// Wallet holds a key pair and provides transaction-building helpers for an
// account authority.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx builds and signs a transaction carrying the given built-in
// instructions, authored by account. chainID must match the target network.
func (w *Wallet) NewTx(chainID string, account core.AccountID, instructions ...core.Instruction) (*core.SignedTransaction, error) {
	tx := core.NewSignedTransaction(chainID, account, defaultTTL, core.Instructions{BuiltIn: instructions})
	if err := tx.Sign(w.priv); err != nil {
		return nil, err
	}
	return tx, nil
}

// Transfer builds a signed transaction moving amount of definition from
// account to recipient.
func (w *Wallet) Transfer(chainID string, account core.AccountID, definition core.AssetDefinitionID, recipient core.AccountID, amount uint64) (*core.SignedTransaction, error) {
	instr, err := core.NewInstruction(core.InstrTransferAsset, core.TransferAssetPayload{
		Definition: definition,
		From:       account,
		To:         recipient,
		Amount:     amount,
	})
	if err != nil {
		return nil, err
	}
	return w.NewTx(chainID, account, instr)
}
