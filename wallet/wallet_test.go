package wallet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianledger/meridian/core"
)

func TestTransferBuildsSignedTransaction(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	tx, err := w.Transfer("test-chain", core.AccountID("alice@wonderland"), core.AssetDefinitionID("rose#wonderland"), core.AccountID("bob@wonderland"), 10)
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 1)
	require.Equal(t, w.PubKey(), tx.Signatures[0].PublicKey)

	require.NoError(t, tx.VerifyAuthorSignature(w.PrivKey().Public()))
}

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	path := t.TempDir() + "/validator.key"
	require.NoError(t, SaveKey(path, "hunter2", w.PrivKey()))

	loaded, err := LoadKey(path, "hunter2")
	require.NoError(t, err)
	require.Equal(t, w.PrivKey(), loaded)

	_, err = LoadKey(path, "wrong")
	require.Error(t, err)
}
