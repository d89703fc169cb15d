package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianledger/meridian/core"
)

func TestRegisterDomainAccountAndMint(t *testing.T) {
	w := NewWorld(DefaultParameters())
	b := w.Block()

	require.NoError(t, b.RegisterDomain("wonderland"))
	require.NoError(t, b.RegisterAccount("wonderland", "alice@wonderland"))
	require.NoError(t, b.RegisterAssetDefinition("wonderland", "rose#wonderland"))
	require.NoError(t, b.MintAsset("rose#wonderland", "alice@wonderland", 10))

	b.Commit()

	v := w.View()
	bal, ok := v.Balances.Get(AssetBalance{Account: "alice@wonderland", Definition: "rose#wonderland"})
	require.True(t, ok)
	require.Equal(t, uint64(10), bal)

	dom, ok := v.Domains.Get("wonderland")
	require.True(t, ok)
	require.Equal(t, uint64(10), dom.AssetTotals["rose#wonderland"])
}

func TestTransferAssetPreservesDomainTotal(t *testing.T) {
	w := NewWorld(DefaultParameters())
	b := w.Block()
	require.NoError(t, b.RegisterDomain("d"))
	require.NoError(t, b.RegisterAccount("d", "alice@d"))
	require.NoError(t, b.RegisterAccount("d", "bob@d"))
	require.NoError(t, b.RegisterAssetDefinition("d", "coin#d"))
	require.NoError(t, b.MintAsset("coin#d", "alice@d", 100))
	b.Commit()

	b2 := w.Block()
	require.NoError(t, b2.TransferAsset("coin#d", "alice@d", "bob@d", 40))
	b2.Commit()

	v := w.View()
	aliceBal, _ := v.Balances.Get(AssetBalance{Account: "alice@d", Definition: "coin#d"})
	bobBal, _ := v.Balances.Get(AssetBalance{Account: "bob@d", Definition: "coin#d"})
	require.Equal(t, uint64(60), aliceBal)
	require.Equal(t, uint64(40), bobBal)
	dom, _ := v.Domains.Get("d")
	require.Equal(t, uint64(100), dom.AssetTotals["coin#d"])
}

func TestTransferInsufficientBalanceFails(t *testing.T) {
	w := NewWorld(DefaultParameters())
	b := w.Block()
	require.NoError(t, b.RegisterDomain("d"))
	require.NoError(t, b.RegisterAccount("d", "alice@d"))
	require.NoError(t, b.RegisterAccount("d", "bob@d"))
	require.NoError(t, b.RegisterAssetDefinition("d", "coin#d"))
	b.Commit()

	b2 := w.Block()
	err := b2.TransferAsset("coin#d", "alice@d", "bob@d", 5)
	require.Error(t, err)
}

func TestRoleGrantGivesPermissionViaRole(t *testing.T) {
	w := NewWorld(DefaultParameters())
	b := w.Block()
	require.NoError(t, b.RegisterDomain("d"))
	require.NoError(t, b.RegisterAccount("d", "alice@d"))
	require.NoError(t, b.RegisterRole("admin", []core.Permission{"can_mint_asset"}))
	require.NoError(t, b.GrantRole("alice@d", "admin"))
	require.True(t, b.HasPermission("alice@d", "can_mint_asset"))
	require.False(t, b.HasPermission("alice@d", "can_burn_asset"))

	require.NoError(t, b.RevokeRole("alice@d", "admin"))
	require.False(t, b.HasPermission("alice@d", "can_mint_asset"))
}

func TestBlockAndRevertUndoesOneWorldCommit(t *testing.T) {
	w := NewWorld(DefaultParameters())
	b1 := w.Block()
	require.NoError(t, b1.RegisterDomain("d"))
	b1.Commit()

	b2 := w.Block()
	require.NoError(t, b2.RegisterAccount("d", "alice@d"))
	b2.Commit()
	_, ok := w.View().Accounts.Get("alice@d")
	require.True(t, ok)

	r := w.BlockAndRevert()
	r.Commit()
	_, ok = w.View().Accounts.Get("alice@d")
	require.False(t, ok, "revert must undo the account registration from b2")
	_, ok = w.View().Domains.Get("d")
	require.True(t, ok, "revert must not undo b1's domain registration")
}

func TestTransactionDropLeavesBlockUnchanged(t *testing.T) {
	w := NewWorld(DefaultParameters())
	b := w.Block()
	require.NoError(t, b.RegisterDomain("d"))

	tx := b.Transaction()
	// Stage a mutation via the raw storage transaction handle, then drop
	// it without Apply: the block's accounts must be untouched.
	tx.accounts.Set("ghost@d", Account{ID: "ghost@d"})
	_, ok := b.accounts.Get("ghost@d")
	require.False(t, ok)
}
