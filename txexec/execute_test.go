package txexec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/executor"
	"github.com/meridianledger/meridian/executor/builtin"
	"github.com/meridianledger/meridian/state"
)

func mustInstruction(t *testing.T, kind core.InstructionKind, payload any) core.Instruction {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return core.Instruction{Kind: kind, Payload: raw}
}

func TestExecuteCommitsAllInstructionsOnSuccess(t *testing.T) {
	w := state.NewWorld(state.DefaultParameters())
	b := w.Block()
	require.NoError(t, b.RegisterDomain("d"))
	require.NoError(t, b.RegisterAccount("d", "alice@d"))
	require.NoError(t, b.RegisterAssetDefinition("d", "coin#d"))
	b.Commit()

	b2 := w.Block()
	eng := New(executor.New(), builtin.Default(), nil)

	tx := &core.AcceptedTransaction{SignedTransaction: &core.SignedTransaction{
		Author: "genesis@genesis",
		Instructions: core.Instructions{BuiltIn: []core.Instruction{
			mustInstruction(t, core.InstrMintAsset, core.MintAssetPayload{Definition: "coin#d", Account: "alice@d", Amount: 50}),
		}},
	}}

	require.NoError(t, eng.Execute(b2, 0, tx))
	bal, ok := b2.Balance("alice@d", "coin#d")
	require.True(t, ok)
	require.Equal(t, uint64(50), bal)
}

func TestExecuteAbortsOnFirstFailingInstruction(t *testing.T) {
	w := state.NewWorld(state.DefaultParameters())
	b := w.Block()
	require.NoError(t, b.RegisterDomain("d"))
	require.NoError(t, b.RegisterAccount("d", "alice@d"))
	require.NoError(t, b.RegisterAssetDefinition("d", "coin#d"))
	b.Commit()

	b2 := w.Block()
	eng := New(executor.New(), builtin.Default(), nil)

	tx := &core.AcceptedTransaction{SignedTransaction: &core.SignedTransaction{
		Author: "genesis@genesis",
		Instructions: core.Instructions{BuiltIn: []core.Instruction{
			mustInstruction(t, core.InstrMintAsset, core.MintAssetPayload{Definition: "coin#d", Account: "alice@d", Amount: 50}),
			mustInstruction(t, core.InstrBurnAsset, core.BurnAssetPayload{Definition: "coin#d", Account: "alice@d", Amount: 999}),
		}},
	}}

	err := eng.Execute(b2, 0, tx)
	require.Error(t, err, "second instruction burns more than the first minted, so the whole tx must abort")

	_, ok := b2.Balance("alice@d", "coin#d")
	require.False(t, ok, "aborted transaction must leave no trace on the block layer")
}
