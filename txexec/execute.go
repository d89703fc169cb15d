// Package txexec dispatches an accepted transaction's instructions against
// a transaction-layer state handle, built-in instructions through the
// executor's policy and handler registry, WASM instructions through the
// shared sandboxed engine.
package txexec

import (
	"encoding/json"
	"fmt"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/executor"
	"github.com/meridianledger/meridian/executor/builtin"
	"github.com/meridianledger/meridian/state"
)

// Engine executes one accepted transaction's instructions against one
// candidate block.
type Engine struct {
	policy   *executor.Policy
	handlers *builtin.Registry
	wasm     state.WASMEngine
}

// New creates an Engine dispatching built-in instructions through
// handlers, policy-gated by policy, and WASM instructions through wasm.
func New(policy *executor.Policy, handlers *builtin.Registry, wasm state.WASMEngine) *Engine {
	return &Engine{policy: policy, handlers: handlers, wasm: wasm}
}

// Execute runs tx's instructions against block, the state-block handle for
// the block currently being built or validated, at the given height. It
// opens one state.Transaction layer for the whole of tx: the first failing
// instruction aborts immediately, the transaction layer is dropped without
// Apply (discarding every effect and every event tx produced), and the
// returned error is recorded by the caller in the block's per-transaction
// error slot without halting block execution.
func (e *Engine) Execute(block *state.Block, height uint64, tx *core.AcceptedTransaction) error {
	txn := block.Transaction()

	if wasm := tx.Instructions.WASM; len(wasm) > 0 {
		if e.wasm == nil {
			txn.Discard()
			return fmt.Errorf("transaction carries a wasm payload but no engine is configured")
		}
		if err := e.wasm.Run(wasm, txn, 0); err != nil {
			txn.Discard()
			return fmt.Errorf("wasm execution: %w", err)
		}
		txn.Apply()
		return nil
	}

	ctx := &builtin.Context{Tx: txn, Block: block, Height: height, Authority: tx.Author}
	for _, instr := range tx.Instructions.BuiltIn {
		if err := e.policy.Authorize(txn, height, tx.Author, instr.Kind); err != nil {
			txn.Discard()
			return err
		}
		if err := e.handlers.Execute(instr.Kind, ctx, instr.Payload); err != nil {
			txn.Discard()
			return fmt.Errorf("instruction %s: %w", instr.Kind, err)
		}
	}
	txn.Apply()

	for _, instr := range tx.Instructions.BuiltIn {
		e.fireTriggers(block, height, string(instr.Kind))
	}
	return nil
}

// fireTriggers runs every trigger registered against eventType, each in its
// own transaction-layer handle so a triggered effect commits or rolls back
// independently of the transaction that caused it to fire. Only the two
// built-in actions a trigger is allowed to carry, emit_event and
// transfer_asset, are dispatched; anything else registered against a
// trigger (which register_trigger itself does not reject, to keep that
// policy decision in one place) is simply never fired.
func (e *Engine) fireTriggers(block *state.Block, height uint64, eventType string) {
	for _, trig := range block.MatchingTriggers(eventType) {
		switch trig.Action.Kind {
		case core.InstrEmitEvent:
			e.fireTrigger(block, height, trig.Action, trig.Action.Kind, "")
		case core.InstrTransferAsset:
			var p core.TransferAssetPayload
			if err := json.Unmarshal(trig.Action.Payload, &p); err != nil {
				continue
			}
			e.fireTrigger(block, height, trig.Action, trig.Action.Kind, p.From)
		}
	}
}

// fireTrigger dispatches one trigger action against block, authorized as
// authority (the transfer's own "from" account for transfer_asset, since
// the transfer was already approved the moment this trigger was
// registered; irrelevant for emit_event).
func (e *Engine) fireTrigger(block *state.Block, height uint64, action core.Instruction, kind core.InstructionKind, authority core.AccountID) {
	txn := block.Transaction()
	ctx := &builtin.Context{Tx: txn, Block: block, Height: height, Authority: authority}
	if err := e.handlers.Execute(kind, ctx, action.Payload); err != nil {
		txn.Discard()
		return
	}
	txn.Apply()
}
