// Package builtin is the handler registry for built-in instructions: one
// Handler per core.InstructionKind, dispatched by a transaction-layer
// Context. Modeled on the teacher's global vm.Registry, generalized from
// one handler per TxType to one handler per InstructionKind.
package builtin

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/state"
)

// Context is passed to every Handler: the transaction-layer state handle an
// instruction may mutate, the enclosing block's height (for the genesis
// bypass), and the instruction's issuing account.
type Context struct {
	Tx        *state.Transaction
	Block     *state.Block
	Height    uint64
	Authority core.AccountID
}

// Handler applies one instruction kind's payload against ctx.
type Handler func(ctx *Context, payload json.RawMessage) error

// Registry maps InstructionKind to Handler. Thread-safe for concurrent
// registration, mirroring the teacher's vm.Registry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.InstructionKind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.InstructionKind]Handler)}
}

// Register associates kind with h. Panics on duplicate registration, since
// that can only indicate a programming error at startup.
func (r *Registry) Register(kind core.InstructionKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("builtin: handler already registered for %q", kind))
	}
	r.handlers[kind] = h
}

// Execute dispatches payload to the handler registered for kind.
func (r *Registry) Execute(kind core.InstructionKind, ctx *Context, payload json.RawMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("builtin: no handler registered for %q", kind)
	}
	return h(ctx, payload)
}

// Default returns a Registry with every instruction kind defined in
// core.InstructionKind wired to its ledger-mutating handler.
func Default() *Registry {
	r := NewRegistry()
	r.Register(core.InstrRegisterDomain, handleRegisterDomain)
	r.Register(core.InstrRegisterAccount, handleRegisterAccount)
	r.Register(core.InstrRegisterAssetDefinition, handleRegisterAssetDefinition)
	r.Register(core.InstrMintAsset, handleMintAsset)
	r.Register(core.InstrBurnAsset, handleBurnAsset)
	r.Register(core.InstrTransferAsset, handleTransferAsset)
	r.Register(core.InstrRegisterRole, handleRegisterRole)
	r.Register(core.InstrGrantRole, handleGrantRole)
	r.Register(core.InstrRevokeRole, handleRevokeRole)
	r.Register(core.InstrGrantPermission, handleGrantPermission)
	r.Register(core.InstrRevokePermission, handleRevokePermission)
	r.Register(core.InstrRegisterTrigger, handleRegisterTrigger)
	r.Register(core.InstrSetParameter, handleSetParameter)
	r.Register(core.InstrRegisterPeer, handleRegisterPeer)
	r.Register(core.InstrUnregisterPeer, handleUnregisterPeer)
	r.Register(core.InstrUpgradeExecutor, handleUpgradeExecutor)
	r.Register(core.InstrEmitEvent, handleEmitEvent)
	return r
}
