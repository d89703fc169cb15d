package core

import "encoding/json"

// InstructionKind names a built-in instruction. The executor policy module
// (§4.8) dispatches on this value.
type InstructionKind string

const (
	InstrRegisterDomain          InstructionKind = "register_domain"
	InstrRegisterAccount         InstructionKind = "register_account"
	InstrRegisterAssetDefinition InstructionKind = "register_asset_definition"
	InstrMintAsset               InstructionKind = "mint_asset"
	InstrBurnAsset               InstructionKind = "burn_asset"
	InstrTransferAsset           InstructionKind = "transfer_asset"
	InstrRegisterRole            InstructionKind = "register_role"
	InstrGrantRole               InstructionKind = "grant_role"
	InstrRevokeRole              InstructionKind = "revoke_role"
	InstrGrantPermission         InstructionKind = "grant_permission"
	InstrRevokePermission        InstructionKind = "revoke_permission"
	InstrRegisterTrigger         InstructionKind = "register_trigger"
	InstrSetParameter            InstructionKind = "set_parameter"
	InstrRegisterPeer            InstructionKind = "register_peer"
	InstrUnregisterPeer          InstructionKind = "unregister_peer"
	InstrUpgradeExecutor         InstructionKind = "upgrade_executor"
	InstrEmitEvent               InstructionKind = "emit_event"
)

// Instruction is one built-in operation inside a transaction's instruction
// list. Payload is interpreted according to Kind by the executor's built-in
// handler registry.
type Instruction struct {
	Kind    InstructionKind `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewInstruction marshals payload and wraps it as an Instruction of the
// given kind.
func NewInstruction(kind InstructionKind, payload any) (Instruction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{Kind: kind, Payload: raw}, nil
}

// Instructions is the body of a transaction: either a list of built-in
// instructions, or an opaque WASM module executed by the (external) engine.
// Exactly one of the two should be populated.
type Instructions struct {
	BuiltIn []Instruction `json:"built_in,omitempty"`
	WASM    []byte        `json:"wasm,omitempty"`
}

// Len returns the number of built-in instructions, or 1 if this is a WASM
// payload (WASM instructions count as a single unit against limits).
func (in Instructions) Len() int {
	if len(in.WASM) > 0 {
		return 1
	}
	return len(in.BuiltIn)
}

// ---- Built-in instruction payloads ----

// RegisterDomainPayload creates a new, empty domain.
type RegisterDomainPayload struct {
	ID DomainID `json:"id"`
}

// RegisterAccountPayload creates a new account in an existing domain.
type RegisterAccountPayload struct {
	ID DomainID  `json:"domain"`
	Account AccountID `json:"account"`
}

// RegisterAssetDefinitionPayload declares a new class of asset in a domain.
type RegisterAssetDefinitionPayload struct {
	ID AssetDefinitionID `json:"id"`
}

// MintAssetPayload increases an account's balance of an asset definition
// and the domain's running total for it.
type MintAssetPayload struct {
	Definition AssetDefinitionID `json:"definition"`
	Account    AccountID         `json:"account"`
	Amount     uint64            `json:"amount"`
}

// BurnAssetPayload decreases an account's balance and the domain total.
type BurnAssetPayload struct {
	Definition AssetDefinitionID `json:"definition"`
	Account    AccountID         `json:"account"`
	Amount     uint64            `json:"amount"`
}

// TransferAssetPayload moves a balance between two accounts of the same
// asset definition, leaving the domain total unchanged.
type TransferAssetPayload struct {
	Definition AssetDefinitionID `json:"definition"`
	From       AccountID         `json:"from"`
	To         AccountID         `json:"to"`
	Amount     uint64            `json:"amount"`
}

// RegisterRolePayload declares a new role and its initial permission set.
type RegisterRolePayload struct {
	ID          RoleID       `json:"id"`
	Permissions []Permission `json:"permissions"`
}

// GrantRolePayload / RevokeRolePayload attach or detach a role from an
// account.
type GrantRolePayload struct {
	Account AccountID `json:"account"`
	Role    RoleID    `json:"role"`
}

type RevokeRolePayload struct {
	Account AccountID `json:"account"`
	Role    RoleID    `json:"role"`
}

// GrantPermissionPayload / RevokePermissionPayload attach or detach a
// permission directly on an account (independent of any role).
type GrantPermissionPayload struct {
	Account    AccountID  `json:"account"`
	Permission Permission `json:"permission"`
}

type RevokePermissionPayload struct {
	Account    AccountID  `json:"account"`
	Permission Permission `json:"permission"`
}

// RegisterTriggerPayload installs an event-driven handler.
type RegisterTriggerPayload struct {
	ID        TriggerID `json:"id"`
	EventType string    `json:"event_type"`
	Action    Instruction `json:"action"`
}

// SetParameterPayload edits one chain-wide runtime parameter.
type SetParameterPayload struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

// RegisterPeerPayload / UnregisterPeerPayload change trusted peer
// membership, reflected into the topology at the next block commit.
type RegisterPeerPayload struct {
	Peer PeerID `json:"peer"`
}

type UnregisterPeerPayload struct {
	Peer PeerID `json:"peer"`
}

// UpgradeExecutorPayload replaces the installed executor module and its
// declared data model.
type UpgradeExecutorPayload struct {
	WASM       []byte          `json:"wasm"`
	DataModel  json.RawMessage `json:"data_model"`
}

// EmitEventPayload records a caller-chosen event alongside the transaction
// that produced it. It has no ledger effect beyond the event itself, which
// is what makes it safe to use as a trigger action: a trigger firing an
// emit_event can never mutate balances, roles or permissions.
type EmitEventPayload struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}
