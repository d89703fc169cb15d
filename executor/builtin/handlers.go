package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/state"
)

func unmarshal[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}

func handleRegisterDomain(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.RegisterDomainPayload](payload)
	if err != nil {
		return err
	}
	return ctx.Tx.RegisterDomain(p.ID)
}

func handleRegisterAccount(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.RegisterAccountPayload](payload)
	if err != nil {
		return err
	}
	return ctx.Tx.RegisterAccount(p.ID, p.Account)
}

// splitAssetDefinitionID extracts the owning domain from a composite
// "asset#domain" identifier.
func splitAssetDefinitionID(id core.AssetDefinitionID) (core.DomainID, error) {
	s := string(id)
	for i := 0; i < len(s); i++ {
		if s[i] == '#' {
			return core.DomainID(s[i+1:]), nil
		}
	}
	return "", fmt.Errorf("asset definition id %q missing '#domain' suffix", id)
}

func handleRegisterAssetDefinition(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.RegisterAssetDefinitionPayload](payload)
	if err != nil {
		return err
	}
	domain, err := splitAssetDefinitionID(p.ID)
	if err != nil {
		return err
	}
	return ctx.Tx.RegisterAssetDefinition(domain, p.ID)
}

func handleMintAsset(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.MintAssetPayload](payload)
	if err != nil {
		return err
	}
	return ctx.Tx.MintAsset(p.Definition, p.Account, p.Amount)
}

func handleBurnAsset(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.BurnAssetPayload](payload)
	if err != nil {
		return err
	}
	return ctx.Tx.BurnAsset(p.Definition, p.Account, p.Amount)
}

func handleTransferAsset(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.TransferAssetPayload](payload)
	if err != nil {
		return err
	}
	if p.From != ctx.Authority {
		return fmt.Errorf("transfer_asset: authority %q may not move funds from %q", ctx.Authority, p.From)
	}
	return ctx.Tx.TransferAsset(p.Definition, p.From, p.To, p.Amount)
}

func handleRegisterRole(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.RegisterRolePayload](payload)
	if err != nil {
		return err
	}
	return ctx.Tx.RegisterRole(p.ID, p.Permissions)
}

func handleGrantRole(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.GrantRolePayload](payload)
	if err != nil {
		return err
	}
	return ctx.Tx.GrantRole(p.Account, p.Role)
}

func handleRevokeRole(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.RevokeRolePayload](payload)
	if err != nil {
		return err
	}
	return ctx.Tx.RevokeRole(p.Account, p.Role)
}

func handleGrantPermission(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.GrantPermissionPayload](payload)
	if err != nil {
		return err
	}
	ctx.Tx.GrantPermission(p.Account, p.Permission)
	return nil
}

func handleRevokePermission(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.RevokePermissionPayload](payload)
	if err != nil {
		return err
	}
	ctx.Tx.RevokePermission(p.Account, p.Permission)
	return nil
}

func handleRegisterTrigger(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.RegisterTriggerPayload](payload)
	if err != nil {
		return err
	}
	return ctx.Tx.RegisterTrigger(state.Trigger{ID: p.ID, EventType: p.EventType, Action: p.Action})
}

// applyParameter mutates the single named field of Parameters that
// set_parameter addresses; unknown names are rejected rather than silently
// ignored.
func applyParameter(p *state.Parameters, name string, value uint64) error {
	switch name {
	case "max_transactions_per_block":
		p.MaxTransactionsPerBlock = int(value)
	case "max_instructions_per_transaction":
		p.MaxInstructionsPerTransaction = int(value)
	case "fuel_limit":
		p.FuelLimit = value
	default:
		return fmt.Errorf("set_parameter: unknown parameter %q", name)
	}
	return nil
}

func handleSetParameter(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.SetParameterPayload](payload)
	if err != nil {
		return err
	}
	var applyErr error
	ctx.Tx.SetParameter(func(params *state.Parameters) {
		applyErr = applyParameter(params, p.Name, p.Value)
	})
	return applyErr
}

func handleRegisterPeer(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.RegisterPeerPayload](payload)
	if err != nil {
		return err
	}
	ctx.Tx.RegisterPeer(p.Peer)
	return nil
}

func handleUnregisterPeer(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.UnregisterPeerPayload](payload)
	if err != nil {
		return err
	}
	ctx.Tx.UnregisterPeer(p.Peer)
	return nil
}

func handleUpgradeExecutor(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.UpgradeExecutorPayload](payload)
	if err != nil {
		return err
	}
	ctx.Tx.UpgradeExecutor(state.ExecutorModule{WASM: p.WASM, DataModel: p.DataModel})
	return nil
}

func handleEmitEvent(ctx *Context, payload json.RawMessage) error {
	p, err := unmarshal[core.EmitEventPayload](payload)
	if err != nil {
		return err
	}
	ctx.Tx.Emit(state.Event{Type: p.EventType, Data: p.Data})
	return nil
}
