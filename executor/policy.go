// Package executor implements the policy interface every built-in
// instruction is dispatched through: given an authority, an instruction,
// and a transaction-layer state handle, it returns either approval or a
// denial reason.
package executor

import (
	"fmt"

	"github.com/meridianledger/meridian/core"
)

// PermissionHolder is the subset of state.Block / state.Transaction the
// policy needs: a permission check against whatever layer the caller is
// currently holding open.
type PermissionHolder interface {
	HasPermission(account core.AccountID, perm core.Permission) bool
}

// GenesisAccount is the account permitted to bypass every permission check,
// at any block height.
const GenesisAccount core.AccountID = "genesis@genesis"

// CanUpgradeExecutor is the permission required (post-genesis) to issue an
// upgrade_executor instruction.
const CanUpgradeExecutor core.Permission = "can_upgrade_executor"

// requiredPermission maps a built-in instruction kind to the permission an
// authority must hold to issue it. Kinds absent from this table require no
// permission; the policy does not check that the authority is registered.
var requiredPermission = map[core.InstructionKind]core.Permission{
	core.InstrRegisterDomain:          "can_register_domain",
	core.InstrRegisterAssetDefinition: "can_register_asset_definition",
	core.InstrMintAsset:               "can_mint_asset",
	core.InstrBurnAsset:               "can_burn_asset",
	core.InstrRegisterRole:            "can_register_role",
	core.InstrGrantRole:               "can_grant_role",
	core.InstrRevokeRole:              "can_revoke_role",
	core.InstrGrantPermission:         "can_grant_permission",
	core.InstrRevokePermission:        "can_revoke_permission",
	core.InstrRegisterTrigger:         "can_register_trigger",
	core.InstrSetParameter:            "can_set_parameter",
	core.InstrRegisterPeer:            "can_register_peer",
	core.InstrUnregisterPeer:          "can_unregister_peer",
	core.InstrUpgradeExecutor:         CanUpgradeExecutor,
}

// Policy is the executor's built-in decision function: it consults
// account_permissions and the roles in account_roles to decide whether
// authority may issue instr against the ledger staged in block.
type Policy struct{}

// New creates the built-in Policy. It holds no state of its own; every
// decision reads through the block handle it is given.
func New() *Policy { return &Policy{} }

// Authorize returns nil if authority may issue instr at the given block
// height, or a denial error otherwise. Height 0 (genesis) always approves:
// the chain has not yet granted any role or permission to check against,
// and GenesisAccount is approved at every height. TransferAsset and other
// kinds that don't appear in requiredPermission are approved for any
// authority; everything else requires the mapped permission.
func (p *Policy) Authorize(holder PermissionHolder, height uint64, authority core.AccountID, kind core.InstructionKind) error {
	if height == 0 || authority == GenesisAccount {
		return nil
	}
	perm, needsPermission := requiredPermission[kind]
	if !needsPermission {
		return nil
	}
	if !holder.HasPermission(authority, perm) {
		return fmt.Errorf("authority %q lacks permission %q required for %s", authority, perm, kind)
	}
	return nil
}
