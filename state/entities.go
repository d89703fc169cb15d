// Package state holds the committed ledger state: the World of domains,
// accounts, roles and permissions, layered through Cell/Storage so that one
// candidate block (and, within it, one transaction) can stage changes
// without disturbing concurrent readers of the last committed state.
package state

import "github.com/meridianledger/meridian/core"

// Account is a named identity within a domain. Balances for each asset
// definition it holds live in a per-definition Storage, not inline here, so
// that asset transfers touch only the two accounts involved.
type Account struct {
	ID core.AccountID `json:"id"`
}

// Domain owns an insertion-order set of accounts and asset definitions, and
// the running total minted of each asset definition it declares.
type Domain struct {
	ID                core.DomainID               `json:"id"`
	Accounts          []core.AccountID            `json:"accounts"`
	AssetDefinitions  []core.AssetDefinitionID    `json:"asset_definitions"`
	AssetTotals       map[core.AssetDefinitionID]uint64 `json:"asset_totals"`
}

// Role names a reusable bundle of permissions that can be granted to
// accounts.
type Role struct {
	ID          core.RoleID       `json:"id"`
	Permissions []core.Permission `json:"permissions"`
}

// Trigger is a registered event-driven handler: Action fires whenever an
// event of EventType occurs.
type Trigger struct {
	ID        core.TriggerID    `json:"id"`
	EventType string            `json:"event_type"`
	Action    core.Instruction  `json:"action"`
}

// AssetBalance is one account's holding of one asset definition.
type AssetBalance struct {
	Account    core.AccountID
	Definition core.AssetDefinitionID
}
