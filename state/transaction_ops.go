package state

import (
	"fmt"

	"github.com/meridianledger/meridian/core"
)

// This file mirrors Block's ledger-mutating methods at the transaction
// layer, so that one transaction's instructions (or one trigger firing)
// can be aborted by simply dropping the Transaction handle without Apply:
// every mutation below touches only t's nested StorageTransaction/
// CellTransaction fields, never the enclosing Block's.

// RegisterDomain stages a new, empty domain.
func (t *Transaction) RegisterDomain(id core.DomainID) error {
	if _, ok := t.domains.Get(id); ok {
		return fmt.Errorf("domain %q already registered", id)
	}
	t.domains.Set(id, Domain{ID: id, AssetTotals: map[core.AssetDefinitionID]uint64{}})
	return nil
}

// RegisterAccount stages a new account inside an existing domain.
func (t *Transaction) RegisterAccount(domainID core.DomainID, accountID core.AccountID) error {
	dom, ok := t.domains.Get(domainID)
	if !ok {
		return fmt.Errorf("domain %q does not exist", domainID)
	}
	if _, ok := t.accounts.Get(accountID); ok {
		return fmt.Errorf("account %q already registered", accountID)
	}
	dom.Accounts = append(dom.Accounts, accountID)
	t.domains.Set(domainID, dom)
	t.accounts.Set(accountID, Account{ID: accountID})
	return nil
}

// RegisterAssetDefinition stages a new asset class inside an existing
// domain.
func (t *Transaction) RegisterAssetDefinition(domainID core.DomainID, defID core.AssetDefinitionID) error {
	dom, ok := t.domains.Get(domainID)
	if !ok {
		return fmt.Errorf("domain %q does not exist", domainID)
	}
	dom.AssetDefinitions = append(dom.AssetDefinitions, defID)
	if dom.AssetTotals == nil {
		dom.AssetTotals = map[core.AssetDefinitionID]uint64{}
	}
	t.domains.Set(domainID, dom)
	return nil
}

func (t *Transaction) domainOf(defID core.AssetDefinitionID) (Domain, core.DomainID, error) {
	var found Domain
	var foundID core.DomainID
	var ok bool
	t.domains.Ascend(core.DomainID(""), func(id core.DomainID, d Domain) bool {
		for _, owned := range d.AssetDefinitions {
			if owned == defID {
				found, foundID, ok = d, id, true
				return false
			}
		}
		return true
	})
	if !ok {
		return Domain{}, "", fmt.Errorf("asset definition %q not registered in any domain", defID)
	}
	return found, foundID, nil
}

// MintAsset increases account's balance of defID and the owning domain's
// running total.
func (t *Transaction) MintAsset(defID core.AssetDefinitionID, account core.AccountID, amount uint64) error {
	dom, domID, err := t.domainOf(defID)
	if err != nil {
		return err
	}
	if _, ok := t.accounts.Get(account); !ok {
		return fmt.Errorf("account %q does not exist", account)
	}
	key := AssetBalance{Account: account, Definition: defID}
	bal, _ := t.balances.Get(key)
	t.balances.Set(key, bal+amount)
	dom.AssetTotals[defID] += amount
	t.domains.Set(domID, dom)
	return nil
}

// BurnAsset decreases account's balance of defID and the owning domain's
// running total.
func (t *Transaction) BurnAsset(defID core.AssetDefinitionID, account core.AccountID, amount uint64) error {
	dom, domID, err := t.domainOf(defID)
	if err != nil {
		return err
	}
	key := AssetBalance{Account: account, Definition: defID}
	bal, _ := t.balances.Get(key)
	if bal < amount {
		return fmt.Errorf("account %q has insufficient balance of %q", account, defID)
	}
	t.balances.Set(key, bal-amount)
	dom.AssetTotals[defID] -= amount
	t.domains.Set(domID, dom)
	return nil
}

// TransferAsset moves a balance between two accounts of the same asset
// definition, leaving the domain total unchanged.
func (t *Transaction) TransferAsset(defID core.AssetDefinitionID, from, to core.AccountID, amount uint64) error {
	fromKey := AssetBalance{Account: from, Definition: defID}
	toKey := AssetBalance{Account: to, Definition: defID}
	fromBal, _ := t.balances.Get(fromKey)
	if fromBal < amount {
		return fmt.Errorf("account %q has insufficient balance of %q", from, defID)
	}
	if _, ok := t.accounts.Get(to); !ok {
		return fmt.Errorf("account %q does not exist", to)
	}
	toBal, _ := t.balances.Get(toKey)
	t.balances.Set(fromKey, fromBal-amount)
	t.balances.Set(toKey, toBal+amount)
	return nil
}

// RegisterRole stages a new role and its initial permission set.
func (t *Transaction) RegisterRole(id core.RoleID, perms []core.Permission) error {
	if _, ok := t.roles.Get(id); ok {
		return fmt.Errorf("role %q already registered", id)
	}
	t.roles.Set(id, Role{ID: id, Permissions: perms})
	return nil
}

// GrantRole attaches role to account.
func (t *Transaction) GrantRole(account core.AccountID, role core.RoleID) error {
	if _, ok := t.roles.Get(role); !ok {
		return fmt.Errorf("role %q does not exist", role)
	}
	roles, _ := t.accountRoles.Get(account)
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	t.accountRoles.Set(account, append(roles, role))
	return nil
}

// RevokeRole detaches role from account.
func (t *Transaction) RevokeRole(account core.AccountID, role core.RoleID) error {
	roles, _ := t.accountRoles.Get(account)
	filtered := roles[:0]
	for _, r := range roles {
		if r != role {
			filtered = append(filtered, r)
		}
	}
	t.accountRoles.Set(account, filtered)
	return nil
}

// GrantPermission attaches a permission directly to account.
func (t *Transaction) GrantPermission(account core.AccountID, perm core.Permission) {
	perms, _ := t.accountPermissions.Get(account)
	for _, p := range perms {
		if p == perm {
			return
		}
	}
	t.accountPermissions.Set(account, append(perms, perm))
}

// RevokePermission detaches a direct permission from account.
func (t *Transaction) RevokePermission(account core.AccountID, perm core.Permission) {
	perms, _ := t.accountPermissions.Get(account)
	filtered := perms[:0]
	for _, p := range perms {
		if p != perm {
			filtered = append(filtered, p)
		}
	}
	t.accountPermissions.Set(account, filtered)
}

// RegisterTrigger installs an event-driven handler.
func (t *Transaction) RegisterTrigger(trig Trigger) error {
	if _, ok := t.triggers.Get(trig.ID); ok {
		return fmt.Errorf("trigger %q already registered", trig.ID)
	}
	t.triggers.Set(trig.ID, trig)
	return nil
}

// SetParameter replaces one runtime parameter.
func (t *Transaction) SetParameter(mutate func(*Parameters)) {
	p := t.parameters.Get()
	mutate(&p)
	t.parameters.Set(p)
}

// RegisterPeer adds a peer to the trusted set.
func (t *Transaction) RegisterPeer(peer core.PeerID) {
	peers := t.trustedPeers.Get()
	for _, p := range peers {
		if p == peer {
			return
		}
	}
	t.trustedPeers.Set(append(peers, peer))
}

// UnregisterPeer removes a peer from the trusted set.
func (t *Transaction) UnregisterPeer(peer core.PeerID) {
	peers := t.trustedPeers.Get()
	filtered := peers[:0]
	for _, p := range peers {
		if p != peer {
			filtered = append(filtered, p)
		}
	}
	t.trustedPeers.Set(filtered)
}

// UpgradeExecutor replaces the installed executor module and its data
// model.
func (t *Transaction) UpgradeExecutor(mod ExecutorModule) {
	t.executor.Set(mod)
}

// HasPermission reports whether account holds perm directly or via any
// granted role, consulting the transaction layer's staged view.
func (t *Transaction) HasPermission(account core.AccountID, perm core.Permission) bool {
	perms, _ := t.accountPermissions.Get(account)
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	roles, _ := t.accountRoles.Get(account)
	for _, roleID := range roles {
		role, ok := t.roles.Get(roleID)
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if p == perm {
				return true
			}
		}
	}
	return false
}
