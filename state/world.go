package state

import (
	"fmt"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/state/container"
)

// World is the committed ledger: parameters, trusted peers, domains, roles,
// permissions, triggers and the active executor, each held in a Cell or
// Storage instance so a candidate block (and, within it, one transaction)
// can stage edits without disturbing a concurrent reader of the last
// committed state.
type World struct {
	parameters         *container.Cell[Parameters]
	trustedPeers       *container.Cell[[]core.PeerID]
	domains            *container.Storage[core.DomainID, Domain]
	roles              *container.Storage[core.RoleID, Role]
	accountPermissions *container.Storage[core.AccountID, []core.Permission]
	accountRoles       *container.Storage[core.AccountID, []core.RoleID]
	triggers           *container.Storage[core.TriggerID, Trigger]
	executor           *container.Cell[ExecutorModule]
	accounts           *container.Storage[core.AccountID, Account]
	balances           *container.Storage[AssetBalance, uint64]
}

// ExecutorModule is the active policy module installed on the chain,
// together with its declared permission/data schema.
type ExecutorModule struct {
	WASM      []byte
	DataModel []byte
}

func lessAssetBalance(a, b AssetBalance) bool {
	if a.Account != b.Account {
		return a.Account < b.Account
	}
	return a.Definition < b.Definition
}

// NewWorld builds an empty World with the given initial parameters.
func NewWorld(params Parameters) *World {
	return &World{
		parameters:         container.NewCell(params),
		trustedPeers:       container.NewCell[[]core.PeerID](nil),
		domains:            container.NewStorage[core.DomainID, Domain](core.LessString[core.DomainID]),
		roles:              container.NewStorage[core.RoleID, Role](core.LessString[core.RoleID]),
		accountPermissions: container.NewStorage[core.AccountID, []core.Permission](core.LessString[core.AccountID]),
		accountRoles:       container.NewStorage[core.AccountID, []core.RoleID](core.LessString[core.AccountID]),
		triggers:           container.NewStorage[core.TriggerID, Trigger](core.LessString[core.TriggerID]),
		executor:           container.NewCell(ExecutorModule{}),
		accounts:           container.NewStorage[core.AccountID, Account](core.LessString[core.AccountID]),
		balances:           container.NewStorage[AssetBalance, uint64](lessAssetBalance),
	}
}

// View is a read-only snapshot across every field of World, safe for
// concurrent callers.
type View struct {
	Parameters         container.CellView[Parameters]
	TrustedPeers       container.CellView[[]core.PeerID]
	Domains            container.StorageView[core.DomainID, Domain]
	Roles              container.StorageView[core.RoleID, Role]
	AccountPermissions container.StorageView[core.AccountID, []core.Permission]
	AccountRoles       container.StorageView[core.AccountID, []core.RoleID]
	Triggers           container.StorageView[core.TriggerID, Trigger]
	Executor           container.CellView[ExecutorModule]
	Accounts           container.StorageView[core.AccountID, Account]
	Balances           container.StorageView[AssetBalance, uint64]
}

// View takes an immutable snapshot of the committed World.
func (w *World) View() View {
	return View{
		Parameters:         w.parameters.View(),
		TrustedPeers:       w.trustedPeers.View(),
		Domains:            w.domains.View(),
		Roles:              w.roles.View(),
		AccountPermissions: w.accountPermissions.View(),
		AccountRoles:       w.accountRoles.View(),
		Triggers:           w.triggers.View(),
		Executor:           w.executor.View(),
		Accounts:           w.accounts.View(),
		Balances:           w.balances.View(),
	}
}

// Block obtains a block-layer handle staging atop the current committed
// World, held for the duration of applying one candidate block.
type Block struct {
	parameters         *container.CellBlock[Parameters]
	trustedPeers       *container.CellBlock[[]core.PeerID]
	domains            *container.StorageBlock[core.DomainID, Domain]
	roles              *container.StorageBlock[core.RoleID, Role]
	accountPermissions *container.StorageBlock[core.AccountID, []core.Permission]
	accountRoles       *container.StorageBlock[core.AccountID, []core.RoleID]
	triggers           *container.StorageBlock[core.TriggerID, Trigger]
	executor           *container.CellBlock[ExecutorModule]
	accounts           *container.StorageBlock[core.AccountID, Account]
	balances           *container.StorageBlock[AssetBalance, uint64]
	events             []Event
}

// Block obtains a normal block-layer handle staging atop the current
// committed World.
func (w *World) Block() *Block {
	return &Block{
		parameters:         w.parameters.Block(),
		trustedPeers:       w.trustedPeers.Block(),
		domains:            w.domains.Block(),
		roles:              w.roles.Block(),
		accountPermissions: w.accountPermissions.Block(),
		accountRoles:       w.accountRoles.Block(),
		triggers:           w.triggers.Block(),
		executor:           w.executor.Block(),
		accounts:           w.accounts.Block(),
		balances:           w.balances.Block(),
	}
}

// BlockAndRevert obtains a block-layer handle whose Commit discards the
// topmost previously committed state of every field instead of building on
// it — the sole soft-fork primitive (undoing exactly one prior
// Block.Commit).
func (w *World) BlockAndRevert() *Block {
	return &Block{
		parameters:         w.parameters.BlockAndRevert(),
		trustedPeers:       w.trustedPeers.BlockAndRevert(),
		domains:            w.domains.BlockAndRevert(),
		roles:              w.roles.BlockAndRevert(),
		accountPermissions: w.accountPermissions.BlockAndRevert(),
		accountRoles:       w.accountRoles.BlockAndRevert(),
		triggers:           w.triggers.BlockAndRevert(),
		executor:           w.executor.BlockAndRevert(),
		accounts:           w.accounts.BlockAndRevert(),
		balances:           w.balances.BlockAndRevert(),
	}
}

// Event is an effect recommendation produced while applying a block, buffered
// at the block layer so a dropped transaction layer truncates whatever it
// produced.
type Event struct {
	Type string
	Data map[string]any
}

// Emit appends an event to the block's buffer. Transaction layers wrap this
// buffer via Transaction.Emit so that dropping a transaction truncates
// exactly the events it produced.
func (b *Block) Emit(e Event) { b.events = append(b.events, e) }

// Events returns the events recommended so far at the block layer.
func (b *Block) Events() []Event { return b.events }

// Balance returns account's staged balance of defID at the block layer.
func (b *Block) Balance(account core.AccountID, defID core.AssetDefinitionID) (uint64, bool) {
	return b.balances.Get(AssetBalance{Account: account, Definition: defID})
}

// RegisterDomain stages a new, empty domain. Fails if one already exists
// with the same ID.
func (b *Block) RegisterDomain(id core.DomainID) error {
	if _, ok := b.domains.Get(id); ok {
		return fmt.Errorf("domain %q already registered", id)
	}
	b.domains.Set(id, Domain{ID: id, AssetTotals: map[core.AssetDefinitionID]uint64{}})
	return nil
}

// RegisterAccount stages a new account inside an existing domain.
func (b *Block) RegisterAccount(domainID core.DomainID, accountID core.AccountID) error {
	dom, ok := b.domains.Get(domainID)
	if !ok {
		return fmt.Errorf("domain %q does not exist", domainID)
	}
	if _, ok := b.accounts.Get(accountID); ok {
		return fmt.Errorf("account %q already registered", accountID)
	}
	dom.Accounts = append(dom.Accounts, accountID)
	b.domains.Set(domainID, dom)
	b.accounts.Set(accountID, Account{ID: accountID})
	return nil
}

// RegisterAssetDefinition stages a new asset class inside an existing
// domain.
func (b *Block) RegisterAssetDefinition(domainID core.DomainID, defID core.AssetDefinitionID) error {
	dom, ok := b.domains.Get(domainID)
	if !ok {
		return fmt.Errorf("domain %q does not exist", domainID)
	}
	dom.AssetDefinitions = append(dom.AssetDefinitions, defID)
	if dom.AssetTotals == nil {
		dom.AssetTotals = map[core.AssetDefinitionID]uint64{}
	}
	b.domains.Set(domainID, dom)
	return nil
}

// domainOf finds the domain owning an asset definition.
func (b *Block) domainOf(defID core.AssetDefinitionID) (Domain, core.DomainID, error) {
	var found Domain
	var foundID core.DomainID
	var ok bool
	b.domains.Ascend(core.DomainID(""), func(id core.DomainID, d Domain) bool {
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
func (b *Block) MintAsset(defID core.AssetDefinitionID, account core.AccountID, amount uint64) error {
	dom, domID, err := b.domainOf(defID)
	if err != nil {
		return err
	}
	if _, ok := b.accounts.Get(account); !ok {
		return fmt.Errorf("account %q does not exist", account)
	}
	key := AssetBalance{Account: account, Definition: defID}
	bal, _ := b.balances.Get(key)
	b.balances.Set(key, bal+amount)
	dom.AssetTotals[defID] += amount
	b.domains.Set(domID, dom)
	return nil
}

// BurnAsset decreases account's balance of defID and the owning domain's
// running total. Fails if the account's balance is insufficient.
func (b *Block) BurnAsset(defID core.AssetDefinitionID, account core.AccountID, amount uint64) error {
	dom, domID, err := b.domainOf(defID)
	if err != nil {
		return err
	}
	key := AssetBalance{Account: account, Definition: defID}
	bal, _ := b.balances.Get(key)
	if bal < amount {
		return fmt.Errorf("account %q has insufficient balance of %q", account, defID)
	}
	b.balances.Set(key, bal-amount)
	dom.AssetTotals[defID] -= amount
	b.domains.Set(domID, dom)
	return nil
}

// TransferAsset moves a balance between two accounts of the same asset
// definition, leaving the domain total unchanged.
func (b *Block) TransferAsset(defID core.AssetDefinitionID, from, to core.AccountID, amount uint64) error {
	fromKey := AssetBalance{Account: from, Definition: defID}
	toKey := AssetBalance{Account: to, Definition: defID}
	fromBal, _ := b.balances.Get(fromKey)
	if fromBal < amount {
		return fmt.Errorf("account %q has insufficient balance of %q", from, defID)
	}
	if _, ok := b.accounts.Get(to); !ok {
		return fmt.Errorf("account %q does not exist", to)
	}
	toBal, _ := b.balances.Get(toKey)
	b.balances.Set(fromKey, fromBal-amount)
	b.balances.Set(toKey, toBal+amount)
	return nil
}

// RegisterRole stages a new role and its initial permission set.
func (b *Block) RegisterRole(id core.RoleID, perms []core.Permission) error {
	if _, ok := b.roles.Get(id); ok {
		return fmt.Errorf("role %q already registered", id)
	}
	b.roles.Set(id, Role{ID: id, Permissions: perms})
	return nil
}

// GrantRole attaches role to account.
func (b *Block) GrantRole(account core.AccountID, role core.RoleID) error {
	if _, ok := b.roles.Get(role); !ok {
		return fmt.Errorf("role %q does not exist", role)
	}
	roles, _ := b.accountRoles.Get(account)
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	b.accountRoles.Set(account, append(roles, role))
	return nil
}

// RevokeRole detaches role from account.
func (b *Block) RevokeRole(account core.AccountID, role core.RoleID) error {
	roles, _ := b.accountRoles.Get(account)
	filtered := roles[:0]
	for _, r := range roles {
		if r != role {
			filtered = append(filtered, r)
		}
	}
	b.accountRoles.Set(account, filtered)
	return nil
}

// GrantPermission attaches a permission directly to account, independent of
// any role.
func (b *Block) GrantPermission(account core.AccountID, perm core.Permission) {
	perms, _ := b.accountPermissions.Get(account)
	for _, p := range perms {
		if p == perm {
			return
		}
	}
	b.accountPermissions.Set(account, append(perms, perm))
}

// RevokePermission detaches a direct permission from account.
func (b *Block) RevokePermission(account core.AccountID, perm core.Permission) {
	perms, _ := b.accountPermissions.Get(account)
	filtered := perms[:0]
	for _, p := range perms {
		if p != perm {
			filtered = append(filtered, p)
		}
	}
	b.accountPermissions.Set(account, filtered)
}

// RegisterTrigger installs an event-driven handler.
func (b *Block) RegisterTrigger(t Trigger) error {
	if _, ok := b.triggers.Get(t.ID); ok {
		return fmt.Errorf("trigger %q already registered", t.ID)
	}
	b.triggers.Set(t.ID, t)
	return nil
}

// MatchingTriggers returns every registered trigger whose firing condition
// is eventType, in no particular order.
func (b *Block) MatchingTriggers(eventType string) []Trigger {
	var matched []Trigger
	b.triggers.Scan(func(_ core.TriggerID, t Trigger) bool {
		if t.EventType == eventType {
			matched = append(matched, t)
		}
		return true
	})
	return matched
}

// SetParameter replaces one runtime parameter.
func (b *Block) SetParameter(mutate func(*Parameters)) {
	p := b.parameters.Get()
	mutate(&p)
	b.parameters.Set(p)
}

// RegisterPeer adds a peer to the trusted set.
func (b *Block) RegisterPeer(peer core.PeerID) {
	peers := b.trustedPeers.Get()
	for _, p := range peers {
		if p == peer {
			return
		}
	}
	b.trustedPeers.Set(append(peers, peer))
}

// UnregisterPeer removes a peer from the trusted set.
func (b *Block) UnregisterPeer(peer core.PeerID) {
	peers := b.trustedPeers.Get()
	filtered := peers[:0]
	for _, p := range peers {
		if p != peer {
			filtered = append(filtered, p)
		}
	}
	b.trustedPeers.Set(filtered)
}

// UpgradeExecutor replaces the installed executor module and its data
// model.
func (b *Block) UpgradeExecutor(mod ExecutorModule) {
	b.executor.Set(mod)
}

// HasPermission reports whether account holds perm directly or via any
// granted role.
func (b *Block) HasPermission(account core.AccountID, perm core.Permission) bool {
	perms, _ := b.accountPermissions.Get(account)
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	roles, _ := b.accountRoles.Get(account)
	for _, roleID := range roles {
		role, ok := b.roles.Get(roleID)
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

// Transaction obtains a transaction-layer handle nested under this block,
// held for the duration of one transaction or trigger firing.
type Transaction struct {
	block              *Block
	parameters         *container.CellTransaction[Parameters]
	trustedPeers       *container.CellTransaction[[]core.PeerID]
	domains            *container.StorageTransaction[core.DomainID, Domain]
	roles              *container.StorageTransaction[core.RoleID, Role]
	accountPermissions *container.StorageTransaction[core.AccountID, []core.Permission]
	accountRoles       *container.StorageTransaction[core.AccountID, []core.RoleID]
	triggers           *container.StorageTransaction[core.TriggerID, Trigger]
	executor           *container.CellTransaction[ExecutorModule]
	accounts           *container.StorageTransaction[core.AccountID, Account]
	balances           *container.StorageTransaction[AssetBalance, uint64]
	eventBase          int
}

// Transaction obtains a nested transaction-layer handle under b.
func (b *Block) Transaction() *Transaction {
	return &Transaction{
		block:              b,
		parameters:         b.parameters.Transaction(),
		trustedPeers:       b.trustedPeers.Transaction(),
		domains:            b.domains.Transaction(),
		roles:              b.roles.Transaction(),
		accountPermissions: b.accountPermissions.Transaction(),
		accountRoles:       b.accountRoles.Transaction(),
		triggers:           b.triggers.Transaction(),
		executor:           b.executor.Transaction(),
		accounts:           b.accounts.Transaction(),
		balances:           b.balances.Transaction(),
		eventBase:          len(b.events),
	}
}

// Emit appends an event to the enclosing block's buffer. Dropping t without
// Apply never rolls this back automatically — callers executing
// instructions must explicitly truncate b.events to eventBase on abort,
// which Apply's absence signals to the caller owning t.
func (t *Transaction) Emit(e Event) { t.block.events = append(t.block.events, e) }

// Apply folds the transaction layer's staged contents back into its parent
// block. Dropping t instead discards all staged state effects; events
// emitted through t stay in the block's buffer until Discard is called.
func (t *Transaction) Apply() {
	t.parameters.Apply()
	t.trustedPeers.Apply()
	t.domains.Apply()
	t.roles.Apply()
	t.accountPermissions.Apply()
	t.accountRoles.Apply()
	t.triggers.Apply()
	t.executor.Apply()
	t.accounts.Apply()
	t.balances.Apply()
}

// Discard truncates the block's event buffer back to the point before t was
// created, undoing any events emitted through t alongside the rest of its
// effects (which vanish simply because Apply is never called).
func (t *Transaction) Discard() {
	t.block.events = t.block.events[:t.eventBase]
}

// Commit folds the block layer's staged contents into the committed World.
// Fields are folded in the reverse order from which View reads them, so a
// concurrent reader of View never observes a torn mixture of old and new
// state (§3 "strict commit order").
func (b *Block) Commit() {
	b.balances.Commit()
	b.accounts.Commit()
	b.executor.Commit()
	b.triggers.Commit()
	b.accountRoles.Commit()
	b.accountPermissions.Commit()
	b.roles.Commit()
	b.domains.Commit()
	b.trustedPeers.Commit()
	b.parameters.Commit()
}
