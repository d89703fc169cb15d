// Package core defines the ledger's wire types: identifiers, transactions
// and blocks. It has no dependency on the layered state containers or the
// consensus engine — those consume core's types, not the reverse.
package core

// AccountID is an opaque, totally ordered account identifier ("name@domain").
type AccountID string

// DomainID is an opaque, totally ordered domain identifier.
type DomainID string

// AssetDefinitionID is an opaque, totally ordered asset-class identifier
// ("asset#domain").
type AssetDefinitionID string

// RoleID is an opaque, totally ordered role identifier.
type RoleID string

// TriggerID is an opaque, totally ordered trigger identifier.
type TriggerID string

// PeerID identifies a peer by its hex-encoded ed25519 public key.
type PeerID string

// Permission is a single named capability a role or account may hold.
type Permission string

// Hash is a lowercase-hex content hash, used for both block and
// transaction identifiers.
type Hash string

// LessString orders two opaque string-like identifiers lexicographically.
// All of the ID types above satisfy this when converted to string, which
// is what every Storage[K,V] instantiation over them uses as its Less.
func LessString[T ~string](a, b T) bool { return a < b }
