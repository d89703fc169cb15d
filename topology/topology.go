// Package topology tracks the ordered peer sequence that assigns consensus
// roles for the current round and reshapes itself across view changes and
// membership updates.
package topology

import (
	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
)

// Role is the consensus responsibility a peer holds for the current round,
// determined entirely by its position in the topology.
type Role string

const (
	RoleLeader         Role = "leader"
	RoleValidatingPeer Role = "validating_peer"
	RoleProxyTail      Role = "proxy_tail"
	RoleObservingPeer  Role = "observing_peer"
	RoleUndefined      Role = "undefined"
)

// Topology is an ordered sequence of peer identities. Index 0 is always the
// current leader; roles for every other index follow from n (topology size)
// and f (the maximum tolerated faults).
type Topology struct {
	peers []core.PeerID
}

// New builds a Topology from peers, preserving their given order.
func New(peers []core.PeerID) Topology {
	cp := make([]core.PeerID, len(peers))
	copy(cp, peers)
	return Topology{peers: cp}
}

// Peers returns the ordered peer sequence. The returned slice must not be
// mutated by the caller.
func (t Topology) Peers() []core.PeerID { return t.peers }

// Len returns n, the number of peers in the topology.
func (t Topology) Len() int { return len(t.peers) }

// MaxFaults returns f = floor((n-1)/3), the number of faulty peers the
// topology can tolerate.
func (t Topology) MaxFaults() int {
	n := len(t.peers)
	if n == 0 {
		return 0
	}
	return (n - 1) / 3
}

// MinVotesForCommit returns 2f+1, the number of distinct valid signatures a
// block needs to commit.
func (t Topology) MinVotesForCommit() int {
	return 2*t.MaxFaults() + 1
}

// IsConsensusRequired reports whether voting is meaningful: false for a
// single-peer topology, where the sole peer commits unilaterally.
func (t Topology) IsConsensusRequired() bool {
	return len(t.peers) != 1
}

// RoleOf returns the role peer holds in this topology.
func (t Topology) RoleOf(peer core.PeerID) Role {
	idx := t.indexOf(peer)
	if idx < 0 {
		return RoleUndefined
	}
	return t.roleAt(idx)
}

func (t Topology) indexOf(peer core.PeerID) int {
	for i, p := range t.peers {
		if p == peer {
			return i
		}
	}
	return -1
}

func (t Topology) roleAt(idx int) Role {
	n := len(t.peers)
	f := t.MaxFaults()
	switch {
	case idx == 0:
		return RoleLeader
	case n > f+1 && idx == n-f-1:
		return RoleProxyTail
	case idx >= 1 && idx <= n-f-1:
		return RoleValidatingPeer
	default:
		return RoleObservingPeer
	}
}

// Hash returns the content hash of the ordered peer sequence, used as the
// commit_topology/prev_commit_topology fields a block header binds itself
// to. Two topologies with the same peers in the same order hash equal
// regardless of how they were built.
func (t Topology) Hash() core.Hash {
	var data []byte
	for _, p := range t.peers {
		data = append(data, []byte(p)...)
		data = append(data, 0)
	}
	return core.Hash(crypto.Hash(data))
}

// ProxyTail returns the current proxy tail's identity and whether one
// exists (it does not for small topologies where n <= f+1).
func (t Topology) ProxyTail() (core.PeerID, bool) {
	n := len(t.peers)
	f := t.MaxFaults()
	if n <= f+1 {
		return "", false
	}
	return t.peers[n-f-1], true
}

// Leader returns the current leader (slot 0).
func (t Topology) Leader() (core.PeerID, bool) {
	if len(t.peers) == 0 {
		return "", false
	}
	return t.peers[0], true
}

// NthRotation rotates the sequence left by k, popping the head and
// appending it to the tail k times. k is reduced modulo n first, so
// rotating by any multiple of n returns the original order.
func (t Topology) NthRotation(k uint64) Topology {
	n := len(t.peers)
	if n == 0 {
		return t
	}
	shift := int(k % uint64(n))
	rotated := make([]core.PeerID, n)
	for i := range rotated {
		rotated[i] = t.peers[(i+shift)%n]
	}
	return Topology{peers: rotated}
}

// BlockCommitted applies one leader-to-tail rotation (the rotation a
// successful round always performs) and then reconciles membership with
// newPeers: peers present in newPeers but absent from the current topology
// are appended at the tail in the order given; peers absent from newPeers
// are dropped, preserving the relative order of survivors.
func (t Topology) BlockCommitted(newPeers []core.PeerID) Topology {
	rotated := t.NthRotation(1)

	present := make(map[core.PeerID]bool, len(newPeers))
	for _, p := range newPeers {
		present[p] = true
	}

	survivors := make([]core.PeerID, 0, len(rotated.peers))
	known := make(map[core.PeerID]bool, len(rotated.peers))
	for _, p := range rotated.peers {
		known[p] = true
		if present[p] {
			survivors = append(survivors, p)
		}
	}
	for _, p := range newPeers {
		if !known[p] {
			survivors = append(survivors, p)
		}
	}
	return Topology{peers: survivors}
}
