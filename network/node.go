package network

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/queue"
)

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// Node listens for incoming peers and manages outgoing connections. It is
// the post/broadcast collaborator the consensus loop drives: post sends one
// message to one peer, broadcast sends to the whole topology, and
// update_topology reconciles the live peer set against a new membership
// list after a block commits.
type Node struct {
	nodeID     string
	listenAddr string
	txQueue    *queue.Queue
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler
	accept   func(tx *core.SignedTransaction) (*core.AcceptedTransaction, error)

	listener net.Listener
	stopCh   chan struct{}

	log *zap.SugaredLogger
}

// NewNode creates a Node that will listen on listenAddr.
// If tlsCfg is non-nil the listener and outgoing connections use TLS.
// A nil logger falls back to a no-op logger.
func NewNode(nodeID, listenAddr string, txQueue *queue.Queue, tlsCfg *tls.Config, logger *zap.SugaredLogger) *Node {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	n := &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		txQueue:    txQueue,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		stopCh:     make(chan struct{}),
		log:        logger.With("component", "network", "node_id", nodeID),
	}
	n.Handle(MsgTx, n.handleTx)
	return n
}

// Handle registers a handler for msg type. Handlers for the consensus
// message types (BlockCreated/BlockSigned/BlockCommitted/ControlFlow) are
// registered by the consensus package at startup and BlockSyncUpdate by
// Syncer; Node itself registers only MsgTx, and MsgHello has no handler.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// SetAcceptor installs the structural-acceptance check (chain ID, clock
// drift, TTL, instruction limits, signature) run on every inbound
// transaction before it is queued. Without one, handleTx queues the
// transaction as-is, keyed by its raw hash — suitable only for tests.
func (n *Node) SetAcceptor(accept func(tx *core.SignedTransaction) (*core.AcceptedTransaction, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accept = accept
}

// AddPeer dials addr and registers the peer.
func (n *Node) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)

	hello, err := json.Marshal(HelloPayload{PeerID: n.nodeID})
	if err != nil {
		n.log.Errorf("marshal hello: %v", err)
		return nil
	}
	if err := peer.Send(Message{Type: MsgHello, Payload: hello}); err != nil {
		n.log.Errorf("send hello to %s: %v", id, err)
	}
	return nil
}

// RemovePeer disconnects and forgets the peer with the given id, if any.
func (n *Node) RemovePeer(id string) {
	n.mu.Lock()
	p, ok := n.peers[id]
	delete(n.peers, id)
	n.mu.Unlock()
	if ok {
		p.Close()
	}
}

// UpdateTopology reconciles the live connection set against members: peers
// no longer present are disconnected, and peers present but not yet
// connected are dialed at the given address. Called after every block
// commit with the new topology's peer set.
func (n *Node) UpdateTopology(members map[string]string) {
	n.mu.RLock()
	var stale []string
	for id := range n.peers {
		if _, keep := members[id]; !keep {
			stale = append(stale, id)
		}
	}
	n.mu.RUnlock()
	for _, id := range stale {
		n.RemovePeer(id)
	}
	for id, addr := range members {
		if id == n.nodeID {
			continue
		}
		if n.Peer(id) != nil {
			continue
		}
		if err := n.AddPeer(id, addr); err != nil {
			n.log.Errorf("update_topology dial %s: %v", id, err)
		}
	}
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// Post sends msg to exactly one peer by id, the addressed-delivery half of
// the consensus loop's post/broadcast collaborator pair.
func (n *Node) Post(peerID string, msg Message) error {
	p := n.Peer(peerID)
	if p == nil {
		return fmt.Errorf("network: peer %s not connected", peerID)
	}
	return p.Send(msg)
}

// Broadcast sends msg to all connected peers.
func (n *Node) Broadcast(msg Message) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			n.log.Errorf("broadcast to %s: %v", p.ID, err)
		}
	}
}

// BroadcastTx serialises tx and sends it to all peers.
func (n *Node) BroadcastTx(tx *core.SignedTransaction) {
	data, err := json.Marshal(TxPayload{Transaction: tx})
	if err != nil {
		n.log.Errorf("marshal tx: %v", err)
		return
	}
	n.Broadcast(Message{Type: MsgTx, Payload: data})
}

// BroadcastBlockCreated serialises a newly-assembled candidate block and
// sends it to all peers, opening a validation round.
func (n *Node) BroadcastBlockCreated(block *core.Block) {
	data, err := json.Marshal(BlockCreatedPayload{Block: block})
	if err != nil {
		n.log.Errorf("marshal block_created: %v", err)
		return
	}
	n.Broadcast(Message{Type: MsgBlockCreated, Payload: data})
}

// BroadcastBlockCommitted serialises a quorum-signed block and sends it to
// all peers, instructing them to commit it.
func (n *Node) BroadcastBlockCommitted(block *core.Block) {
	data, err := json.Marshal(BlockCommittedPayload{Block: block})
	if err != nil {
		n.log.Errorf("marshal block_committed: %v", err)
		return
	}
	n.Broadcast(Message{Type: MsgBlockCommitted, Payload: data})
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.log.Errorf("accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			n.log.Warnf("max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Errorf("readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

func (n *Node) handleTx(_ *Peer, msg Message) {
	var payload TxPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		n.log.Errorf("unmarshal tx: %v", err)
		return
	}
	if payload.Transaction == nil {
		return
	}
	n.mu.RLock()
	accept := n.accept
	n.mu.RUnlock()

	var accepted *core.AcceptedTransaction
	if accept != nil {
		a, err := accept(payload.Transaction)
		if err != nil {
			n.log.Warnf("reject inbound tx: %v", err)
			return
		}
		accepted = a
	} else {
		accepted = &core.AcceptedTransaction{SignedTransaction: payload.Transaction, Hash: payload.Transaction.Hash()}
	}
	if err := n.txQueue.Add(accepted); err != nil {
		n.log.Errorf("queue add: %v", err)
	}
}
