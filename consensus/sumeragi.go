// Package consensus implements Sumeragi, the BFT round that turns a topology
// of peers and a pool of accepted transactions into a quorum-committed
// block. Each peer's role for the round — leader, validating peer, proxy
// tail, or observing peer — follows purely from its position in the current
// topology; Sumeragi dispatches on that role rather than tracking it as a
// separate mode.
package consensus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
	"github.com/meridianledger/meridian/events"
	"github.com/meridianledger/meridian/kura"
	"github.com/meridianledger/meridian/metrics"
	"github.com/meridianledger/meridian/network"
	"github.com/meridianledger/meridian/proof"
	"github.com/meridianledger/meridian/queue"
	"github.com/meridianledger/meridian/state"
	"github.com/meridianledger/meridian/topology"
	"github.com/meridianledger/meridian/txexec"
)

// Sumeragi is one peer's view of the BFT round. It owns exactly the state
// listed for a peer: the topology, its key pair, the transaction queue, the
// block currently being voted on together with the signatures gathered for
// it so far, the view-change proof chain, and the round/view-change
// timestamps used to detect a stalled round.
type Sumeragi struct {
	chainID string
	peerID  core.PeerID
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey

	store *kura.Store
	st    *state.State
	exec  *txexec.Engine
	net   *network.Node
	emit  *events.Emitter

	acceptance core.AcceptanceLimits

	roundTimeout      time.Duration
	viewChangeTimeout time.Duration

	peerAddrs map[core.PeerID]string
	metrics   *metrics.Metrics

	mu                   sync.Mutex
	topo                 topology.Topology
	viewChangeIndex      uint64
	votingBlock          *core.Block
	votingWorld          *state.Block
	votingSignatures     map[core.Hash]crypto.SignatureSet
	viewChangeProofChain *proof.Chain
	roundStartTime       time.Time
	lastViewChangeTime   time.Time

	log *zap.SugaredLogger
}

// New creates a Sumeragi round engine for the local peer.
func New(
	chainID string,
	peerID core.PeerID,
	privKey crypto.PrivateKey,
	topo topology.Topology,
	store *kura.Store,
	st *state.State,
	exec *txexec.Engine,
	net *network.Node,
	emit *events.Emitter,
	acceptance core.AcceptanceLimits,
	roundTimeout, viewChangeTimeout time.Duration,
	logger *zap.SugaredLogger,
) *Sumeragi {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Sumeragi{
		chainID:              chainID,
		peerID:               peerID,
		privKey:               privKey,
		pubKey:                privKey.Public(),
		store:                 store,
		st:                    st,
		exec:                  exec,
		net:                   net,
		emit:                  emit,
		acceptance:            acceptance,
		roundTimeout:          roundTimeout,
		viewChangeTimeout:     viewChangeTimeout,
		topo:                  topo,
		votingSignatures:      make(map[core.Hash]crypto.SignatureSet),
		viewChangeProofChain:  &proof.Chain{},
		roundStartTime:        time.Now(),
		log:                   logger.With("component", "consensus", "peer_id", peerID),
	}
	net.Handle(network.MsgBlockCreated, s.handleBlockCreated)
	net.Handle(network.MsgBlockSigned, s.handleBlockSigned)
	net.Handle(network.MsgBlockCommitted, s.handleBlockCommitted)
	net.Handle(network.MsgControlFlow, s.handleControlFlow)
	return s
}

// SetPeerAddrs supplies the dial address for each known peer ID, so that
// commitLocked can translate a committed trusted-peer set into the
// network layer's connection membership. Peers with no known address are
// left out of reconciliation rather than causing a dial error.
func (s *Sumeragi) SetPeerAddrs(addrs map[core.PeerID]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerAddrs = addrs
}

// SetMetrics attaches the Prometheus instrumentation updated at round start,
// commit and view-change. A nil Metrics (the default) disables instrumentation.
func (s *Sumeragi) SetMetrics(m *metrics.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

func (s *Sumeragi) signatoryIndex() (crypto.SignatoryIndex, bool) {
	for i, p := range s.topo.Peers() {
		if p == s.peerID {
			return crypto.SignatoryIndex(i), true
		}
	}
	return 0, false
}

func (s *Sumeragi) latestHeader() *core.BlockHeader {
	height := s.st.Height()
	if height == 0 {
		return nil
	}
	tip, ok, err := s.store.GetBlockByHeight(height)
	if err != nil || !ok {
		return nil
	}
	return &tip.Header
}

// latestHash returns the hash this round's topology should anchor against:
// the committed tip's block hash, or the empty hash before genesis.
func (s *Sumeragi) latestHash() core.Hash {
	height := s.st.Height()
	if height == 0 {
		return ""
	}
	hash, _ := s.st.BlockHash(height)
	return hash
}

// execute runs tx against the round's in-progress world-block handle and is
// passed to core.Validate/core.Categorize as the per-transaction callback.
// Author-signature and clock-drift checks already ran once, at queue
// admission (see network.handleTx / core.Accept); re-categorizing a
// candidate only needs to re-run its instructions deterministically.
func (s *Sumeragi) execute(height uint64) func(tx *core.SignedTransaction) error {
	return func(tx *core.SignedTransaction) error {
		accepted := &core.AcceptedTransaction{SignedTransaction: tx, Hash: tx.Hash()}
		return s.exec.Execute(s.votingWorld, height, accepted)
	}
}

// StartRound begins a new round: if this peer is the leader it assembles a
// candidate block from the transaction queue and broadcasts it; every other
// role waits for BlockCreated.
func (s *Sumeragi) StartRound(txQueue *queue.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roundStartTime = time.Now()
	roundID := uuid.NewString()
	params := s.st.World.View().Parameters.Get()
	txQueue.PruneExpired(time.Now())
	var committed []core.Hash
	for _, c := range txQueue.GetTransactionsForBlock(txQueue.Len(), nil, nil) {
		if _, ok := s.st.TransactionHeight(c.Hash); ok {
			committed = append(committed, c.Hash)
		}
	}
	txQueue.Remove(committed)

	leader, ok := s.topo.Leader()
	if !ok || leader != s.peerID {
		return nil
	}
	log := s.log.With("round_id", roundID)

	if s.metrics != nil {
		s.metrics.MempoolSize.Set(float64(txQueue.Len()))
	}

	candidates := txQueue.GetTransactionsForBlock(params.MaxTransactionsPerBlock, nil, nil)
	txs := make([]*core.SignedTransaction, 0, len(candidates))
	for _, c := range candidates {
		txs = append(txs, c.SignedTransaction)
	}

	commitTopoHash := s.topo.Hash()
	prevTopoHash := commitTopoHash
	block := core.NewBlockBuilder(txs).Chain(s.viewChangeIndex, s.latestHeader(), commitTopoHash, prevTopoHash)
	if err := block.Sign(s.privKey); err != nil {
		return fmt.Errorf("sumeragi: sign candidate: %w", err)
	}
	log.Debugw("assembled candidate block", "height", block.Header.Height, "txs", len(txs))

	s.votingBlock = block
	s.votingWorld = s.st.World.Block()
	if err := block.Categorize(s.execute(block.Header.Height)); err != nil {
		return fmt.Errorf("sumeragi: categorize own candidate: %w", err)
	}

	// A single-peer topology needs no further votes: the leader's own
	// signature already meets the quorum. Any topology of size >= 2 still
	// requires broadcasting the candidate and waiting for votes, even
	// though f=0 topologies of size 2 or 3 also satisfy MinVotesForCommit
	// with the leader's signature alone.
	if !s.topo.IsConsensusRequired() {
		if err := block.Commit(s.topo.MinVotesForCommit()); err == nil {
			log.Infow("self-committed single-peer block", "height", block.Header.Height)
			s.commitLocked()
			return nil
		}
	}

	s.net.BroadcastBlockCreated(block)
	return nil
}

func (s *Sumeragi) handleBlockCreated(_ *network.Peer, msg network.Message) {
	var payload network.BlockCreatedPayload
	if err := decode(msg, &payload); err != nil || payload.Block == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	leader, ok := s.topo.Leader()
	if !ok {
		return
	}
	leaderKey, err := crypto.PubKeyFromHex(string(leader))
	if err != nil {
		s.log.Errorf("leader %s has no valid public key: %v", leader, err)
		return
	}

	s.votingWorld = s.st.World.Block()
	valid, err := core.Validate(payload.Block, leaderKey, s.execute(payload.Block.Header.Height))
	if err != nil {
		s.log.Errorf("reject candidate from %s: %v", leader, err)
		s.votingWorld = nil
		return
	}
	s.votingBlock = valid
	s.replayBufferedSignatures(valid.Header.Hash())

	// An observing peer sits out a round's first attempt: it only
	// contributes a vote once a view change has actually occurred.
	if idx, ok := s.signatoryIndex(); ok && s.signatureAllowed(idx) {
		sig := crypto.Sign(s.privKey, []byte(valid.Header.Hash()))
		if err := valid.AddSignature(crypto.Signature{Signatory: idx, Data: sig}, s.topo.Len()); err != nil {
			s.log.Errorf("add own signature: %v", err)
		} else {
			tail, ok := s.topo.ProxyTail()
			dest := string(tail)
			if !ok {
				dest = string(leader)
			}
			payloadOut, _ := encode(network.BlockSignedPayload{
				BlockHash: valid.Header.Hash(),
				Height:    valid.Header.Height,
				Signature: crypto.Signature{Signatory: idx, Data: sig},
			})
			_ = s.net.Post(dest, network.Message{Type: network.MsgBlockSigned, Payload: payloadOut})
		}
	}

	s.tryCommitIfQuorum()
}

// signatureAllowed reports whether the peer at topology index idx may
// currently contribute a vote: every role other than observing peer votes
// from the round's start, but an observing peer only joins in once a view
// change has occurred (view_change_index >= 1).
func (s *Sumeragi) signatureAllowed(idx crypto.SignatoryIndex) bool {
	peers := s.topo.Peers()
	if int(idx) < 0 || int(idx) >= len(peers) {
		return false
	}
	if s.topo.RoleOf(peers[idx]) == topology.RoleObservingPeer {
		return s.viewChangeIndex >= 1
	}
	return true
}

// replayBufferedSignatures folds signatures received for hash before the
// matching BlockCreated arrived (ordinary async reordering) into the
// now-current voting block, and drops the buffer so it cannot grow
// unbounded across rounds.
func (s *Sumeragi) replayBufferedSignatures(hash core.Hash) {
	buffered, ok := s.votingSignatures[hash]
	if !ok {
		return
	}
	delete(s.votingSignatures, hash)
	for _, sig := range buffered.All() {
		if !s.signatureAllowed(sig.Signatory) {
			continue
		}
		_ = s.votingBlock.AddSignature(sig, s.topo.Len())
	}
}

// tryCommitIfQuorum commits the in-progress voting block once it carries
// enough valid signatures; it is a no-op otherwise.
func (s *Sumeragi) tryCommitIfQuorum() {
	if s.votingBlock == nil {
		return
	}
	if err := s.votingBlock.Commit(s.topo.MinVotesForCommit()); err != nil {
		return // not enough votes yet
	}
	s.commitLocked()
}

func (s *Sumeragi) handleBlockSigned(_ *network.Peer, msg network.Message) {
	var payload network.BlockSignedPayload
	if err := decode(msg, &payload); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.signatureAllowed(payload.Signature.Signatory) {
		return
	}
	if s.votingBlock == nil || s.votingBlock.Header.Hash() != payload.BlockHash {
		// The matching BlockCreated hasn't arrived here yet. Buffer the
		// vote instead of dropping it, so an ordinary race between
		// BlockCreated and BlockSigned delivery can't stall the round.
		buffered := s.votingSignatures[payload.BlockHash]
		buffered.Add(payload.Signature)
		s.votingSignatures[payload.BlockHash] = buffered
		return
	}
	if err := s.votingBlock.AddSignature(payload.Signature, s.topo.Len()); err != nil {
		return
	}
	s.tryCommitIfQuorum()
}

func (s *Sumeragi) handleBlockCommitted(_ *network.Peer, msg network.Message) {
	var payload network.BlockCommittedPayload
	if err := decode(msg, &payload); err != nil || payload.Block == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if payload.Block.Status != core.StatusCommitted {
		return
	}
	// An observing peer (or one that missed its own BlockSigned round) has
	// no in-progress world-block handle yet; open one and replay the
	// quorum-approved block's transactions before folding it in. A peer
	// that already voted this round reuses the handle it executed against.
	if s.votingBlock == nil || s.votingBlock.Header.Hash() != payload.Block.Header.Hash() {
		s.votingWorld = s.st.World.Block()
		execute := s.execute(payload.Block.Header.Height)
		for _, tx := range payload.Block.Transactions {
			if err := execute(tx); err != nil {
				s.log.Errorf("committed block %d: tx %s replay error: %v", payload.Block.Header.Height, tx.Hash(), err)
			}
		}
	}
	s.votingBlock = payload.Block
	s.commitLocked()
}

// commitLocked persists s.votingBlock (already Committed) to storage and
// state, advances the topology, and resets round state. Callers must hold
// s.mu.
func (s *Sumeragi) commitLocked() {
	block := s.votingBlock
	if block == nil || s.votingWorld == nil {
		return
	}

	if err := s.store.StoreBlock(block); err != nil {
		s.log.Fatalf("store block %d: %v", block.Header.Height, err)
	}
	s.votingWorld.Commit()

	txHashes := make([]core.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		txHashes[i] = tx.Hash()
		outcome := block.Outcomes[i]
		s.emit.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        string(txHashes[i]),
			BlockHeight: int64(block.Header.Height),
			Data:        map[string]any{"error": outcome.Error},
		})
	}
	if err := s.st.RecordBlock(block.Header.Height, block.Header.Hash(), txHashes); err != nil {
		s.log.Fatalf("record block %d: %v", block.Header.Height, err)
	}

	trustedPeers := s.st.World.View().TrustedPeers.Get()
	s.topo = s.topo.BlockCommitted(trustedPeers)
	if len(s.peerAddrs) > 0 {
		members := make(map[string]string, len(trustedPeers))
		for _, peer := range trustedPeers {
			if addr, ok := s.peerAddrs[peer]; ok && peer != s.peerID {
				members[string(peer)] = addr
			}
		}
		s.net.UpdateTopology(members)
	}
	s.viewChangeIndex = 0
	s.viewChangeProofChain.Prune(block.Header.Hash())

	s.net.BroadcastBlockCommitted(block)
	s.emit.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: int64(block.Header.Height),
		Data:        map[string]any{"hash": string(block.Header.Hash()), "txs": len(block.Transactions)},
	})
	if s.metrics != nil {
		s.metrics.BlocksCommitted.Inc()
		s.metrics.ChainHeight.Set(float64(block.Header.Height))
		s.metrics.ObserveRound(s.roundStartTime)
	}

	s.votingBlock = nil
	s.votingWorld = nil
	s.votingSignatures = make(map[core.Hash]crypto.SignatureSet)
	s.roundStartTime = time.Now()
}

func (s *Sumeragi) handleControlFlow(_ *network.Peer, msg network.Message) {
	var payload network.ControlFlowPayload
	if err := decode(msg, &payload); err != nil || payload.Proof == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.signatoryIndex()
	if !ok {
		return
	}
	p := proof.Proof{Anchor: payload.Proof.Anchor, Index: payload.Proof.Index, Signatures: payload.Proof.Signatures}
	if !s.viewChangeProofChain.InsertProof(p, s.topo, s.latestHash(), idx) {
		return
	}
	if verified := s.viewChangeProofChain.VerifyWithState(s.topo, s.latestHash()); verified > s.viewChangeIndex {
		s.viewChangeIndex = verified
		s.topo = s.topo.NthRotation(verified)
		s.roundStartTime = time.Now()
	}
}

// CheckViewChangeTimeout is called periodically (e.g. from a ticker in
// Run); if the current round has stalled past viewChangeTimeout, it votes
// for a view change by broadcasting a signed proof extending the chain by
// one index.
func (s *Sumeragi) CheckViewChangeTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.roundStartTime) < s.viewChangeTimeout {
		return
	}
	idx, ok := s.signatoryIndex()
	if !ok {
		return
	}
	anchor := s.latestHash()
	sig := crypto.Sign(s.privKey, proof.SigningBytes(anchor, s.viewChangeIndex))
	p := proof.Proof{
		Anchor:     anchor,
		Index:      s.viewChangeIndex,
		Signatures: crypto.NewSignatureSet(crypto.Signature{Signatory: idx, Data: sig}),
	}
	s.viewChangeProofChain.InsertProof(p, s.topo, anchor, idx)
	payload, _ := encode(network.ControlFlowPayload{
		ViewChangeIndex: s.viewChangeIndex,
		Proof:           &network.ControlFlowProof{Anchor: p.Anchor, Index: p.Index, Signatures: p.Signatures},
	})
	s.net.Broadcast(network.Message{Type: network.MsgControlFlow, Payload: payload})
	s.lastViewChangeTime = time.Now()
	s.emit.Emit(events.Event{
		Type: events.EventViewChange,
		Data: map[string]any{"view_change_index": s.viewChangeIndex, "anchor": string(anchor)},
	})
	if s.metrics != nil {
		s.metrics.ViewChanges.Inc()
	}
}

// Run drives the round and view-change timers until done is closed.
func (s *Sumeragi) Run(txQueue *queue.Queue, done <-chan struct{}) {
	roundTicker := time.NewTicker(s.roundTimeout)
	viewChangeTicker := time.NewTicker(s.viewChangeTimeout / 2)
	defer roundTicker.Stop()
	defer viewChangeTicker.Stop()
	for {
		select {
		case <-done:
			return
		case <-roundTicker.C:
			if err := s.StartRound(txQueue); err != nil {
				s.log.Errorf("start round: %v", err)
			}
		case <-viewChangeTicker.C:
			s.CheckViewChangeTimeout()
		}
	}
}

func decode(msg network.Message, v any) error { return json.Unmarshal(msg.Payload, v) }

func encode(v any) ([]byte, error) { return json.Marshal(v) }
