package core

// mesh.go – the Mesh Manager: composes every component into one running
// node and drives the end-to-end delegation flow.
//
// Composition-root shape grounded on core/network.go's Node (one struct
// holding every subsystem, exposing Start/Stop, wiring callbacks between
// them in its constructor); the package-level accessor pattern mirrors
// core/quorum_tracker.go's InitQuorumTracker/CurrentQuorumTracker singleton.

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Mesh composes the full set of components for one running node and
// drives delegateTask/onTaskRequest/onTaskResult end to end.
type Mesh struct {
	mu sync.Mutex

	self Identity
	log *logrus.Logger
	transport *TransportClient
	server *TransportServer
	sharedSecret string

	members *Membership
	gossiper *Gossiper
	credentials *CredentialVerifier
	escrow *EscrowManager
	reputation *ReputationStore
	router *Router
	decomposer *TaskDecomposer
	auction *AuctionGuard
	contracts *ContractStore
	friction *FrictionEngine
	firebreak *Firebreak
	outcome *OutcomeVerifier
	consensus *ConsensusVerifier
	behavior *BehavioralScorer
	sabotage *SabotageDetector
	redelegate *RedelegationMonitor

	endorserKeys map[NodeID]ed25519.PublicKey
	slashFraction float64

	// activeSessions maps a locally originated task_id to the session state
	// needed to interpret its eventual result.
	activeSessions map[string]*activeSession
	openRFQs map[string]RFQ
}

type activeSession struct {
	contractID string
	peer NodeID
	chainID string
	sessionID string
	slo SLO
}

var (
	currentMeshMu sync.Mutex
	currentMesh *Mesh
)

// InitMesh stores an already-built Mesh as the process-wide singleton
// returned by CurrentMesh, mirroring core/quorum_tracker.go's Init/Current
// pattern.
func InitMesh(m *Mesh) {
	currentMeshMu.Lock()
	defer currentMeshMu.Unlock()
	currentMesh = m
}

// CurrentMesh returns the process-wide Mesh singleton. It panics if InitMesh
// has not been called, matching core/quorum_tracker.go's CurrentQuorumTracker.
func CurrentMesh() *Mesh {
	currentMeshMu.Lock()
	defer currentMeshMu.Unlock()
	if currentMesh == nil {
		panic("core: CurrentMesh called before InitMesh")
	}
	return currentMesh
}

// MeshParams collects the tunables NewMesh needs, already resolved from
// pkg/config by the caller (cmd/meshnode).
type MeshParams struct {
	Self Identity
	SharedSecret string
	Deadline time.Duration

	SuspectedAfter, UnreachableAfter, EvictAfter, SweepInterval time.Duration
	GossipFanoutK int
	GossipTick time.Duration
	RequireCredentials bool
	MinEndorsements int
	TrustedIssuers map[NodeID]ed25519.PublicKey
	EndorserKeys map[NodeID]ed25519.PublicKey
	SlashFraction float64
	ReputationHalfLife time.Duration
	RouterScoreFloor float64
	DecomposerMaxDepth int
	AuctionMaxBidsPerMinute int
	AuctionFrontrunWindow time.Duration
	FrictionThreshold float64
	FrictionPromptsPerHour int
	FirebreakBaseDepth int
	ContractsPath string
	QualityGatesCost bool
	ConsensusQuorumSize int
	ConsensusQuorumThreshold float64
	SabotageBurstWindow time.Duration
	SabotageLedgerCap, SabotageLedgerTrimTo int
	RedelegationMax int
	RedelegationCooldown time.Duration
}

// NewMesh builds every component with its resolved defaults, wires their
// cross-component callbacks, and returns the composed node.
// Starting the transport server and background loops is left to Start.
func NewMesh(p MeshParams, log *logrus.Logger) *Mesh {
	m := &Mesh{
		self: p.Self,
		log: log,
		sharedSecret: p.SharedSecret,
		endorserKeys: p.EndorserKeys,
		slashFraction: p.SlashFraction,
		activeSessions: make(map[string]*activeSession),
	}
	if m.slashFraction <= 0 {
		m.slashFraction = 0.5
	}

	m.members = NewMembership(p.Self, p.SuspectedAfter, p.UnreachableAfter, p.EvictAfter, p.SweepInterval, log)
	m.transport = NewTransportClient(p.Deadline, p.SharedSecret)
	m.gossiper = NewGossiper(m.members, m.transport, p.GossipFanoutK, p.GossipTick, log)
	m.credentials = NewCredentialVerifier(p.TrustedIssuers, p.RequireCredentials, p.MinEndorsements)
	m.escrow = NewEscrowManager(log)
	m.reputation = NewReputationStore(p.ReputationHalfLife, log)
	m.router = NewRouter(m.members, m.reputation, p.RouterScoreFloor, 2*time.Second)
	m.decomposer = NewTaskDecomposer(p.DecomposerMaxDepth)
	m.auction = NewAuctionGuard(p.AuctionMaxBidsPerMinute, p.AuctionFrontrunWindow)
	m.contracts = NewContractStore(p.ContractsPath, p.QualityGatesCost, log)
	m.sabotage = NewSabotageDetector(p.SabotageLedgerCap, p.SabotageLedgerTrimTo, p.SabotageBurstWindow, nil, log)
	m.friction = NewFrictionEngine(p.FrictionThreshold, p.FrictionPromptsPerHour, m.sabotage.FlagsAgainst, m.router.approvalRate)
	m.firebreak = NewFirebreak(p.FirebreakBaseDepth)
	m.outcome = NewOutcomeVerifier()
	m.consensus = NewConsensusVerifier(p.ConsensusQuorumSize, p.ConsensusQuorumThreshold)
	m.behavior = NewBehavioralScorer()
	m.redelegate = NewRedelegationMonitor(p.RedelegationMax, p.RedelegationCooldown)

	m.members.OnEvent(func(ev MembershipEvent) {
		log.WithFields(logrus.Fields{"peer": ev.NodeID, "type": ev.Type}).Info("membership event")
	})
	m.escrow.OnEvent(func(ev EscrowEvent) {
		log.WithFields(logrus.Fields{"node": ev.NodeID, "type": ev.Type, "before": ev.Before, "after": ev.After}).Info("escrow event")
	})
	m.behavior.OnUpdate(func(node NodeID, composite float64) {
		log.WithFields(logrus.Fields{"node": node, "composite": composite}).Info("behavioral score updated")
	})

	cfg := TransportConfig{
		SharedSecret: p.SharedSecret,
		Deadline: p.Deadline,
		Identity: m.members.Self,
		Heartbeat: m.handleHeartbeat,
		Join: m.handleJoin,
		Leave: m.handleLeave,
		Gossip: m.gossiper.HandleGossip,
		TaskHandler: m,
		ResultHandler: m,
		Status: m.taskStatus,
		Cancel: m.cancelTask,
		RFQ: m.handleRFQ,
		Bid: m.handleBid,
		Verify: m.handleVerify,
	}
	m.server = NewTransportServer(cfg, log)
	return m
}

// Start does not boot the transport server listener; that is left to the
// caller, which owns the net/http.Server. Start only starts the background
// membership and gossip loops, matching core/network.go's Node.Start.
func (m *Mesh) Start() {
	m.members.Start()
	m.gossiper.Start()
}

// Stop halts the background loops.
func (m *Mesh) Stop() {
	m.members.Stop()
	m.gossiper.Stop()
}

// Server exposes the composed HTTP handler, for the caller to pass to
// http.ListenAndServe.
func (m *Mesh) Server() *TransportServer { return m.server }

// LoadContracts replays the persisted contract ledger, restoring any
// contracts.jsonl left by a previous run.
func (m *Mesh) LoadContracts() error {
	return m.contracts.Load()
}

// Identity returns this node's self-asserted identity.
func (m *Mesh) Identity() Identity { return m.members.Self() }

// ActivePeers returns every peer currently in the alive state.
func (m *Mesh) ActivePeers() []PeerRecord {
	var out []PeerRecord
	for _, rec := range m.members.All() {
		if rec.State == PeerAlive {
			out = append(out, rec)
		}
	}
	return out
}

// HandleJoin admits a newly announced peer into membership.
func (m *Mesh) HandleJoin(identity Identity) {
	m.members.HandleJoin(identity)
}

func (m *Mesh) handleHeartbeat(from NodeID, at time.Time, peers []PeerVersion) []Identity {
	m.members.RecordHeartbeat(from, at)
	var stale []Identity
	for _, pv := range peers {
		if rec, ok := m.members.Get(pv.ID); ok && rec.Identity.Version > pv.Version {
			stale = append(stale, rec.Identity)
		}
	}
	return stale
}

func (m *Mesh) handleJoin(identity Identity) {
	m.members.HandleJoin(identity)
}

func (m *Mesh) handleLeave(node NodeID, reason string) {
	m.members.RecordSilence(node)
	m.log.WithFields(logrus.Fields{"peer": node, "reason": reason}).Info("peer left")
}

func (m *Mesh) handleRFQ(rfq RFQ) error {
	m.mu.Lock()
	if m.openRFQs == nil {
		m.openRFQs = make(map[string]RFQ)
	}
	m.openRFQs[rfq.RFQID] = rfq
	m.mu.Unlock()
	m.log.WithFields(logrus.Fields{"rfq": rfq.RFQID}).Info("rfq received")
	return nil
}

// BidSubmission is the wire payload for POST /bid: Phase selects which of
// the two embedded forms is populated.
type BidSubmission struct {
	Phase string `json:"phase"`
	Sealed *SealedBid `json:"sealed,omitempty"`
	Revealed *RevealedBid `json:"revealed,omitempty"`
}

func (m *Mesh) handleBid(raw json.RawMessage) error {
	var sub BidSubmission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}
	switch sub.Phase {
	case "commit":
		if sub.Sealed == nil {
			return NewMeshError(ErrCommitmentMismatch, "commit phase missing sealed bid")
		}
		return m.auction.Commit(*sub.Sealed)
	case "reveal":
		if sub.Revealed == nil {
			return NewMeshError(ErrCommitmentMismatch, "reveal phase missing revealed bid")
		}
		m.mu.Lock()
		_, known := m.openRFQs[sub.Revealed.RFQID]
		m.mu.Unlock()
		if !known {
			return NewMeshError(ErrCommitmentMismatch, "unknown rfq %s", sub.Revealed.RFQID)
		}
		if m.auction.IsFlagged(sub.Revealed.RFQID, sub.Revealed.Bidder) {
			return NewMeshError(ErrRateLimited, "bidder %s flagged for front-running on rfq %s", sub.Revealed.Bidder, sub.Revealed.RFQID)
		}
		return m.auction.Reveal(*sub.Revealed)
	default:
		return NewMeshError(ErrCommitmentMismatch, "unknown bid phase %q", sub.Phase)
	}
}

func (m *Mesh) taskStatus(taskID string) (CheckpointStatus, bool) {
	m.mu.Lock()
	_, ok := m.activeSessions[taskID]
	m.mu.Unlock()
	if !ok {
		return CheckpointStatus{}, false
	}
	return CheckpointStatus{Progress: 0, LastActivity: time.Now()}, true
}

func (m *Mesh) cancelTask(taskID string) error {
	m.mu.Lock()
	sess, ok := m.activeSessions[taskID]
	m.mu.Unlock()
	if !ok {
		return NewMeshError(ErrCancelled, "unknown task %s", taskID)
	}
	if err := m.contracts.Cancel(sess.contractID); err != nil {
		return err
	}
	m.firebreak.Reset(sess.chainID)
	m.redelegate.Untrack(taskID)
	m.mu.Lock()
	delete(m.activeSessions, taskID)
	m.mu.Unlock()
	return nil
}

// DelegateTask decomposes text, routes each sub-task, and issues outbound
// delegations to AI peers, respecting firebreak, friction, and escrow gates
// in order: decompose -> route -> firebreak check -> friction gate ->
// escrow reserve -> contract create -> send.
func (m *Mesh) DelegateTask(targetNode NodeID, text, sessionID string, constraints SLO) ([]DelegationContract, error) {
	attrs := m.decomposer.Analyze(text)
	if !m.decomposer.ShouldDelegate(attrs) {
		return nil, NewMeshError(ErrCapabilityMissing, "task too trivial to delegate")
	}

	chainID := sessionID
	subtasks := m.decomposer.Decompose(text, constraints, nil)
	var contracts []DelegationContract
	for i := range subtasks {
		st := &subtasks[i]
		decision := m.router.Route(st.Text, st.Attributes.RequiredCapabilities)
		peer := decision.NodeID
		if targetNode != "" {
			peer = targetNode
		}
		st.DelegationTarget = string(decision.Target)
		if decision.Target == TargetHuman {
			continue
		}

		if _, err := m.firebreak.CheckAndIncrement(chainID, st.Attributes); err != nil {
			return contracts, err
		}

		score := m.friction.Score(st.Attributes, peer)
		mustConfirm, _ := m.friction.Gate(peer, score)
		if mustConfirm {
			return contracts, NewMeshError(ErrCapabilityMissing, "delegation to %s requires human confirmation", peer)
		}

		contractID := uuid.NewString()
		bond := uint64(st.Constraints.MaxCostUSD * 1_000_000)
		if bond > 0 {
			if err := m.escrow.Reserve(peer, contractID, bond); err != nil {
				m.firebreak.Reset(chainID)
				return contracts, err
			}
		}

		contract := DelegationContract{
			ContractID: contractID,
			Delegator: m.self.ID,
			Delegatee: peer,
			TaskID: st.ID,
			TaskText: st.Text,
			SLO: st.Constraints,
			CreatedAt: time.Now(),
		}
		if err := m.contracts.Create(contract); err != nil {
			return contracts, err
		}

		peerRec, _ := m.members.Get(peer)
		accepted, reason, err := m.transport.SendTask(peerRec.Identity.BaseURL, TaskRequest{
			TaskID: st.ID,
			OriginatorNodeID: m.self.ID,
			TaskText: st.Text,
			SessionID: sessionID,
			Constraints: st.Constraints,
			Contract: &contract,
		})
		if err != nil || !accepted {
			_ = m.contracts.MarkViolated(contractID, firstNonEmpty(reason, fmt.Sprint(err)))
			if bond > 0 {
				_ = m.escrow.Release(peer, contractID)
			}
			return contracts, NewMeshError(ErrDeadlineExceeded, "peer %s rejected task: %v %s", peer, err, reason)
		}

		m.mu.Lock()
		m.activeSessions[st.ID] = &activeSession{contractID: contractID, peer: peer, chainID: chainID, sessionID: sessionID, slo: st.Constraints}
		m.mu.Unlock()
		m.redelegate.Track(st.ID, peer, st.Text, sessionID, st.Constraints)
		contracts = append(contracts, contract)
	}
	return contracts, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// OnTaskRequest implements TaskHandler for inbound POST /task: verifies the
// requester's credential (if required), the delegation chain's firebreak
// budget, and local capability coverage, and accepts or rejects.
func (m *Mesh) OnTaskRequest(req TaskRequest) (accepted bool, reason string) {
	if m.credentials.RequireCredentials() {
		peerRec, ok := m.members.Get(req.OriginatorNodeID)
		if !ok || !m.credentials.HasValidCredential(peerRec.Identity, m.endorserKeys) {
			return false, string(ErrCredentialInvalid)
		}
	}
	attrs := m.decomposer.Analyze(req.TaskText)
	if _, err := m.firebreak.CheckAndIncrement(req.SessionID, attrs); err != nil {
		return false, string(ErrFirebreakExceeded)
	}
	for _, capName := range attrs.RequiredCapabilities {
		if !m.self.HasCapability(capName) {
			m.firebreak.Reset(req.SessionID)
			return false, string(ErrCapabilityMissing)
		}
	}
	return true, ""
}

// OnTaskResult implements ResultHandler for inbound POST /result: computes
// the outcome vector, gates critical tasks on consensus-verifier quorum,
// finalises the contract, releases or slashes escrow, feeds reputation and
// behavioural scoring, and either clears or hands off redelegation tracking.
func (m *Mesh) OnTaskResult(result TaskResult) {
	m.mu.Lock()
	sess, ok := m.activeSessions[result.TaskID]
	m.mu.Unlock()
	if !ok {
		m.log.WithFields(logrus.Fields{"task": result.TaskID}).Warn("result for unknown task")
		return
	}

	contract, err := m.contracts.Complete(sess.contractID, outcomeInput{
		TaskStatus: result.Status,
		DurationMS: result.DurationMS,
		TokensUsed: result.TokensUsed,
		CostUSD: result.CostUSD,
	})
	if err != nil {
		m.log.WithFields(logrus.Fields{"contract": sess.contractID, "err": err}).Warn("contract completion failed")
	}

	vec := m.outcome.Compute(result, sess.slo)
	verdict, violationReason := m.outcome.Verify(vec, sess.slo)

	if m.decomposer.Analyze(contract.TaskText).Criticality == LevelHigh {
		if resolved, accepted := m.runConsensus(result.TaskID, contract.TaskText, result, sess.slo, sess.peer, verdict); resolved {
			if !accepted {
				verdict = false
				violationReason = string(ErrConsensusFailed)
			}
		}
	}

	if !verdict && contract.Status == ContractCompleted {
		_ = m.contracts.MarkViolated(sess.contractID, violationReason)
	}

	success := contract.Status == ContractCompleted && verdict
	bond := uint64(sess.slo.MaxCostUSD * 1_000_000)
	if bond > 0 {
		if success {
			_ = m.escrow.Release(sess.peer, sess.contractID)
		} else {
			_ = m.escrow.Slash(sess.peer, sess.contractID, m.slashFraction, violationReason)
		}
	}

	m.reputation.Record(sess.peer, success)
	m.members.SetReputationCache(sess.peer, m.reputation.Score(sess.peer))
	obsType := ObsProtocolFollowed
	if !success {
		obsType = ObsProtocolViolated
	}
	m.behavior.Record(sess.peer, BehavioralObservation{Type: obsType, Timestamp: time.Now()})

	m.firebreak.Reset(sess.chainID)
	m.mu.Lock()
	delete(m.activeSessions, result.TaskID)
	m.mu.Unlock()

	if success {
		m.redelegate.Untrack(result.TaskID)
		return
	}
	m.requestRedelegation(result.TaskID, sess.peer, violationReason)
}

// handleVerify implements the Verify callback for inbound POST /verify: it
// independently recomputes the outcome vector for the carried result against
// the carried SLO and reports its own pass/fail, blind to the delegator's
// verdict beyond what was carried on the wire.
func (m *Mesh) handleVerify(req VerifyRequest) bool {
	vec := m.outcome.Compute(req.Result, req.SLO)
	ok, _ := m.outcome.Verify(vec, req.SLO)
	return ok
}

// runConsensus broadcasts a VERIFY request to up to quorum_size live peers,
// excluding the delegatee and self, and records each independent verdict
// against the delegator's local one. If fewer live peers are reachable than
// quorum_size, the round is skipped entirely and the caller falls back to
// the local verdict alone.
func (m *Mesh) runConsensus(taskID, taskText string, result TaskResult, slo SLO, delegatee NodeID, localVerdict bool) (resolved, accepted bool) {
	quorumSize := m.consensus.QuorumSize()
	var verifiers []PeerRecord
	for _, rec := range m.members.All() {
		if rec.State != PeerAlive || rec.Identity.ID == delegatee || rec.Identity.ID == m.self.ID {
			continue
		}
		verifiers = append(verifiers, rec)
		if len(verifiers) >= quorumSize {
			break
		}
	}
	if len(verifiers) < quorumSize {
		m.log.WithFields(logrus.Fields{"task": taskID, "available": len(verifiers), "needed": quorumSize}).Warn("too few live peers for consensus verification, falling back to local verdict")
		return false, false
	}

	m.consensus.Begin(taskID)
	defer m.consensus.Forget(taskID)
	req := VerifyRequest{TaskID: taskID, TaskText: taskText, Result: result, SLO: slo, DelegatorVerdict: localVerdict}
	for _, peer := range verifiers {
		verdict, err := m.transport.SendVerify(peer.Identity.BaseURL, req)
		if err != nil {
			m.log.WithFields(logrus.Fields{"task": taskID, "verifier": peer.Identity.ID, "err": err}).Warn("verify broadcast failed")
			continue
		}
		m.consensus.RecordVerdict(taskID, peer.Identity.ID, localVerdict, verdict)
	}
	return m.consensus.Resolved(taskID)
}

// requestRedelegation attempts to immediately re-issue a violated task to a
// different live peer, mirroring DelegateTask's firebreak -> escrow ->
// contract -> send sequence but keyed off the tracked delegation recovered
// from the re-delegation monitor. It gives up, untracking the task, if the
// budget is exhausted, no eligible peer remains, or the attempt itself
// fails at any step.
func (m *Mesh) requestRedelegation(taskID string, violatedPeer NodeID, reason string) {
	if m.redelegate.AtLimit(taskID) {
		m.log.WithFields(logrus.Fields{"task": taskID, "reason": reason}).Warn("redelegation budget exhausted, giving up")
		m.redelegate.Untrack(taskID)
		return
	}
	tracked, ok := m.redelegate.Get(taskID)
	if !ok {
		return
	}

	excluded := m.redelegate.ExcludedPeers(taskID)
	if excluded == nil {
		excluded = make(map[NodeID]struct{})
	}
	excluded[violatedPeer] = struct{}{}

	attrs := m.decomposer.Analyze(tracked.TaskText)
	decision := m.router.RouteExcluding(tracked.TaskText, attrs.RequiredCapabilities, excluded)
	if decision.NodeID == "" || decision.Target != TargetAI {
		m.log.WithFields(logrus.Fields{"task": taskID, "reason": reason}).Warn("no eligible peer for redelegation")
		m.redelegate.Untrack(taskID)
		return
	}

	if _, err := m.firebreak.CheckAndIncrement(tracked.SessionID, attrs); err != nil {
		m.log.WithFields(logrus.Fields{"task": taskID, "err": err}).Warn("redelegation blocked by firebreak")
		m.redelegate.Untrack(taskID)
		return
	}

	contractID := uuid.NewString()
	bond := uint64(tracked.Constraints.MaxCostUSD * 1_000_000)
	if bond > 0 {
		if err := m.escrow.Reserve(decision.NodeID, contractID, bond); err != nil {
			m.firebreak.Reset(tracked.SessionID)
			m.log.WithFields(logrus.Fields{"task": taskID, "err": err}).Warn("redelegation escrow reserve failed")
			m.redelegate.Untrack(taskID)
			return
		}
	}

	contract := DelegationContract{
		ContractID: contractID,
		Delegator: m.self.ID,
		Delegatee: decision.NodeID,
		TaskID: taskID,
		TaskText: tracked.TaskText,
		SLO: tracked.Constraints,
		CreatedAt: time.Now(),
	}
	if err := m.contracts.Create(contract); err != nil {
		if bond > 0 {
			_ = m.escrow.Release(decision.NodeID, contractID)
		}
		m.firebreak.Reset(tracked.SessionID)
		m.redelegate.Untrack(taskID)
		return
	}

	peerRec, _ := m.members.Get(decision.NodeID)
	accepted, taskReason, err := m.transport.SendTask(peerRec.Identity.BaseURL, TaskRequest{
		TaskID: taskID,
		OriginatorNodeID: m.self.ID,
		TaskText: tracked.TaskText,
		SessionID: tracked.SessionID,
		Constraints: tracked.Constraints,
		Contract: &contract,
	})
	if err != nil || !accepted {
		_ = m.contracts.MarkViolated(contractID, firstNonEmpty(taskReason, fmt.Sprint(err)))
		if bond > 0 {
			_ = m.escrow.Release(decision.NodeID, contractID)
		}
		m.firebreak.Reset(tracked.SessionID)
		m.redelegate.Untrack(taskID)
		return
	}

	m.mu.Lock()
	m.activeSessions[taskID] = &activeSession{contractID: contractID, peer: decision.NodeID, chainID: tracked.SessionID, sessionID: tracked.SessionID, slo: tracked.Constraints}
	m.mu.Unlock()
	m.redelegate.RecordRedelegation(taskID, decision.NodeID, time.Now())
	m.log.WithFields(logrus.Fields{"task": taskID, "old_peer": violatedPeer, "new_peer": decision.NodeID, "reason": reason}).Info("task re-delegated after violation")
}

// HealthTick is called periodically with the current time. It collects the
// peers membership marks suspected or unreachable, asks the re-delegation
// monitor which tracked delegations are due, routes each one to a peer not
// yet tried for that task, and records that peer in the monitor. It does not
// send the task to the new peer, open a contract, or reserve escrow; the
// active session and contract stay with the original peer.
func (m *Mesh) HealthTick(now time.Time) {
	degraded := make(map[NodeID]struct{})
	for _, rec := range m.members.All() {
		if rec.State == PeerSuspected || rec.State == PeerUnreachable {
			degraded[rec.Identity.ID] = struct{}{}
		}
	}
	due := m.redelegate.HealthTick(degraded, now)
	for _, d := range due {
		excluded := m.redelegate.ExcludedPeers(d.TaskID)
		decision := m.router.RouteExcluding(d.TaskText, nil, excluded)
		if decision.NodeID == "" {
			continue
		}
		m.redelegate.RecordRedelegation(d.TaskID, decision.NodeID, now)
		m.log.WithFields(logrus.Fields{"task": d.TaskID, "new_peer": decision.NodeID}).Info("task re-delegated")
	}
}
