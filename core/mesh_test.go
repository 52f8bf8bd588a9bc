package core

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
)

func newVerifyingPeerServer(verdict bool) *httptest.Server {
	cfg := TransportConfig{
		SharedSecret: "secret",
		Identity:     func() Identity { return Identity{ID: "verifier-1", Version: 1} },
		Heartbeat: func(NodeID, time.Time, []PeerVersion) []Identity { return nil },
		Join:  func(Identity) {},
		Leave: func(NodeID, string) {},
		Gossip: func(GossipMessage) GossipMessage { return GossipMessage{} },
		TaskHandler:   &fakeTaskHandler{accepted: true},
		ResultHandler: &fakeResultHandler{},
		Status: func(string) (CheckpointStatus, bool) { return CheckpointStatus{}, false },
		Cancel: func(string) error { return nil },
		RFQ:    func(RFQ) error { return nil },
		Bid:    func(json.RawMessage) error { return nil },
		Verify: func(VerifyRequest) bool { return verdict },
	}
	return httptest.NewServer(NewTransportServer(cfg, testLogger()))
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func newTestMesh(selfID NodeID) *Mesh {
	p := MeshParams{
		Self:                    Identity{ID: selfID, Name: string(selfID), Capabilities: map[string]struct{}{}},
		SharedSecret:            "secret",
		Deadline:                time.Second,
		SuspectedAfter:          time.Hour,
		UnreachableAfter:        2 * time.Hour,
		EvictAfter:              3 * time.Hour,
		SweepInterval:           time.Hour,
		GossipFanoutK:           2,
		GossipTick:              time.Hour,
		RouterScoreFloor:        0.1,
		FirebreakBaseDepth:      4,
		FrictionThreshold:       0.6,
		FrictionPromptsPerHour:  6,
		AuctionMaxBidsPerMinute: 10,
		AuctionFrontrunWindow:   time.Second,
		ConsensusQuorumSize:     3,
		ConsensusQuorumThreshold: 2.0 / 3.0,
		RedelegationMax:         2,
		RedelegationCooldown:    time.Minute,
		SlashFraction:           0.5,
	}
	return NewMesh(p, testLogger())
}

func TestMeshDelegateTaskReservesEscrowAndSendsTask(t *testing.T) {
	m := newTestMesh("delegator")

	peerTS, peerHandler, _ := newTestTransportServer()
	peerHandler.accepted = true
	srv := httptest.NewServer(peerTS)
	defer srv.Close()

	m.members.HandleJoin(Identity{ID: "peer-1", Name: "peer-1", Version: 1, BaseURL: srv.URL})
	m.escrow.Fund("peer-1", 10_000_000)

	contracts, err := m.DelegateTask("peer-1", "refactor the reporting module", "session-1", SLO{MaxCostUSD: 1.0, MaxDurationMS: 10000, MaxTokens: 1000})
	if err != nil {
		t.Fatalf("DelegateTask: %v", err)
	}
	if len(contracts) != 1 {
		t.Fatalf("expected one contract for a single-sentence task, got %d: %+v", len(contracts), contracts)
	}
	if contracts[0].Delegatee != "peer-1" {
		t.Fatalf("expected delegatee peer-1, got %s", contracts[0].Delegatee)
	}
	if peerHandler.lastReq.TaskText == "" {
		t.Fatalf("expected the peer's task handler to have received the delegated task")
	}
	if free := m.escrow.Free("peer-1"); free != 10_000_000-1_000_000 {
		t.Fatalf("expected 1.0 USD bond reserved against peer-1, got free=%d", free)
	}
}

func TestMeshDelegateTaskRejectsTrivialTask(t *testing.T) {
	m := newTestMesh("delegator")
	_, err := m.DelegateTask("", "ok", "session-1", SLO{})
	if err == nil {
		t.Fatalf("expected a trivial one-word task to be rejected before delegation")
	}
}

func TestMeshOnTaskRequestRejectsMissingCapability(t *testing.T) {
	m := newTestMesh("worker")
	accepted, reason := m.OnTaskRequest(TaskRequest{TaskID: "t1", TaskText: "please run the deploy script"})
	if accepted {
		t.Fatalf("expected rejection when the node lacks the deploy capability")
	}
	if reason != string(ErrCapabilityMissing) {
		t.Fatalf("expected ErrCapabilityMissing reason, got %q", reason)
	}
}

func TestMeshOnTaskRequestAcceptsWithCapability(t *testing.T) {
	m := newTestMesh("worker")
	m.self.Capabilities = map[string]struct{}{"deploy": {}}
	accepted, _ := m.OnTaskRequest(TaskRequest{TaskID: "t1", TaskText: "please run the deploy script"})
	if !accepted {
		t.Fatalf("expected acceptance once the node has the required capability")
	}
}

func TestMeshOnTaskResultCompletesContractAndReleasesEscrow(t *testing.T) {
	m := newTestMesh("delegator")
	peerTS, peerHandler, _ := newTestTransportServer()
	peerHandler.accepted = true
	srv := httptest.NewServer(peerTS)
	defer srv.Close()

	m.members.HandleJoin(Identity{ID: "peer-1", Name: "peer-1", Version: 1, BaseURL: srv.URL})
	m.escrow.Fund("peer-1", 10_000_000)

	contracts, err := m.DelegateTask("peer-1", "refactor the reporting module", "session-1", SLO{MaxCostUSD: 1.0, MaxDurationMS: 10000, MaxTokens: 1000})
	if err != nil {
		t.Fatalf("DelegateTask: %v", err)
	}
	taskID := contracts[0].TaskID

	m.OnTaskResult(TaskResult{TaskID: taskID, Status: ResultCompleted, DurationMS: 100, TokensUsed: 50, CostUSD: 0.1})

	contract, ok := m.contracts.Get(contracts[0].ContractID)
	if !ok || contract.Status != ContractCompleted {
		t.Fatalf("expected the contract completed after a within-budget result, got %+v ok=%v", contract, ok)
	}
	if free := m.escrow.Free("peer-1"); free != 10_000_000 {
		t.Fatalf("expected the full bond released back to free balance, got %d", free)
	}
}

func TestMeshOnTaskResultSlashesOnSLOViolation(t *testing.T) {
	m := newTestMesh("delegator")
	peerTS, peerHandler, _ := newTestTransportServer()
	peerHandler.accepted = true
	srv := httptest.NewServer(peerTS)
	defer srv.Close()

	m.members.HandleJoin(Identity{ID: "peer-1", Name: "peer-1", Version: 1, BaseURL: srv.URL})
	m.escrow.Fund("peer-1", 10_000_000)

	contracts, err := m.DelegateTask("peer-1", "refactor the reporting module", "session-1", SLO{MaxCostUSD: 1.0, MaxDurationMS: 1000, MaxTokens: 1000})
	if err != nil {
		t.Fatalf("DelegateTask: %v", err)
	}
	taskID := contracts[0].TaskID

	m.OnTaskResult(TaskResult{TaskID: taskID, Status: ResultCompleted, DurationMS: 50_000, TokensUsed: 50, CostUSD: 0.1})

	if free := m.escrow.Free("peer-1"); free != 10_000_000-500_000 {
		t.Fatalf("expected half the bond slashed on an SLO violation, got free=%d", free)
	}
}

func TestMeshCancelTaskClearsActiveSession(t *testing.T) {
	m := newTestMesh("delegator")
	peerTS, peerHandler, _ := newTestTransportServer()
	peerHandler.accepted = true
	srv := httptest.NewServer(peerTS)
	defer srv.Close()

	m.members.HandleJoin(Identity{ID: "peer-1", Name: "peer-1", Version: 1, BaseURL: srv.URL})
	m.escrow.Fund("peer-1", 10_000_000)

	contracts, err := m.DelegateTask("peer-1", "refactor the reporting module", "session-1", SLO{MaxCostUSD: 1.0, MaxDurationMS: 10000, MaxTokens: 1000})
	if err != nil {
		t.Fatalf("DelegateTask: %v", err)
	}
	taskID := contracts[0].TaskID

	if err := m.cancelTask(taskID); err != nil {
		t.Fatalf("cancelTask: %v", err)
	}
	if _, ok := m.taskStatus(taskID); ok {
		t.Fatalf("expected no status for a cancelled, untracked task")
	}
}

func TestMeshHandleBidDispatchesCommitAndReveal(t *testing.T) {
	m := newTestMesh("delegator")
	if err := m.handleRFQ(RFQ{RFQID: "rfq-1"}); err != nil {
		t.Fatalf("handleRFQ: %v", err)
	}

	hash := CommitmentHash("rfq-1", "bidder-1", 10.0, 1000, "nonce-1")
	commitSub := BidSubmission{Phase: "commit", Sealed: &SealedBid{BidID: "b1", RFQID: "rfq-1", Bidder: "bidder-1", CommitmentHash: hash}}
	if err := m.handleBid(mustMarshal(t, commitSub)); err != nil {
		t.Fatalf("commit handleBid: %v", err)
	}

	revealSub := BidSubmission{Phase: "reveal", Revealed: &RevealedBid{BidID: "b1", RFQID: "rfq-1", Bidder: "bidder-1", EstimatedCost: 10.0, EstimatedDuration: 1000, Nonce: "nonce-1"}}
	if err := m.handleBid(mustMarshal(t, revealSub)); err != nil {
		t.Fatalf("reveal handleBid: %v", err)
	}
}

func TestMeshHandleBidRejectsRevealForUnknownRFQ(t *testing.T) {
	m := newTestMesh("delegator")
	revealSub := BidSubmission{Phase: "reveal", Revealed: &RevealedBid{BidID: "b1", RFQID: "no-such-rfq", Bidder: "bidder-1"}}
	if err := m.handleBid(mustMarshal(t, revealSub)); err == nil {
		t.Fatalf("expected rejection of a reveal against an unknown RFQ")
	}
}

func TestMeshOnTaskResultViolationTriggersRedelegation(t *testing.T) {
	m := newTestMesh("delegator")

	peer1TS, peer1Handler, _ := newTestTransportServer()
	peer1Handler.accepted = true
	peer1Srv := httptest.NewServer(peer1TS)
	defer peer1Srv.Close()

	peer2TS, peer2Handler, _ := newTestTransportServer()
	peer2Handler.accepted = true
	peer2Srv := httptest.NewServer(peer2TS)
	defer peer2Srv.Close()

	m.members.HandleJoin(Identity{ID: "peer-1", Name: "peer-1", Version: 1, BaseURL: peer1Srv.URL})
	m.members.HandleJoin(Identity{ID: "peer-2", Name: "peer-2", Version: 1, BaseURL: peer2Srv.URL})
	m.escrow.Fund("peer-1", 10_000_000)
	m.escrow.Fund("peer-2", 10_000_000)

	contracts, err := m.DelegateTask("peer-1", "refactor the reporting module", "session-1", SLO{MaxCostUSD: 1.0, MaxDurationMS: 1000, MaxTokens: 1000})
	if err != nil {
		t.Fatalf("DelegateTask: %v", err)
	}
	taskID := contracts[0].TaskID

	m.OnTaskResult(TaskResult{TaskID: taskID, Status: ResultCompleted, DurationMS: 50_000, TokensUsed: 50, CostUSD: 0.1})

	if free := m.escrow.Free("peer-1"); free != 10_000_000-500_000 {
		t.Fatalf("expected half of peer-1's bond slashed on the SLO violation, got free=%d", free)
	}
	if !peer2Handler.accepted || peer2Handler.lastReq.TaskText == "" {
		t.Fatalf("expected the violated task to be re-delegated to peer-2")
	}
	if free := m.escrow.Free("peer-2"); free != 10_000_000-1_000_000 {
		t.Fatalf("expected a fresh bond reserved against peer-2 for the re-delegated task, got free=%d", free)
	}
	sess, ok := m.activeSessions[taskID]
	if !ok || sess.peer != "peer-2" {
		t.Fatalf("expected the re-delegated task's active session to now point at peer-2, got %+v ok=%v", sess, ok)
	}
}

func TestMeshOnTaskRequestRejectsFirebreakExceeded(t *testing.T) {
	m := newTestMesh("worker")
	m.self.Capabilities = map[string]struct{}{"deploy": {}}
	m.firebreak = NewFirebreak(1)

	accepted, _ := m.OnTaskRequest(TaskRequest{TaskID: "t1", TaskText: "please run the deploy script", SessionID: "chain-1"})
	if !accepted {
		t.Fatalf("expected the first hop within depth budget to be accepted")
	}
	accepted, reason := m.OnTaskRequest(TaskRequest{TaskID: "t2", TaskText: "please run the deploy script", SessionID: "chain-1"})
	if accepted {
		t.Fatalf("expected the second hop on the same chain to exceed the depth-1 firebreak budget")
	}
	if reason != string(ErrFirebreakExceeded) {
		t.Fatalf("expected ErrFirebreakExceeded reason, got %q", reason)
	}
}

func TestMeshOnTaskResultConsensusFailureViolatesCriticalTask(t *testing.T) {
	m := newTestMesh("delegator")
	m.consensus = NewConsensusVerifier(1, 1.0)

	verifierSrv := newVerifyingPeerServer(false)
	defer verifierSrv.Close()
	m.members.HandleJoin(Identity{ID: "verifier-1", Name: "verifier-1", Version: 1, BaseURL: verifierSrv.URL})
	m.members.HandleJoin(Identity{ID: "peer-1", Name: "peer-1", Version: 1, BaseURL: "http://unused"})
	m.escrow.Fund("peer-1", 10_000_000)

	contractID, taskID := "contract-critical", "task-critical"
	slo := SLO{MaxCostUSD: 1.0, MaxDurationMS: 10_000, MaxTokens: 1000}
	if err := m.contracts.Create(DelegationContract{
		ContractID: contractID,
		Delegator: "delegator",
		Delegatee: "peer-1",
		TaskID: taskID,
		TaskText: "roll out the production payment change",
		SLO: slo,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("contracts.Create: %v", err)
	}
	if err := m.escrow.Reserve("peer-1", contractID, 1_000_000); err != nil {
		t.Fatalf("escrow.Reserve: %v", err)
	}
	m.activeSessions[taskID] = &activeSession{contractID: contractID, peer: "peer-1", chainID: "session-1", sessionID: "session-1", slo: slo}

	m.OnTaskResult(TaskResult{TaskID: taskID, Status: ResultCompleted, DurationMS: 100, TokensUsed: 50, CostUSD: 0.1})

	contract, ok := m.contracts.Get(contractID)
	if !ok || contract.Status != ContractViolated || contract.ViolationReason != string(ErrConsensusFailed) {
		t.Fatalf("expected the contract violated with reason CONSENSUS_FAILED when the lone verifier disagrees, got %+v ok=%v", contract, ok)
	}
	if free := m.escrow.Free("peer-1"); free != 10_000_000-500_000 {
		t.Fatalf("expected half the bond slashed after a failed consensus round, got free=%d", free)
	}
}

func TestMeshOnTaskResultConsensusAgreementCompletesCriticalTask(t *testing.T) {
	m := newTestMesh("delegator")
	m.consensus = NewConsensusVerifier(1, 1.0)

	verifierSrv := newVerifyingPeerServer(true)
	defer verifierSrv.Close()
	m.members.HandleJoin(Identity{ID: "verifier-1", Name: "verifier-1", Version: 1, BaseURL: verifierSrv.URL})
	m.members.HandleJoin(Identity{ID: "peer-1", Name: "peer-1", Version: 1, BaseURL: "http://unused"})
	m.escrow.Fund("peer-1", 10_000_000)

	contractID, taskID := "contract-critical", "task-critical"
	slo := SLO{MaxCostUSD: 1.0, MaxDurationMS: 10_000, MaxTokens: 1000}
	if err := m.contracts.Create(DelegationContract{
		ContractID: contractID,
		Delegator: "delegator",
		Delegatee: "peer-1",
		TaskID: taskID,
		TaskText: "roll out the production payment change",
		SLO: slo,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("contracts.Create: %v", err)
	}
	if err := m.escrow.Reserve("peer-1", contractID, 1_000_000); err != nil {
		t.Fatalf("escrow.Reserve: %v", err)
	}
	m.activeSessions[taskID] = &activeSession{contractID: contractID, peer: "peer-1", chainID: "session-1", sessionID: "session-1", slo: slo}

	m.OnTaskResult(TaskResult{TaskID: taskID, Status: ResultCompleted, DurationMS: 100, TokensUsed: 50, CostUSD: 0.1})

	contract, ok := m.contracts.Get(contractID)
	if !ok || contract.Status != ContractCompleted {
		t.Fatalf("expected the contract completed once the lone verifier agrees, got %+v ok=%v", contract, ok)
	}
	if free := m.escrow.Free("peer-1"); free != 10_000_000 {
		t.Fatalf("expected the full bond released after a passing consensus round, got free=%d", free)
	}
}
