package core

import (
	"testing"
	"time"
)

func TestRouteHumanGatingKeyword(t *testing.T) {
	m := newTestMembership()
	rs := NewReputationStore(0, testLogger())
	r := NewRouter(m, rs, 0.2, time.Second)

	decision := r.Route("please approve this refund", nil)
	if decision.Target != TargetHuman {
		t.Fatalf("expected human gating on 'approve', got %s", decision.Target)
	}
}

func TestRouteNoEligiblePeersFallsBackToHuman(t *testing.T) {
	m := newTestMembership()
	rs := NewReputationStore(0, testLogger())
	r := NewRouter(m, rs, 0.2, time.Second)

	decision := r.Route("run the migration script", []string{"shell-exec"})
	if decision.Target != TargetHuman {
		t.Fatalf("expected human fallback with no eligible peers, got %s", decision.Target)
	}
}

func TestRoutePicksHighestScoringPeer(t *testing.T) {
	m := newTestMembership()
	rs := NewReputationStore(0, testLogger())
	m.HandleJoin(Identity{ID: "low-rep", Version: 1, Capabilities: map[string]struct{}{"shell-exec": {}}})
	m.HandleJoin(Identity{ID: "high-rep", Version: 1, Capabilities: map[string]struct{}{"shell-exec": {}}})
	for i := 0; i < 10; i++ {
		rs.Record("high-rep", true)
		rs.Record("low-rep", false)
	}

	r := NewRouter(m, rs, 0.2, time.Second)
	decision := r.Route("run the script", []string{"shell-exec"})
	if decision.Target != TargetAI || decision.NodeID != "high-rep" {
		t.Fatalf("expected high-rep to win on reputation, got %+v", decision)
	}
}

func TestRouteExcludingSkipsExcludedPeers(t *testing.T) {
	m := newTestMembership()
	rs := NewReputationStore(0, testLogger())
	m.HandleJoin(Identity{ID: "peer-a", Version: 1})
	m.HandleJoin(Identity{ID: "peer-b", Version: 1})

	r := NewRouter(m, rs, 0.2, time.Second)
	excluded := map[NodeID]struct{}{"peer-a": {}}
	decision := r.RouteExcluding("do something", nil, excluded)
	if decision.Target != TargetAI || decision.NodeID != "peer-b" {
		t.Fatalf("expected peer-b chosen with peer-a excluded, got %+v", decision)
	}
}

func TestRouteScoreFloorFallsBackToHuman(t *testing.T) {
	m := newTestMembership()
	rs := NewReputationStore(0, testLogger())
	m.HandleJoin(Identity{ID: "peer-a", Version: 1})
	for i := 0; i < 20; i++ {
		rs.Record("peer-a", false)
	}

	r := NewRouter(m, rs, 0.9, time.Second)
	decision := r.Route("do something", nil)
	if decision.Target != TargetHuman {
		t.Fatalf("expected human fallback below score floor, got %+v", decision)
	}
}
