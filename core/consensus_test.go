package core

import "testing"

func TestConsensusAcceptsOnQuorumAgreement(t *testing.T) {
	cv := NewConsensusVerifier(3, 2.0/3.0)
	cv.Begin("task-1")
	cv.RecordVerdict("task-1", "v1", true, true)
	cv.RecordVerdict("task-1", "v2", true, true)
	if settled, accepted := cv.Resolved("task-1"); !settled || !accepted {
		t.Fatalf("expected quorum reached and accepted after 2/3 agreement, got settled=%v accepted=%v", settled, accepted)
	}
}

func TestConsensusRejectsWhenAllVotedWithoutQuorum(t *testing.T) {
	cv := NewConsensusVerifier(3, 2.0/3.0)
	cv.Begin("task-1")
	cv.RecordVerdict("task-1", "v1", true, false)
	cv.RecordVerdict("task-1", "v2", true, false)
	cv.RecordVerdict("task-1", "v3", true, true)
	settled, accepted := cv.Resolved("task-1")
	if !settled || accepted {
		t.Fatalf("expected settled=true accepted=false with only 1/3 agreement, got settled=%v accepted=%v", settled, accepted)
	}
}

func TestConsensusUnresolvedBeforeAllVotesOrQuorum(t *testing.T) {
	cv := NewConsensusVerifier(3, 2.0/3.0)
	cv.Begin("task-1")
	cv.RecordVerdict("task-1", "v1", true, true)
	if settled, _ := cv.Resolved("task-1"); settled {
		t.Fatalf("expected unresolved with only 1/3 votes in and no quorum yet")
	}
}

func TestConsensusDuplicateVoteIgnored(t *testing.T) {
	cv := NewConsensusVerifier(3, 2.0/3.0)
	cv.Begin("task-1")
	cv.RecordVerdict("task-1", "v1", true, true)
	cv.RecordVerdict("task-1", "v1", true, false)
	if settled, _ := cv.Resolved("task-1"); settled {
		t.Fatalf("expected the repeated vote from v1 not to count twice")
	}
}

func TestConsensusForgetDiscardsTracker(t *testing.T) {
	cv := NewConsensusVerifier(3, 2.0/3.0)
	cv.Begin("task-1")
	cv.Forget("task-1")
	if settled, accepted := cv.Resolved("task-1"); settled || accepted {
		t.Fatalf("expected a forgotten task to report unsettled, got settled=%v accepted=%v", settled, accepted)
	}
}
