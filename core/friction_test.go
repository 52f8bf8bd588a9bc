package core

import "testing"

func TestFrictionScoreCombinesFactors(t *testing.T) {
	fe := NewFrictionEngine(0.6, 6, func(NodeID) int { return 5 }, func() float64 { return 1.0 })
	attrs := TaskAttributes{Criticality: LevelHigh, Reversibility: ReversibilityLow}
	score := fe.Score(attrs, "node-1")
	if score < 0.99 {
		t.Fatalf("expected near-maximal friction score with all factors maxed, got %f", score)
	}
}

func TestFrictionScoreLowForBenignTask(t *testing.T) {
	fe := NewFrictionEngine(0.6, 6, func(NodeID) int { return 0 }, func() float64 { return 0.0 })
	attrs := TaskAttributes{Criticality: LevelLow, Reversibility: ReversibilityHigh}
	score := fe.Score(attrs, "node-1")
	if score > 0.1 {
		t.Fatalf("expected near-zero friction score for a benign task, got %f", score)
	}
}

func TestFrictionGateBelowThresholdNeverConfirms(t *testing.T) {
	fe := NewFrictionEngine(0.6, 6, nil, nil)
	mustConfirm, coalesced := fe.Gate("node-1", 0.3)
	if mustConfirm || coalesced {
		t.Fatalf("expected a below-threshold score to pass through ungated")
	}
}

func TestFrictionGateAboveThresholdConfirmsWithinBudget(t *testing.T) {
	fe := NewFrictionEngine(0.6, 6, nil, nil)
	mustConfirm, coalesced := fe.Gate("node-1", 0.9)
	if !mustConfirm || coalesced {
		t.Fatalf("expected the first over-threshold prompt within budget to require confirmation")
	}
}

func TestFrictionGateCoalescesOnceBucketExhausted(t *testing.T) {
	fe := NewFrictionEngine(0.6, 1, nil, nil)
	if mustConfirm, _ := fe.Gate("node-1", 0.9); !mustConfirm {
		t.Fatalf("expected the first prompt to consume the single-prompt bucket")
	}
	mustConfirm, coalesced := fe.Gate("node-1", 0.9)
	if mustConfirm || !coalesced {
		t.Fatalf("expected the second prompt to be coalesced into the digest once the bucket is empty")
	}
	digest := fe.DrainDigest()
	if len(digest) != 1 || digest[0].CandidateID != "node-1" {
		t.Fatalf("expected one digest entry for the coalesced prompt, got %+v", digest)
	}
	if drained := fe.DrainDigest(); len(drained) != 0 {
		t.Fatalf("expected DrainDigest to clear the digest, got %+v", drained)
	}
}
