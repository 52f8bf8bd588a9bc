package core

import "testing"

func TestFirebreakMaxDepthScalesWithRisk(t *testing.T) {
	fb := NewFirebreak(4)
	max := fb.MaxDepth(TaskAttributes{Criticality: LevelHigh, Reversibility: ReversibilityLow})
	if max != 1 {
		t.Fatalf("expected 4-2-1=1 for high criticality and low reversibility, got %d", max)
	}
	if max := fb.MaxDepth(TaskAttributes{Criticality: LevelLow, Reversibility: ReversibilityHigh}); max != 4 {
		t.Fatalf("expected full base depth for a low-risk task, got %d", max)
	}
}

func TestFirebreakCheckAndIncrementRejectsBeyondMax(t *testing.T) {
	fb := NewFirebreak(4)
	attrs := TaskAttributes{Criticality: LevelHigh, Reversibility: ReversibilityLow}
	if _, err := fb.CheckAndIncrement("chain-1", attrs); err != nil {
		t.Fatalf("expected the first delegation within depth 1 to succeed, got %v", err)
	}
	if _, err := fb.CheckAndIncrement("chain-1", attrs); err == nil {
		t.Fatalf("expected the second delegation to exceed max depth 1")
	}
}

func TestFirebreakResetClearsDepth(t *testing.T) {
	fb := NewFirebreak(4)
	attrs := TaskAttributes{Criticality: LevelHigh, Reversibility: ReversibilityLow}
	_, _ = fb.CheckAndIncrement("chain-1", attrs)
	fb.Reset("chain-1")
	if depth := fb.DepthOf("chain-1"); depth != 0 {
		t.Fatalf("expected depth reset to 0, got %d", depth)
	}
	if _, err := fb.CheckAndIncrement("chain-1", attrs); err != nil {
		t.Fatalf("expected depth to be delegable again after reset, got %v", err)
	}
}

func TestFirebreakMaxDepthNeverNegative(t *testing.T) {
	fb := NewFirebreak(1)
	max := fb.MaxDepth(TaskAttributes{Criticality: LevelHigh, Reversibility: ReversibilityLow})
	if max != 0 {
		t.Fatalf("expected max depth floored at 0, got %d", max)
	}
}
