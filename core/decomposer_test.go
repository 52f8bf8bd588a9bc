package core

import "testing"

func TestAnalyzeDerivesComplexityAndCapabilities(t *testing.T) {
	d := NewTaskDecomposer(0)
	attrs := d.Analyze("Please build and deploy the new payment service, then run a security test")

	if attrs.Complexity != LevelHigh {
		t.Fatalf("expected high complexity for 'build', got %s", attrs.Complexity)
	}
	if attrs.Criticality != LevelHigh || attrs.Reversibility != ReversibilityLow {
		t.Fatalf("expected high criticality and low reversibility for 'payment'/'security', got %s/%s", attrs.Criticality, attrs.Reversibility)
	}
	found := false
	for _, c := range attrs.RequiredCapabilities {
		if c == "deploy" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected deploy capability inferred, got %v", attrs.RequiredCapabilities)
	}
}

func TestShouldDelegateRejectsTrivialTasks(t *testing.T) {
	d := NewTaskDecomposer(0)
	attrs := TaskAttributes{Complexity: LevelLow}
	if d.ShouldDelegate(attrs) {
		t.Fatalf("expected trivial low-complexity task to bypass delegation")
	}
}

func TestShouldDelegateRejectsHighCriticalityLowReversibility(t *testing.T) {
	d := NewTaskDecomposer(0)
	attrs := TaskAttributes{Complexity: LevelHigh, Criticality: LevelHigh, Reversibility: ReversibilityLow}
	if d.ShouldDelegate(attrs) {
		t.Fatalf("expected irreversible high-criticality task to require local/human handling")
	}
}

func TestShouldDelegateAllowsOrdinaryTask(t *testing.T) {
	d := NewTaskDecomposer(0)
	attrs := TaskAttributes{Complexity: LevelMedium}
	if !d.ShouldDelegate(attrs) {
		t.Fatalf("expected medium-complexity task to be delegable")
	}
}

func TestDecomposeNumberedList(t *testing.T) {
	d := NewTaskDecomposer(0)
	text := "1. write the report\n2. send the report\n3. archive the report"
	subtasks := d.Decompose(text, SLO{MaxCostUSD: 9.0, MaxTokens: 3000, MaxDurationMS: 30000}, nil)

	if len(subtasks) != 3 {
		t.Fatalf("expected 3 subtasks from a numbered list, got %d: %+v", len(subtasks), subtasks)
	}
	var total float64
	for _, st := range subtasks {
		total += st.Constraints.MaxCostUSD
	}
	if total > 9.0+1e-9 {
		t.Fatalf("expected attenuated budgets to sum to at most the parent budget, got %f", total)
	}
}

func TestDecomposeFallsBackToWholeText(t *testing.T) {
	d := NewTaskDecomposer(0)
	subtasks := d.Decompose("just do the one thing", SLO{MaxCostUSD: 1.0}, nil)
	if len(subtasks) != 1 {
		t.Fatalf("expected a single subtask when no splitting pattern matches, got %d", len(subtasks))
	}
}

func TestExecutionOrderGroupsByAscendingParallelGroup(t *testing.T) {
	subtasks := []SubTask{
		{ID: "2", ParallelGroup: 1},
		{ID: "1", ParallelGroup: 0},
		{ID: "3", ParallelGroup: 0},
	}
	order := ExecutionOrder(subtasks)
	if len(order) != 2 {
		t.Fatalf("expected two waves for groups {0,1}, got %d", len(order))
	}
	if len(order[0]) != 2 || order[0][0].ParallelGroup != 0 {
		t.Fatalf("expected the first wave to hold both group-0 subtasks, got %+v", order[0])
	}
	if len(order[1]) != 1 || order[1][0].ID != "2" {
		t.Fatalf("expected the second wave to hold the group-1 subtask, got %+v", order[1])
	}
}
