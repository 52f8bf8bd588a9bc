package core

// decomposer.go – splits a task into verifiable, dependency-ordered
// sub-tasks.
//
// analyze's keyword heuristics are grounded on
// dataparency-dev-AI-delegation's security.go ScreenTask red-flag keyword
// scan; shouldDelegate's complexity floor is grounded on that repo's
// optimizer.go ShouldBypassDelegation.

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	numberedListRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	bulletListRe = regexp.MustCompile(`(?m)^\s*[-*•]\s+`)
	sequentialConns = []string{"then", "after that", "finally"}
	sentenceBoundRe = regexp.MustCompile(`[.!?]\s+`)

	complexityKeywords = []string{"build", "design", "architect", "implement", "migrate", "refactor"}
	criticalityKeywords = []string{"production", "security", "payment", "delete", "irreversible"}
	verifiableKeywords = []string{"test", "check", "verify"}
	unverifiableKeywords = []string{"design", "brainstorm"}
	capabilityKeywords = map[string]string{
		"file": "read-file",
		"shell": "shell-exec",
		"code": "write-code",
		"deploy": "deploy",
	}
)

// TaskDecomposer splits task text into ordered, budget-attenuated sub-tasks.
type TaskDecomposer struct {
	maxRecursionDepth int
}

// NewTaskDecomposer builds a decomposer with the configured recursion depth
// (default 3).
func NewTaskDecomposer(maxRecursionDepth int) *TaskDecomposer {
	if maxRecursionDepth <= 0 {
		maxRecursionDepth = 3
	}
	return &TaskDecomposer{maxRecursionDepth: maxRecursionDepth}
}

// Analyze derives task attributes from text by keyword heuristics and
// length cues.
func (d *TaskDecomposer) Analyze(text string) TaskAttributes {
	lower := strings.ToLower(text)
	attrs := TaskAttributes{
		Complexity: LevelLow,
		Criticality: LevelLow,
		Verifiability: LevelMedium,
		Reversibility: ReversibilityHigh,
	}
	if containsAny(lower, complexityKeywords) || len(text) > 400 {
		attrs.Complexity = LevelHigh
	} else if len(text) > 120 {
		attrs.Complexity = LevelMedium
	}
	if containsAny(lower, criticalityKeywords) {
		attrs.Criticality = LevelHigh
		attrs.Reversibility = ReversibilityLow
	}
	if containsAny(lower, verifiableKeywords) {
		attrs.Verifiability = LevelHigh
	} else if containsAny(lower, unverifiableKeywords) {
		attrs.Verifiability = LevelLow
	}
	for kw, capName := range capabilityKeywords {
		if strings.Contains(lower, kw) {
			attrs.RequiredCapabilities = append(attrs.RequiredCapabilities, capName)
		}
	}
	sort.Strings(attrs.RequiredCapabilities)
	return attrs
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ShouldDelegate returns false for low-complexity tasks with no required
// capabilities, or for high-criticality + low-reversibility tasks, both of
// which must be executed locally with human approval.
func (d *TaskDecomposer) ShouldDelegate(attrs TaskAttributes) bool {
	if attrs.Complexity == LevelLow && len(attrs.RequiredCapabilities) == 0 {
		return false
	}
	if attrs.Criticality == LevelHigh && attrs.Reversibility == ReversibilityLow {
		return false
	}
	return true
}

// Decompose extracts sub-task texts from text by attempting, in order:
// numbered lists, bullet lists, sequential connectives, sentence boundaries.
// Budget attenuation divides parent across children. The allowlist argument
// is not used: sub-tasks carry no tool allowlist.
func (d *TaskDecomposer) Decompose(text string, parentBudget SLO, allowlist []string) []SubTask {
	pieces := splitNumberedList(text)
	if len(pieces) <= 1 {
		pieces = splitBulletList(text)
	}
	if len(pieces) <= 1 {
		pieces = splitSequential(text)
	}
	if len(pieces) <= 1 {
		pieces = splitSentences(text)
	}
	if len(pieces) <= 1 {
		pieces = []string{text}
	}

	n := len(pieces)
	childBudget := attenuate(parentBudget, n)
	subtasks := make([]SubTask, 0, n)
	for i, p := range pieces {
		attrs := d.Analyze(p)
		subtasks = append(subtasks, SubTask{
			ID: strconv.Itoa(i + 1),
			Text: strings.TrimSpace(p),
			Attributes: attrs,
			Dependencies: make(map[string]struct{}),
			ParallelGroup: 0,
			DelegationTarget: "",
			Constraints: childBudget,
		})
	}
	return subtasks
}

func attenuate(parent SLO, n int) SLO {
	if n <= 0 {
		n = 1
	}
	child := parent
	child.MaxDurationMS = parent.MaxDurationMS / int64(n)
	child.MaxTokens = parent.MaxTokens / int64(n)
	child.MaxCostUSD = parent.MaxCostUSD / float64(n)
	return child
}

func splitNumberedList(text string) []string {
	return splitByRegexKeepRest(text, numberedListRe)
}

func splitBulletList(text string) []string {
	return splitByRegexKeepRest(text, bulletListRe)
}

func splitByRegexKeepRest(text string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	var out []string
	for i, loc := range locs {
		start := loc[1]
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func splitSequential(text string) []string {
	lower := strings.ToLower(text)
	cutPoints := []int{0}
	for _, conn := range sequentialConns {
		idx := 0
		for {
			pos := strings.Index(lower[idx:], conn)
			if pos < 0 {
				break
			}
			cutPoints = append(cutPoints, idx+pos)
			idx += pos + len(conn)
		}
	}
	if len(cutPoints) <= 1 {
		return []string{text}
	}
	sort.Ints(cutPoints)
	var out []string
	for i, cp := range cutPoints {
		end := len(text)
		if i+1 < len(cutPoints) {
			end = cutPoints[i+1]
		}
		piece := strings.TrimSpace(text[cp:end])
		for _, conn := range sequentialConns {
			piece = strings.TrimPrefix(strings.ToLower(piece), conn)
		}
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

func splitSentences(text string) []string {
	pieces := sentenceBoundRe.Split(text, -1)
	var out []string
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AssessVerifiability classifies a sub-task as verifiable, unverifiable, or
// partial.
func (d *TaskDecomposer) AssessVerifiability(text string) Level {
	lower := strings.ToLower(text)
	if containsAny(lower, verifiableKeywords) {
		return LevelHigh
	}
	if containsAny(lower, unverifiableKeywords) {
		return LevelLow
	}
	return LevelMedium
}

// DecomposeRecursive replaces an unverifiable sub-task with a triple
// "define acceptance criteria / implement / verify" up to maxRecursionDepth.
func (d *TaskDecomposer) DecomposeRecursive(st SubTask, depth int) []SubTask {
	if d.AssessVerifiability(st.Text) != LevelLow || depth >= d.maxRecursionDepth {
		return []SubTask{st}
	}
	budget := attenuate(st.Constraints, 3)
	steps := []string{
		"define acceptance criteria for: " + st.Text,
		"implement: " + st.Text,
		"verify: " + st.Text,
	}
	out := make([]SubTask, 0, 3)
	for i, text := range steps {
		child := SubTask{
			ID: st.ID + "." + strconv.Itoa(i+1),
			Text: text,
			Attributes: d.Analyze(text),
			Dependencies: make(map[string]struct{}),
			ParallelGroup: st.ParallelGroup,
			DelegationTarget: st.DelegationTarget,
			Constraints: budget,
		}
		if i > 0 {
			child.Dependencies[st.ID+"."+strconv.Itoa(i)] = struct{}{}
		}
		out = append(out, d.DecomposeRecursive(child, depth+1)...)
	}
	return out
}

// DecompositionProposal is one scored variant of a decomposition.
type DecompositionProposal struct {
	Name string
	SubTasks []SubTask
	Verifiability float64
	TotalCost float64
	Confidence float64
	Score float64
}

// GenerateProposals returns up to three scored variants (recursive,
// flat-parallel, strictly-sequential), sorted descending by
// 0.4*verifiability + 0.3*(1/total_cost) + 0.3*confidence.
func (d *TaskDecomposer) GenerateProposals(text string, parentBudget SLO, allowlist []string) []DecompositionProposal {
	flat := d.Decompose(text, parentBudget, allowlist)

	sequential := append([]SubTask(nil), flat...)
	for i := range sequential {
		sequential[i].ParallelGroup = i
	}

	var recursive []SubTask
	for _, st := range flat {
		recursive = append(recursive, d.DecomposeRecursive(st, 0)...)
	}

	proposals := []DecompositionProposal{
		{Name: "recursive", SubTasks: recursive},
		{Name: "flat-parallel", SubTasks: flat},
		{Name: "strictly-sequential", SubTasks: sequential},
	}
	for i := range proposals {
		proposals[i].Verifiability = meanVerifiability(proposals[i].SubTasks)
		proposals[i].TotalCost = totalCost(proposals[i].SubTasks)
		proposals[i].Confidence = 1.0 / float64(1+len(proposals[i].SubTasks)/10)
		invCost := 0.0
		if proposals[i].TotalCost > 0 {
			invCost = 1.0 / proposals[i].TotalCost
		}
		proposals[i].Score = 0.4*proposals[i].Verifiability + 0.3*invCost + 0.3*proposals[i].Confidence
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].Score > proposals[j].Score })
	return proposals
}

func meanVerifiability(subtasks []SubTask) float64 {
	if len(subtasks) == 0 {
		return 0
	}
	total := 0.0
	for _, st := range subtasks {
		switch st.Attributes.Verifiability {
		case LevelHigh:
			total += 1.0
		case LevelMedium:
			total += 0.5
		}
	}
	return total / float64(len(subtasks))
}

func totalCost(subtasks []SubTask) float64 {
	total := 0.0
	for _, st := range subtasks {
		total += st.Constraints.MaxCostUSD
	}
	return total
}

// ExecutionOrder groups sub-tasks into ascending parallel-group order; tasks
// sharing a group run concurrently.
func ExecutionOrder(subtasks []SubTask) [][]SubTask {
	groups := make(map[int][]SubTask)
	for _, st := range subtasks {
		groups[st.ParallelGroup] = append(groups[st.ParallelGroup], st)
	}
	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([][]SubTask, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out
}
