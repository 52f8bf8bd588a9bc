package core

// sabotage.go – flags disproportionate negative feedback & review-bombing.
//
// Ledger shape (per-target capped, trimmed ring of entries) grounded on
// core/user_feedback_system.go's FeedbackEntry/FeedbackEngine; the
// collusion-cross-reference discount is grounded on
// dataparency-dev-AI-delegation's security.go CircuitBreaker-style
// confidence-weighted flagging.

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FeedbackPolarity is the sign of a feedback report.
type FeedbackPolarity string

const (
	FeedbackPositive FeedbackPolarity = "positive"
	FeedbackNegative FeedbackPolarity = "negative"
)

// FeedbackReport is one entry in the rolling per-target ledger.
type FeedbackReport struct {
	Source NodeID
	Target NodeID
	Polarity FeedbackPolarity
	Timestamp time.Time
}

// SabotageFlag marks a (source, target) pair whose feedback should be
// discounted downstream.
type SabotageFlag struct {
	Source NodeID
	Target NodeID
	Reasons []string
	Confidence float64
	Discount bool
}

// SabotageDetector flags feedback sources engaged in disproportionate
// negativity, review-bombing, or collusion against a target.
type SabotageDetector struct {
	mu sync.Mutex
	ledger []FeedbackReport
	cap int
	trimTo int
	burstWindow time.Duration
	flags map[NodeID]map[NodeID]SabotageFlag // source -> target -> flag
	isCollusionFlagged func(NodeID) bool // injected independent collusion detector
	logger *logrus.Logger
}

// NewSabotageDetector builds a SabotageDetector with the configured ledger
// cap/trim-to (default 10000/5000) and burst window (default 60s).
func NewSabotageDetector(cap, trimTo int, burstWindow time.Duration, isCollusionFlagged func(NodeID) bool, logger *logrus.Logger) *SabotageDetector {
	if cap <= 0 {
		cap = 10_000
	}
	if trimTo <= 0 || trimTo >= cap {
		trimTo = 5_000
	}
	return &SabotageDetector{
		cap: cap,
		trimTo: trimTo,
		burstWindow: burstWindow,
		flags: make(map[NodeID]map[NodeID]SabotageFlag),
		isCollusionFlagged: isCollusionFlagged,
		logger: logger,
	}
}

// Record appends a feedback report, trims the ledger if over cap, and
// re-evaluates the disproportionate-negative, review-bombing, and
// collusion-cross-reference heuristics for (source, target).
func (sd *SabotageDetector) Record(report FeedbackReport) []SabotageFlag {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	sd.ledger = append(sd.ledger, report)
	if len(sd.ledger) > sd.cap {
		start := len(sd.ledger) - sd.trimTo
		sd.ledger = append([]FeedbackReport(nil), sd.ledger[start:]...)
		sd.logger.WithFields(logrus.Fields{"kept": sd.trimTo}).Info("sabotage ledger trimmed")
	}

	var newFlags []SabotageFlag
	if f, ok := sd.checkDisproportionate(report.Target); ok {
		newFlags = append(newFlags, f)
		sd.setFlag(f)
	}
	if f, ok := sd.checkReviewBombing(report.Source, report.Target, report.Timestamp); ok {
		newFlags = append(newFlags, f)
		sd.setFlag(f)
	}
	if sd.isCollusionFlagged != nil && sd.isCollusionFlagged(report.Source) {
		f := SabotageFlag{Source: report.Source, Target: report.Target, Reasons: []string{"collusion_cross_reference"}, Confidence: 0.7, Discount: true}
		newFlags = append(newFlags, f)
		sd.setFlag(f)
	}
	return newFlags
}

func (sd *SabotageDetector) setFlag(f SabotageFlag) {
	byTarget, ok := sd.flags[f.Source]
	if !ok {
		byTarget = make(map[NodeID]SabotageFlag)
		sd.flags[f.Source] = byTarget
	}
	existing, had := byTarget[f.Target]
	if had {
		existing.Reasons = appendUnique(existing.Reasons, f.Reasons...)
		if f.Confidence > existing.Confidence {
			existing.Confidence = f.Confidence
		}
		existing.Discount = true
		byTarget[f.Target] = existing
		return
	}
	byTarget[f.Target] = f
}

func appendUnique(base []string, extra ...string) []string {
	seen := make(map[string]bool, len(base))
	for _, b := range base {
		seen[b] = true
	}
	for _, e := range extra {
		if !seen[e] {
			base = append(base, e)
			seen[e] = true
		}
	}
	return base
}

// checkDisproportionate flags source S->target T if S accounts for >=80% of
// T's negative feedback and at least one source other than S gave T positive
// feedback.
func (sd *SabotageDetector) checkDisproportionate(target NodeID) (SabotageFlag, bool) {
	negBySource := make(map[NodeID]int)
	posBySource := make(map[NodeID]int)
	totalNeg := 0
	for _, r := range sd.ledger {
		if r.Target != target {
			continue
		}
		switch r.Polarity {
		case FeedbackNegative:
			negBySource[r.Source]++
			totalNeg++
		case FeedbackPositive:
			posBySource[r.Source]++
		}
	}
	if totalNeg == 0 {
		return SabotageFlag{}, false
	}
	for source, n := range negBySource {
		fraction := float64(n) / float64(totalNeg)
		if fraction < 0.8 {
			continue
		}
		hasOtherPositive := false
		for posSource := range posBySource {
			if posSource != source {
				hasOtherPositive = true
				break
			}
		}
		if !hasOtherPositive {
			continue
		}
		confidence := fraction
		if confidence > 0.9 {
			confidence = 0.9
		}
		return SabotageFlag{Source: source, Target: target, Reasons: []string{"disproportionate_negative"}, Confidence: confidence, Discount: true}, true
	}
	return SabotageFlag{}, false
}

// checkReviewBombing flags source S->target T if S submitted >=5 negative
// reports for T within burstWindow (default 60s).
func (sd *SabotageDetector) checkReviewBombing(source, target NodeID, now time.Time) (SabotageFlag, bool) {
	count := 0
	for _, r := range sd.ledger {
		if r.Source != source || r.Target != target || r.Polarity != FeedbackNegative {
			continue
		}
		if now.Sub(r.Timestamp) <= sd.burstWindow {
			count++
		}
	}
	if count >= 5 {
		return SabotageFlag{Source: source, Target: target, Reasons: []string{"review_bombing"}, Confidence: 0.9, Discount: true}, true
	}
	return SabotageFlag{}, false
}

// IsDiscounted reports whether source's feedback about target is currently
// untrusted: downstream consumers should treat source's feedback about
// target as discounted while a flag is active.
func (sd *SabotageDetector) IsDiscounted(source, target NodeID) bool {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	byTarget, ok := sd.flags[source]
	if !ok {
		return false
	}
	f, ok := byTarget[target]
	return ok && f.Discount
}

// FlagsAgainst returns the number of distinct sources flagged against
// target, used by the Cognitive Friction Engine's sabotage-flag dimension.
func (sd *SabotageDetector) FlagsAgainst(target NodeID) int {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	count := 0
	for _, byTarget := range sd.flags {
		if f, ok := byTarget[target]; ok && f.Discount {
			count++
		}
	}
	return count
}
