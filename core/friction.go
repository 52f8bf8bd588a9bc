package core

// friction.go – risk-weighted approval gating with anti-alarm-fatigue
// throttling.
//
// The alarm-fatigue token bucket is golang.org/x/time/rate, reused from the
// Auction Guard's rate limiter idiom; the underlying risk heuristics are
// grounded on dataparency-dev-AI-delegation's security.go ScreenTask.

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	frictionWeightCriticality = 0.4
	frictionWeightReversibility = 0.3
	frictionWeightSabotageFlags = 0.2
	frictionWeightApprovalDensity = 0.1
)

// DigestEntry is a gated prompt coalesced into the periodic digest rather
// than interrupting immediately, once the mandatory-prompt bucket is empty.
// Every prompt at or above the threshold is coalesced while the bucket is
// empty, whatever its score; no lower-risk tier is singled out.
type DigestEntry struct {
	CandidateID NodeID
	Score float64
	QueuedAt time.Time
}

// FrictionEngine scores proposed delegations for risk and gates the risky
// ones behind human confirmation.
type FrictionEngine struct {
	mu sync.Mutex
	threshold float64
	bucket *rate.Limiter
	digest []DigestEntry
	sabotageFlags func(candidate NodeID) int // flags against candidate, injected
	approvalRate func() float64 // requester's recent approval density, injected
}

// NewFrictionEngine builds a FrictionEngine with the configured gating
// threshold and mandatory-prompts-per-hour bucket. Defaults: threshold 0.6,
// 6 prompts/hour.
func NewFrictionEngine(threshold float64, promptsPerHour int, sabotageFlags func(NodeID) int, approvalRate func() float64) *FrictionEngine {
	if threshold <= 0 {
		threshold = 0.6
	}
	if promptsPerHour <= 0 {
		promptsPerHour = 6
	}
	return &FrictionEngine{
		threshold: threshold,
		bucket: rate.NewLimiter(rate.Every(time.Hour/time.Duration(promptsPerHour)), promptsPerHour),
		sabotageFlags: sabotageFlags,
		approvalRate: approvalRate,
	}
}

// Score computes the friction score in [0,1] for a proposed delegation to
// candidate, combining criticality, reversibility, historical sabotage
// flags, and the requester's recent approval density.
func (f *FrictionEngine) Score(attrs TaskAttributes, candidate NodeID) float64 {
	criticality := levelValue(attrs.Criticality)
	reversibility := 0.0
	if attrs.Reversibility == ReversibilityLow {
		reversibility = 1.0
	}
	flags := 0
	if f.sabotageFlags != nil {
		flags = f.sabotageFlags(candidate)
	}
	flagScore := clamp01(float64(flags) / 5.0)
	approval := 0.0
	if f.approvalRate != nil {
		approval = clamp01(f.approvalRate())
	}
	score := frictionWeightCriticality*criticality +
		frictionWeightReversibility*reversibility +
		frictionWeightSabotageFlags*flagScore +
		frictionWeightApprovalDensity*approval
	return clamp01(score)
}

func levelValue(l Level) float64 {
	switch l {
	case LevelHigh:
		return 1.0
	case LevelMedium:
		return 0.5
	default:
		return 0.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Gate decides whether a delegation with the given friction score must be
// confirmed by a human before proceeding. Above threshold it is gated; if
// the mandatory-prompt bucket is empty, the prompt is coalesced into the
// digest instead of blocking immediately.
func (f *FrictionEngine) Gate(candidate NodeID, score float64) (mustConfirm bool, coalesced bool) {
	if score < f.threshold {
		return false, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bucket.Allow() {
		return true, false
	}
	f.digest = append(f.digest, DigestEntry{CandidateID: candidate, Score: score, QueuedAt: time.Now()})
	return false, true
}

// DrainDigest returns and clears the coalesced prompts accumulated since the
// last drain, for periodic digest delivery.
func (f *FrictionEngine) DrainDigest() []DigestEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.digest
	f.digest = nil
	return out
}
