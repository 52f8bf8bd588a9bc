package core

// reputation.go – Bayesian trust with exponential time decay.
//
// Manager shape grounded on core/stake_penalty.go's logger+mutex pattern;
// the age-weighted decay formula is grounded on dataparency-dev-AI-delegation's
// engine.go ComputeTrustScore, which applies the same "decay counts by
// elapsed time, then apply Bayesian smoothing" idea over a reputation record.

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ReputationTier buckets a decayed score against fixed thresholds.
type ReputationTier string

const (
	TierUntrusted ReputationTier = "untrusted"
	TierLow ReputationTier = "low"
	TierMedium ReputationTier = "medium"
	TierHigh ReputationTier = "high"
)

const (
	reputationAlpha = 1.0
	reputationBeta = 1.0
)

// ReputationStore tracks per-peer Bayesian trust, not persisted across
// restarts in the minimal design.
type ReputationStore struct {
	mu sync.Mutex
	records map[NodeID]*ReputationRecord
	halfLife time.Duration
	logger *logrus.Logger
}

// NewReputationStore builds a store with the given decay half-life.
func NewReputationStore(halfLife time.Duration, logger *logrus.Logger) *ReputationStore {
	return &ReputationStore{records: make(map[NodeID]*ReputationRecord), halfLife: halfLife, logger: logger}
}

func (rs *ReputationStore) decayLambda() float64 {
	if rs.halfLife <= 0 {
		return 0
	}
	return math.Ln2 / rs.halfLife.Seconds()
}

// decay applies the exponential forgetting factor to rec's counts as of now,
// mutating rec in place. Caller must hold rs.mu.
func (rs *ReputationStore) decay(rec *ReputationRecord, now time.Time) {
	if rec.LastUpdate.IsZero() {
		rec.LastUpdate = now
		return
	}
	dt := now.Sub(rec.LastUpdate).Seconds()
	if dt <= 0 {
		return
	}
	factor := math.Exp(-rs.decayLambda() * dt)
	rec.Successes *= factor
	rec.Failures *= factor
	rec.LastUpdate = now
}

// Record appends a success or failure observation for node.
func (rs *ReputationStore) Record(node NodeID, success bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rec, ok := rs.records[node]
	if !ok {
		rec = &ReputationRecord{}
		rs.records[node] = rec
	}
	now := time.Now()
	rs.decay(rec, now)
	if success {
		rec.Successes++
	} else {
		rec.Failures++
	}
	rec.DecayedScore = bayesianScore(rec.Successes, rec.Failures)
	rs.logger.WithFields(logrus.Fields{"node": node, "success": success, "score": rec.DecayedScore}).Debug("reputation recorded")
}

func bayesianScore(successes, failures float64) float64 {
	if successes < 0 {
		successes = 0
	}
	if failures < 0 {
		failures = 0
	}
	return (successes + reputationAlpha) / (successes + failures + reputationAlpha + reputationBeta)
}

// Score applies time decay and returns the current Bayesian score, 0.5 for
// an untried peer.
func (rs *ReputationStore) Score(node NodeID) float64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rec, ok := rs.records[node]
	if !ok {
		return bayesianScore(0, 0)
	}
	rs.decay(rec, time.Now())
	rec.DecayedScore = bayesianScore(rec.Successes, rec.Failures)
	return rec.DecayedScore
}

// Tier maps a score to the fixed {untrusted, low, medium, high} buckets at
// thresholds 0.25/0.5/0.75.
func Tier(score float64) ReputationTier {
	switch {
	case score < 0.25:
		return TierUntrusted
	case score < 0.5:
		return TierLow
	case score < 0.75:
		return TierMedium
	default:
		return TierHigh
	}
}
