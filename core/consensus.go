package core

// consensus.go – quorum agreement from independent verifying peers.
// Directly generalises core/quorum_tracker.go's QuorumTracker
// (AddVote/HasQuorum, threshold clamped to total) from one global vote
// count to a per-verification instance that also distinguishes agree vs.
// disagree votes.

import (
	"math"
	"sync"
)

// quorumTracker is a per-verification vote counter, modeled directly on the
// reference's QuorumTracker.
type quorumTracker struct {
	mu sync.Mutex
	total int
	threshold int // minimum agree votes required
	voted map[NodeID]struct{}
	agree int
}

func newQuorumTracker(total int, thresholdFraction float64) *quorumTracker {
	threshold := int(math.Ceil(thresholdFraction * float64(total)))
	if threshold <= 0 || threshold > total {
		threshold = total
	}
	return &quorumTracker{total: total, threshold: threshold, voted: make(map[NodeID]struct{})}
}

// vote records a vote from verifier, ignoring duplicates, and returns the
// number of unique votes recorded so far.
func (qt *quorumTracker) vote(verifier NodeID, agreesWithDelegator bool) int {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	if _, seen := qt.voted[verifier]; seen {
		return len(qt.voted)
	}
	qt.voted[verifier] = struct{}{}
	if agreesWithDelegator {
		qt.agree++
	}
	return len(qt.voted)
}

func (qt *quorumTracker) hasQuorum() bool {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	return qt.agree >= qt.threshold
}

func (qt *quorumTracker) allVoted() bool {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	return len(qt.voted) >= qt.total
}

// ConsensusVerifier manages one quorum tracker per in-flight verification.
type ConsensusVerifier struct {
	mu sync.Mutex
	quorumSize int
	quorumThreshold float64
	trackers map[string]*quorumTracker // task_id -> tracker
}

// NewConsensusVerifier builds a ConsensusVerifier with the configured
// quorum size and threshold fraction (spec defaults: 3, ceil(2/3)).
func NewConsensusVerifier(quorumSize int, quorumThreshold float64) *ConsensusVerifier {
	if quorumSize <= 0 {
		quorumSize = 3
	}
	if quorumThreshold <= 0 {
		quorumThreshold = 2.0 / 3.0
	}
	return &ConsensusVerifier{quorumSize: quorumSize, quorumThreshold: quorumThreshold, trackers: make(map[string]*quorumTracker)}
}

// Begin starts tracking a new verification round for taskID.
func (cv *ConsensusVerifier) Begin(taskID string) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	cv.trackers[taskID] = newQuorumTracker(cv.quorumSize, cv.quorumThreshold)
}

// RecordVerdict records an independent verifier's pass/fail for taskID,
// relative to the delegator's own local verdict. The result is accepted iff
// at least quorum_threshold verifiers agree with the delegator's local
// verdict.
func (cv *ConsensusVerifier) RecordVerdict(taskID string, verifier NodeID, delegatorVerdict, verifierVerdict bool) {
	cv.mu.Lock()
	t, ok := cv.trackers[taskID]
	cv.mu.Unlock()
	if !ok {
		return
	}
	t.vote(verifier, delegatorVerdict == verifierVerdict)
}

// Resolved reports whether enough votes have arrived to settle taskID and,
// if so, whether the delegator's verdict is accepted.
func (cv *ConsensusVerifier) Resolved(taskID string) (settled bool, accepted bool) {
	cv.mu.Lock()
	t, ok := cv.trackers[taskID]
	cv.mu.Unlock()
	if !ok {
		return false, false
	}
	if t.hasQuorum() {
		return true, true
	}
	if t.allVoted() {
		return true, false
	}
	return false, false
}

// QuorumSize returns the configured number of independent verifiers a
// verification round waits for.
func (cv *ConsensusVerifier) QuorumSize() int {
	return cv.quorumSize
}

// Forget discards the tracker for taskID once resolved.
func (cv *ConsensusVerifier) Forget(taskID string) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	delete(cv.trackers, taskID)
}
