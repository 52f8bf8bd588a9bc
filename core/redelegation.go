package core

// redelegation.go – detects degraded peers and reissues tasks excluding
// them. Generalises core/fault_tolerance.go's Reconfigure()
// degraded-leader reassignment trigger from a single leader slot to
// per-task tracked delegations with a cooldown.

import (
	"sync"
	"time"
)

// TrackedDelegation is one active delegation the monitor watches for
// degradation.
type TrackedDelegation struct {
	TaskID string
	Peer NodeID
	TaskText string
	SessionID string
	Constraints SLO
	RedelegationCount int
	ExcludedPeers map[NodeID]struct{}
	LastRedelegatedAt time.Time
}

// RedelegationMonitor tracks active delegations and surfaces the ones that
// need reissuing to a different peer once their current peer degrades.
type RedelegationMonitor struct {
	mu sync.Mutex
	tracked map[string]*TrackedDelegation // task_id -> delegation
	maxRedelegations int
	cooldown time.Duration
}

// NewRedelegationMonitor builds a monitor with the configured max
// redelegations (default 2) and cooldown (default 5s).
func NewRedelegationMonitor(maxRedelegations int, cooldown time.Duration) *RedelegationMonitor {
	if maxRedelegations <= 0 {
		maxRedelegations = 2
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &RedelegationMonitor{tracked: make(map[string]*TrackedDelegation), maxRedelegations: maxRedelegations, cooldown: cooldown}
}

// Track begins watching a new active delegation.
func (rm *RedelegationMonitor) Track(taskID string, peer NodeID, taskText, sessionID string, constraints SLO) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.tracked[taskID] = &TrackedDelegation{
		TaskID: taskID,
		Peer: peer,
		TaskText: taskText,
		SessionID: sessionID,
		Constraints: constraints,
		ExcludedPeers: make(map[NodeID]struct{}),
	}
}

// Untrack stops watching taskID (called on completion, cancellation, or a
// successful non-degraded outcome).
func (rm *RedelegationMonitor) Untrack(taskID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.tracked, taskID)
}

// HealthTick receives a set of degraded peer ids and returns every tracked
// delegation whose peer is degraded, has room under max_redelegations, and
// whose cooldown has elapsed.
func (rm *RedelegationMonitor) HealthTick(degraded map[NodeID]struct{}, now time.Time) []TrackedDelegation {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	var due []TrackedDelegation
	for _, d := range rm.tracked {
		if _, isDegraded := degraded[d.Peer]; !isDegraded {
			continue
		}
		if d.RedelegationCount >= rm.maxRedelegations {
			continue
		}
		if !d.LastRedelegatedAt.IsZero() && now.Sub(d.LastRedelegatedAt) < rm.cooldown {
			continue
		}
		due = append(due, *d)
	}
	return due
}

// RecordRedelegation adds the old peer to excluded_peers, increments the
// count, and refreshes the cooldown timer. The exclusion is scoped to this
// task only.
func (rm *RedelegationMonitor) RecordRedelegation(taskID string, newPeer NodeID, at time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	d, ok := rm.tracked[taskID]
	if !ok {
		return
	}
	d.ExcludedPeers[d.Peer] = struct{}{}
	d.Peer = newPeer
	d.RedelegationCount++
	d.LastRedelegatedAt = at
}

// Get returns a copy of the tracked delegation for taskID, used to recover
// its task text/session/budget when issuing an immediate re-delegation.
func (rm *RedelegationMonitor) Get(taskID string) (TrackedDelegation, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	d, ok := rm.tracked[taskID]
	if !ok {
		return TrackedDelegation{}, false
	}
	return *d, true
}

// AtLimit reports whether taskID has already used up its redelegation
// budget, so a caller can give up instead of attempting another route.
func (rm *RedelegationMonitor) AtLimit(taskID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	d, ok := rm.tracked[taskID]
	if !ok {
		return true
	}
	return d.RedelegationCount >= rm.maxRedelegations
}

// ExcludedPeers returns the set of peers excluded from future routing for
// taskID.
func (rm *RedelegationMonitor) ExcludedPeers(taskID string) map[NodeID]struct{} {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	d, ok := rm.tracked[taskID]
	if !ok {
		return nil
	}
	out := make(map[NodeID]struct{}, len(d.ExcludedPeers))
	for k := range d.ExcludedPeers {
		out[k] = struct{}{}
	}
	return out
}
