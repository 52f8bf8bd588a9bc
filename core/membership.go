package core

// membership.go – peer table and failure-detector state machine.
//
// Mirrors the reference HealthChecker's shape (ticker-driven sweep loop over
// a mutex-guarded peer map, EWMA latency smoothing) but generalises its
// single faulty/healthy flag into a four-state alive/suspected/
// unreachable/evicted machine, and drives transitions from
// last-heard/last-contact timestamps rather than a miss counter.

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MembershipEvent is emitted on state transitions and identity changes.
type MembershipEvent struct {
	Type string // "peer.joined", "peer.identity_updated", "peer.state_changed"
	NodeID NodeID
	From PeerState
	To PeerState
}

// Membership owns the peer table and its failure-detector timers.
type Membership struct {
	mu sync.RWMutex
	self Identity
	peers map[NodeID]*PeerRecord
	log *logrus.Logger

	suspectedAfter time.Duration
	unreachableAfter time.Duration
	evictAfter time.Duration
	sweepInterval time.Duration

	onEvent func(MembershipEvent)

	stop chan struct{}
	wg sync.WaitGroup
}

// NewMembership builds a Membership table for self, with the given timing
// parameters (its suspected_after_ms/unreachable_after_ms/
// evict_after_ms/sweep_interval_ms).
func NewMembership(self Identity, suspectedAfter, unreachableAfter, evictAfter, sweepInterval time.Duration, log *logrus.Logger) *Membership {
	return &Membership{
		self: self,
		peers: make(map[NodeID]*PeerRecord),
		log: log,
		suspectedAfter: suspectedAfter,
		unreachableAfter: unreachableAfter,
		evictAfter: evictAfter,
		sweepInterval: sweepInterval,
		stop: make(chan struct{}),
	}
}

// OnEvent registers a handler invoked for every membership event. Not safe to
// call concurrently with Start.
func (m *Membership) OnEvent(f func(MembershipEvent)) {
	m.onEvent = f
}

func (m *Membership) emit(ev MembershipEvent) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}

// Start launches the sweeper as a cancellable background task.
func (m *Membership) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop cancels the sweeper.
func (m *Membership) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.wg.Wait()
}

func (m *Membership) sweepLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.Sweep(time.Now())
		case <-m.stop:
			return
		}
	}
}

// Sweep applies state transitions to every peer based on silence duration
// measured against now. Exported so tests can drive it deterministically.
func (m *Membership) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.peers {
		silence := now.Sub(p.LastHeard)
		from := p.State
		to := from
		switch from {
		case PeerAlive:
			if silence >= m.suspectedAfter {
				to = PeerSuspected
			}
		case PeerSuspected:
			if silence >= m.unreachableAfter {
				to = PeerUnreachable
			}
		case PeerUnreachable:
			if silence >= m.evictAfter {
				to = PeerEvicted
			}
		}
		if to != from {
			p.State = to
			m.log.WithFields(logrus.Fields{"node": id, "from": from, "to": to}).Info("membership state transition")
			if to == PeerEvicted {
				delete(m.peers, id)
			}
			m.emit(MembershipEvent{Type: "peer.state_changed", NodeID: id, From: from, To: to})
		}
	}
}

// RecordHeartbeat marks a peer alive on any successful heartbeat exchange,
// regardless of its prior state.
func (m *Membership) RecordHeartbeat(id NodeID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return
	}
	from := p.State
	p.State = PeerAlive
	p.LastHeard = at
	p.LastSuccessfulContact = at
	if from != PeerAlive {
		m.emit(MembershipEvent{Type: "peer.state_changed", NodeID: id, From: from, To: PeerAlive})
	}
}

// RecordSilence changes no state: the peer's LastHeard is left untouched, so
// the next Sweep measures silence from the last heartbeat received from id.
// Mesh calls it when a peer announces it is leaving.
func (m *Membership) RecordSilence(id NodeID) {
	// LastHeard is left untouched; Sweep measures silence relative to it.
	// This package sends no outbound heartbeats.
	_ = id
}

// HandleJoin inserts or updates identity by id, keeping the higher version.
func (m *Membership) HandleJoin(identity Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.peers[identity.ID]
	now := time.Now()
	if !ok {
		m.peers[identity.ID] = &PeerRecord{
			Identity: identity,
			State: PeerAlive,
			LastHeard: now,
			LastSuccessfulContact: now,
			ReputationCached: 0.5,
		}
		m.emit(MembershipEvent{Type: "peer.joined", NodeID: identity.ID, To: PeerAlive})
		return
	}
	if identity.Version > existing.Identity.Version {
		existing.Identity = identity
		m.emit(MembershipEvent{Type: "peer.identity_updated", NodeID: identity.ID})
	}
	// Lower-version copy discarded silently.
}

// Get returns a copy of the peer record for id.
func (m *Membership) Get(id NodeID) (PeerRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *p, true
}

// All returns a snapshot of every non-evicted peer (evicted peers are
// removed from the table by Sweep, so this is simply the full map).
func (m *Membership) All() []PeerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerRecord, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	return out
}

// Self returns this node's own identity.
func (m *Membership) Self() Identity {
	return m.self
}

// SetReputationCache updates the cached reputation score shown in a peer
// record, used by the router to avoid recomputing decay on every rank call.
func (m *Membership) SetReputationCache(id NodeID, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[id]; ok {
		p.ReputationCached = score
	}
}

// SetLatency updates the observed RTT EWMA for id.
func (m *Membership) SetLatency(id NodeID, rtt time.Duration, alpha float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return
	}
	if p.LatencyEWMA == 0 {
		p.LatencyEWMA = rtt
		return
	}
	p.LatencyEWMA = time.Duration(alpha*float64(rtt) + (1-alpha)*float64(p.LatencyEWMA))
}
