package core

// gossip.go – anti-entropy identity exchange with version vectors.
//
// The random-subset-of-k-peers selection reuses the reference
// PeerManagement.Sample's crypto/rand Fisher-Yates shuffle (core/peer_management.go)
// rather than math/rand, matching the reference's preference for a
// cryptographically sound shuffle even for non-adversarial peer sampling.

import (
	crand "crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GossipTransport is the subset of Transport the gossiper needs, kept as a
// narrow interface so tests can fake it without standing up real HTTP.
type GossipTransport interface {
	SendGossip(peerBaseURL string, msg GossipMessage) (GossipMessage, error)
}

// Gossiper runs the optional anti-entropy layer described in.
type Gossiper struct {
	mu sync.Mutex
	members *Membership
	tport GossipTransport
	log *logrus.Logger
	fanoutK int
	tick time.Duration

	stop chan struct{}
	wg sync.WaitGroup
}

// NewGossiper builds a Gossiper over members, fanning out to k peers every
// tick.
func NewGossiper(members *Membership, tport GossipTransport, fanoutK int, tick time.Duration, log *logrus.Logger) *Gossiper {
	return &Gossiper{
		members: members,
		tport: tport,
		log: log,
		fanoutK: fanoutK,
		tick: tick,
		stop: make(chan struct{}),
	}
}

// Start launches the gossip tick loop.
func (g *Gossiper) Start() {
	g.wg.Add(1)
	go g.loop()
}

// Stop cancels the gossip tick loop.
func (g *Gossiper) Stop() {
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
	g.wg.Wait()
}

func (g *Gossiper) loop() {
	defer g.wg.Done()
	t := time.NewTicker(g.tick)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			g.Tick()
		case <-g.stop:
			return
		}
	}
}

// Tick picks k live peers at random and exchanges version vectors with each.
func (g *Gossiper) Tick() {
	live := make([]PeerRecord, 0)
	for _, p := range g.members.All() {
		if p.State != PeerEvicted {
			live = append(live, p)
		}
	}
	targets, err := sampleRecords(live, g.fanoutK)
	if err != nil {
		g.log.WithError(err).Warn("gossip sample failed")
		return
	}
	msg := g.buildMessage()
	for _, t := range targets {
		reply, err := g.tport.SendGossip(t.Identity.BaseURL, msg)
		if err != nil {
			g.log.WithFields(logrus.Fields{"peer": t.Identity.ID}).WithError(err).Warn("gossip exchange failed")
			continue
		}
		g.applyDelta(reply)
	}
}

// HandleGossip implements the receiver side of anti-entropy: it replies with
// the subset of ids for which the local version is higher than the sender's,
// together with the local identities for those ids. It does not update the
// local table from msg; the sender applies the reply in applyDelta.
func (g *Gossiper) HandleGossip(msg GossipMessage) GossipMessage {
	if msg.SourceID == g.members.Self().ID {
		// Cycle detection: an incoming message from ourselves is discarded.
		return GossipMessage{SourceID: g.members.Self().ID}
	}
	deltaVersions := make([]PeerVersion, 0)
	pushBack := make([]Identity, 0)
	for _, pv := range msg.Peers {
		var local Identity
		if pv.ID == g.members.Self().ID {
			local = g.members.Self()
		} else {
			rec, ok := g.members.Get(pv.ID)
			if !ok {
				continue
			}
			local = rec.Identity
		}
		if local.Version > pv.Version {
			deltaVersions = append(deltaVersions, PeerVersion{ID: pv.ID, Version: local.Version})
			pushBack = append(pushBack, local)
		}
	}
	return GossipMessage{SourceID: g.members.Self().ID, Peers: deltaVersions, Identities: pushBack}
}

func (g *Gossiper) buildMessage() GossipMessage {
	peers := g.members.All()
	pvs := make([]PeerVersion, 0, len(peers)+1)
	self := g.members.Self()
	pvs = append(pvs, PeerVersion{ID: self.ID, Version: self.Version})
	for _, p := range peers {
		pvs = append(pvs, PeerVersion{ID: p.Identity.ID, Version: p.Identity.Version})
	}
	return GossipMessage{SourceID: self.ID, Peers: pvs}
}

func (g *Gossiper) applyDelta(msg GossipMessage) {
	for _, identity := range msg.Identities {
		g.members.HandleJoin(identity)
	}
}

// sampleRecords returns up to n records from pool chosen by a crypto/rand
// Fisher-Yates shuffle, mirroring PeerManagement.Sample in the reference.
func sampleRecords(pool []PeerRecord, n int) ([]PeerRecord, error) {
	if n > len(pool) {
		n = len(pool)
	}
	for i := len(pool) - 1; i > 0; i-- {
		jBig, err := crand.Int(crand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		j := int(jBig.Int64())
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n], nil
}
