package core

// router.go – picks an AI peer or a human reviewer per sub-task.
//
// The weighted-sum ranking formula is grounded on
// dataparency-dev-AI-delegation's optimizer.go RankBids/OptimizationWeights
// pattern: named weight constants scored against normalised dimensions,
// rather than inline arithmetic, so the formula is auditable.

import (
	"sort"
	"strings"
	"time"
)

const (
	routerWeightReputation = 0.6
	routerWeightLatency = 0.3
	routerWeightCapability = 0.1
)

var humanGatingKeywords = []string{"approve", "review", "decide", "subjective"}

// DelegationTarget is the closed set of routing targets, kept as a typed
// enum rather than a bare string.
type DelegationTarget string

const (
	TargetAI DelegationTarget = "ai"
	TargetHuman DelegationTarget = "human"
)

// RouteDecision is the router's verdict for one sub-task.
type RouteDecision struct {
	Target DelegationTarget
	NodeID NodeID
}

// Router picks an AI peer or a human reviewer for a sub-task.
type Router struct {
	members *Membership
	reputation *ReputationStore
	scoreFloor float64
	maxLatency time.Duration
}

// NewRouter builds a Router over members/reputation with the configured
// score floor (default 0.2) and the latency normalisation
// ceiling used to compute normalized_latency.
func NewRouter(members *Membership, reputation *ReputationStore, scoreFloor float64, maxLatency time.Duration) *Router {
	if scoreFloor <= 0 {
		scoreFloor = 0.2
	}
	if maxLatency <= 0 {
		maxLatency = 2 * time.Second
	}
	return &Router{members: members, reputation: reputation, scoreFloor: scoreFloor, maxLatency: maxLatency}
}

// Route chooses a delegation target for sub-task text with the given
// required capabilities, applying a four-step decision rule: human gating
// keywords, capability filtering, reputation-weighted scoring, then a
// floor below which the task falls back to a human.
func (r *Router) Route(text string, requiredCapabilities []string) RouteDecision {
	lower := strings.ToLower(text)
	for _, kw := range humanGatingKeywords {
		if strings.Contains(lower, kw) {
			return RouteDecision{Target: TargetHuman}
		}
	}

	candidates := r.eligiblePeers(requiredCapabilities)
	if len(candidates) == 0 {
		return RouteDecision{Target: TargetHuman}
	}

	ranked := r.rank(candidates, requiredCapabilities)
	best := ranked[0]
	if best.score < r.scoreFloor {
		return RouteDecision{Target: TargetHuman}
	}
	return RouteDecision{Target: TargetAI, NodeID: best.id}
}

// RouteExcluding behaves like Route but skips any candidate in excluded,
// used by the Re-delegation Monitor so a degraded peer is never chosen
// again for the same task.
func (r *Router) RouteExcluding(text string, requiredCapabilities []string, excluded map[NodeID]struct{}) RouteDecision {
	lower := strings.ToLower(text)
	for _, kw := range humanGatingKeywords {
		if strings.Contains(lower, kw) {
			return RouteDecision{Target: TargetHuman}
		}
	}

	candidates := make([]PeerRecord, 0)
	for _, p := range r.eligiblePeers(requiredCapabilities) {
		if _, skip := excluded[p.Identity.ID]; skip {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return RouteDecision{Target: TargetHuman}
	}
	ranked := r.rank(candidates, requiredCapabilities)
	best := ranked[0]
	if best.score < r.scoreFloor {
		return RouteDecision{Target: TargetHuman}
	}
	return RouteDecision{Target: TargetAI, NodeID: best.id}
}

func (r *Router) eligiblePeers(requiredCapabilities []string) []PeerRecord {
	out := make([]PeerRecord, 0)
	for _, p := range r.members.All() {
		if p.State != PeerAlive {
			continue
		}
		if !coversCapabilities(p.Identity, requiredCapabilities) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func coversCapabilities(id Identity, required []string) bool {
	for _, c := range required {
		if !id.HasCapability(c) {
			return false
		}
	}
	return true
}

type scoredPeer struct {
	id NodeID
	score float64
	lastSuccessfulContact time.Time
}

func (r *Router) rank(candidates []PeerRecord, requiredCapabilities []string) []scoredPeer {
	scored := make([]scoredPeer, 0, len(candidates))
	for _, p := range candidates {
		rep := r.reputation.Score(p.Identity.ID)
		normLatency := float64(p.LatencyEWMA) / float64(r.maxLatency)
		if normLatency > 1 {
			normLatency = 1
		}
		if normLatency < 0 {
			normLatency = 0
		}
		overlap := capabilityOverlap(p.Identity, requiredCapabilities)
		score := routerWeightReputation*rep + routerWeightLatency*(1-normLatency) + routerWeightCapability*overlap
		scored = append(scored, scoredPeer{id: p.Identity.ID, score: score, lastSuccessfulContact: p.LastSuccessfulContact})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		// Ties broken by most recent successful contact.
		return scored[i].lastSuccessfulContact.After(scored[j].lastSuccessfulContact)
	})
	return scored
}

// approvalRate is a placeholder hook for the requester's recent approval
// density that the Friction Engine consults. It is kept local rather than
// standing up a dedicated component, so it reports a neutral 0.5 until
// real approval history accumulates.
func (r *Router) approvalRate() float64 { return 0.5 }

// capabilityOverlap is the fraction of the peer's total advertised
// capabilities that intersect the required set, used as the router's
// third ranking dimension.
func capabilityOverlap(id Identity, required []string) float64 {
	if len(id.Capabilities) == 0 {
		return 0
	}
	hits := 0
	for _, c := range required {
		if id.HasCapability(c) {
			hits++
		}
	}
	if len(required) == 0 {
		return 0
	}
	return float64(hits) / float64(len(id.Capabilities))
}
