// Package core implements the P2P intelligent delegation mesh: membership,
// gossip, credentials, escrow, reputation, routing, decomposition, auctions,
// contracts, friction gating, firebreaks, outcome and consensus verification,
// behavioural scoring, sabotage detection, re-delegation, and the mesh
// manager that composes all of the above.
//
// Shared struct definitions live in this file, centralised the way the
// reference codebase keeps common_structs.go free of functions, so that the
// per-component files below can refer to the data model without introducing
// import cycles.
package core

import "time"

// NodeID identifies a mesh participant.
type NodeID string

// Level is a coarse low/medium/high/none classification used across task
// attributes.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Reversibility is a two-valued classification: a task either can be undone
// cheaply or it cannot.
type Reversibility string

const (
	ReversibilityLow  Reversibility = "low"
	ReversibilityHigh Reversibility = "high"
)

// PeerState is the membership lifecycle state of a remote peer.
type PeerState string

const (
	PeerAlive       PeerState = "alive"
	PeerSuspected   PeerState = "suspected"
	PeerUnreachable PeerState = "unreachable"
	PeerEvicted     PeerState = "evicted"
)

// Identity is a node's self-asserted description, reconciled across peers by
// version number.
type Identity struct {
	ID           NodeID
	Name         string
	BaseURL      string
	Capabilities map[string]struct{}
	PublicKey    []byte
	Credentials  []Credential
	Version      uint64
}

// HasCapability reports whether the identity advertises cap.
func (id Identity) HasCapability(cap string) bool {
	_, ok := id.Capabilities[cap]
	return ok
}

// PeerRecord is the local mirror of a remote node.
type PeerRecord struct {
	Identity              Identity
	State                 PeerState
	LastHeard             time.Time
	LastSuccessfulContact time.Time
	LatencyEWMA           time.Duration
	ReputationCached      float64
}

// Endorsement is a signature over (claim-id, endorser-id).
type Endorsement struct {
	EndorserID NodeID
	Signature  []byte
}

// Credential is a signed capability claim with zero or more endorsements.
type Credential struct {
	CredentialID string
	Issuer       NodeID
	Subject      NodeID
	Capabilities []string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Signature    []byte
	Endorsements []Endorsement
}

// TaskAttributes are the derived classification of a task's text.
type TaskAttributes struct {
	Complexity             Level
	Criticality            Level
	Verifiability          Level
	Reversibility          Reversibility
	EstimatedCostBucket    Level
	EstimatedDurationBucket Level
	RequiredCapabilities   []string
}

// SLO is the budget a delegatee must meet to be paid.
type SLO struct {
	MaxDurationMS       int64
	MaxTokens           int64
	MaxCostUSD          float64
	MinQualityScore     *float64
	RequiredCheckpoints int
}

// SubTask is one piece of a decomposed task.
type SubTask struct {
	ID               string
	Text             string
	Attributes       TaskAttributes
	Dependencies     map[string]struct{}
	ParallelGroup    int
	DelegationTarget string // "ai" or "human"; see DelegationTarget type in router.go
	Constraints      SLO
}

// PermissionBoundary bounds what tools a delegatee may invoke.
type PermissionBoundary struct {
	ToolAllowlist  []string
	MaxPermissions int
}

// MonitoringConfig describes periodic checkpoint reporting.
type MonitoringConfig struct {
	CheckpointIntervalMS int64
}

// ContractStatus is the lifecycle state of a DelegationContract.
type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractViolated  ContractStatus = "violated"
	ContractCancelled ContractStatus = "cancelled"
)

// RenegotiationRequest proposes a delta to an active contract's SLO.
type RenegotiationRequest struct {
	RequestID        string
	ProposedSLODelta SLO
	Reason           string
	RequestedAt      time.Time
}

// RenegotiationRecord is a resolved renegotiation request.
type RenegotiationRecord struct {
	Request  RenegotiationRequest
	Outcome  string // "accepted" or "rejected"
	ResolvedAt time.Time
}

// DelegationContract is the lifecycle record of one delegation.
type DelegationContract struct {
	ContractID           string
	Delegator            NodeID
	Delegatee            NodeID
	TaskID               string
	TaskText             string
	SLO                  SLO
	PermissionBoundary   PermissionBoundary
	Monitoring           MonitoringConfig
	Status               ContractStatus
	CreatedAt            time.Time
	CompletedAt          *time.Time
	ViolationReason      string
	OriginalSLO          *SLO
	RenegotiationHistory []RenegotiationRecord
	PendingRenegotiation *RenegotiationRequest
}

// SealedBid is the commit-phase form of a bid.
type SealedBid struct {
	BidID          string
	RFQID          string
	Bidder         NodeID
	CommitmentHash string
	Timestamp      time.Time
}

// RevealedBid is the reveal-phase form of a bid.
type RevealedBid struct {
	BidID               string
	RFQID               string
	Bidder              NodeID
	EstimatedCost       float64
	EstimatedDuration   int64
	EstimatedTokens     int64
	CapabilitiesOffered []string
	Expiry              time.Time
	Round               int
	Nonce               string
}

// RFQ announces a task open for sealed bids.
type RFQ struct {
	RFQID          string
	TaskAttributes TaskAttributes
	SLO            SLO
	Deadline       time.Time
}

// ReputationRecord is the per-peer Bayesian trust record.
type ReputationRecord struct {
	Successes    float64
	Failures     float64
	LastUpdate   time.Time
	DecayedScore float64
}

// BehavioralObsType enumerates the four behavioural axes' observation kinds.
type BehavioralObsType string

const (
	ObsTransparencyHigh   BehavioralObsType = "transparency_high"
	ObsTransparencyLow    BehavioralObsType = "transparency_low"
	ObsSafetyCompliant    BehavioralObsType = "safety_compliant"
	ObsSafetyViolation    BehavioralObsType = "safety_violation"
	ObsProtocolFollowed   BehavioralObsType = "protocol_followed"
	ObsProtocolViolated   BehavioralObsType = "protocol_violated"
	ObsReasoningClear     BehavioralObsType = "reasoning_clear"
	ObsReasoningOpaque    BehavioralObsType = "reasoning_opaque"
)

// BehavioralObservation is one recorded observation for a peer.
type BehavioralObservation struct {
	Type      BehavioralObsType
	Timestamp time.Time
	Evidence  string
}

// TaskResultStatus is the closed set of outcomes a peer can report.
type TaskResultStatus string

const (
	ResultCompleted TaskResultStatus = "completed"
	ResultFailed    TaskResultStatus = "failed"
	ResultAborted   TaskResultStatus = "aborted"
)

// Finding is a self-reported quality dimension inside a TaskResult.
type Finding struct {
	Dimension string
	Score     float64
}

// TaskRequest is the wire payload for POST /task.
type TaskRequest struct {
	TaskID            string
	OriginatorNodeID  NodeID
	TaskText          string
	SessionID         string
	Constraints       SLO
	Contract          *DelegationContract
}

// TaskResult is the wire payload for POST /result.
type TaskResult struct {
	TaskID        string
	PeerNodeID    NodeID
	PeerSessionID string
	Status        TaskResultStatus
	Findings      []Finding
	TokensUsed    int64
	CostUSD       float64
	DurationMS    int64
}

// VerifyRequest is the wire payload for POST /verify: a delegator's request
// that a peer independently check a completed task's result against its
// SLO and report whether it agrees with the delegator's own verdict.
type VerifyRequest struct {
	TaskID           string
	TaskText         string
	Result           TaskResult
	SLO              SLO
	DelegatorVerdict bool
}

// CheckpointStatus is returned by GET /task/{id}/status.
type CheckpointStatus struct {
	Progress             float64
	EstimatedRemainingMS int64
	LastActivity         time.Time
}

// PeerVersion pairs a node id with the version the sender last observed.
type PeerVersion struct {
	ID      NodeID
	Version uint64
}

// GossipMessage is the anti-entropy payload exchanged on /gossip. Peers
// carries the sender's version vector; Identities carries full identities
// pushed back for any id where the receiver's version was higher.
type GossipMessage struct {
	SourceID   NodeID
	Peers      []PeerVersion
	Identities []Identity
}
