package core

// contracts.go – lifecycle of delegation contracts.
//
// Persistence uses line-delimited JSON with an atomic temp-file rename;
// manager shape (logger + mutex) grounded on core/stake_penalty.go.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func nowPtr() *time.Time {
	t := time.Now()
	return &t
}

func timeNow() time.Time {
	return time.Now()
}

// ContractStore creates, queries, and finalises delegation contracts.
type ContractStore struct {
	mu        sync.RWMutex
	contracts map[string]*DelegationContract
	path      string
	logger    *logrus.Logger
	qualityGatesCost bool
}

// NewContractStore builds a ContractStore persisting to path as
// line-delimited JSON. If path is empty, persistence is a no-op (useful in
// tests).
func NewContractStore(path string, qualityGatesCost bool, logger *logrus.Logger) *ContractStore {
	return &ContractStore{contracts: make(map[string]*DelegationContract), path: path, logger: logger, qualityGatesCost: qualityGatesCost}
}

// Create inserts a new active contract.
func (cs *ContractStore) Create(c DelegationContract) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.contracts[c.ContractID]; exists {
		return NewMeshError(ErrCancelled, "contract %s already exists", c.ContractID)
	}
	c.Status = ContractActive
	cs.contracts[c.ContractID] = &c
	return cs.saveLocked()
}

// Get returns a copy of the contract by id.
func (cs *ContractStore) Get(id string) (DelegationContract, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.contracts[id]
	if !ok {
		return DelegationContract{}, false
	}
	return *c, true
}

// ByTask returns contracts matching taskID.
func (cs *ContractStore) ByTask(taskID string) []DelegationContract {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	var out []DelegationContract
	for _, c := range cs.contracts {
		if c.TaskID == taskID {
			out = append(out, *c)
		}
	}
	return out
}

// ByStatus returns contracts in the given status.
func (cs *ContractStore) ByStatus(status ContractStatus) []DelegationContract {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	var out []DelegationContract
	for _, c := range cs.contracts {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	return out
}

// transitionLocked enforces that completed/violated/cancelled never
// transition back to active. Caller must hold cs.mu.
func (cs *ContractStore) transitionLocked(id string, to ContractStatus, reason string) error {
	c, ok := cs.contracts[id]
	if !ok {
		return NewMeshError(ErrCancelled, "unknown contract %s", id)
	}
	if c.Status != ContractActive {
		return NewMeshError(ErrCancelled, "contract %s already %s, cannot transition to %s", id, c.Status, to)
	}
	c.Status = to
	c.ViolationReason = reason
	return nil
}

// outcomeInput is the subset of a TaskResult the SLO check needs.
type outcomeInput struct {
	TaskStatus TaskResultStatus
	DurationMS int64
	TokensUsed int64
	CostUSD    float64
}

// Complete applies SLO checks in a fixed priority order: (1) task status,
// (2) duration, (3) tokens, (4) cost. Only the first violation is reported;
// quality (min_quality_score) is a separate dimension left to the Outcome
// Verifier.
func (cs *ContractStore) Complete(id string, in outcomeInput) (DelegationContract, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.contracts[id]
	if !ok {
		return DelegationContract{}, NewMeshError(ErrCancelled, "unknown contract %s", id)
	}
	if c.Status != ContractActive {
		return *c, NewMeshError(ErrCancelled, "contract %s already %s", id, c.Status)
	}

	var reason string
	switch {
	case in.TaskStatus != ResultCompleted:
		reason = fmt.Sprintf("task %s", in.TaskStatus)
	case c.SLO.MaxDurationMS > 0 && in.DurationMS > c.SLO.MaxDurationMS:
		reason = fmt.Sprintf("Duration %dms exceeded SLO %dms", in.DurationMS, c.SLO.MaxDurationMS)
	case c.SLO.MaxTokens > 0 && in.TokensUsed > c.SLO.MaxTokens:
		reason = fmt.Sprintf("Tokens %d exceeded SLO %d", in.TokensUsed, c.SLO.MaxTokens)
	case c.SLO.MaxCostUSD > 0 && in.CostUSD > c.SLO.MaxCostUSD:
		reason = fmt.Sprintf("Cost %.4f exceeded SLO %.4f", in.CostUSD, c.SLO.MaxCostUSD)
	}

	now := nowPtr()
	if reason != "" {
		c.Status = ContractViolated
		c.ViolationReason = reason
		c.CompletedAt = now
		cs.logger.WithFields(logrus.Fields{"contract": id, "reason": reason}).Warn("contract violated")
	} else {
		c.Status = ContractCompleted
		c.CompletedAt = now
		cs.logger.WithFields(logrus.Fields{"contract": id}).Info("contract completed")
	}
	if err := cs.saveLocked(); err != nil {
		return *c, err
	}
	return *c, nil
}

// MarkViolated force-transitions a contract to violated with an externally
// determined reason, used by the Outcome/Consensus verifiers whose checks
// run after Complete's hard-budget gate.
func (cs *ContractStore) MarkViolated(id, reason string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.contracts[id]
	if !ok {
		return NewMeshError(ErrCancelled, "unknown contract %s", id)
	}
	if c.Status != ContractActive && c.Status != ContractCompleted {
		return NewMeshError(ErrCancelled, "contract %s already %s", id, c.Status)
	}
	c.Status = ContractViolated
	c.ViolationReason = reason
	c.CompletedAt = nowPtr()
	return cs.saveLocked()
}

// Cancel marks a contract cancelled; idempotent on a non-active contract.
func (cs *ContractStore) Cancel(id string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.contracts[id]
	if !ok {
		return NewMeshError(ErrCancelled, "unknown contract %s", id)
	}
	if c.Status != ContractActive {
		return nil // idempotent no-op
	}
	c.Status = ContractCancelled
	c.CompletedAt = nowPtr()
	return cs.saveLocked()
}

// RequestRenegotiation registers a pending renegotiation request; only one
// may be pending at a time.
func (cs *ContractStore) RequestRenegotiation(id string, req RenegotiationRequest) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.contracts[id]
	if !ok {
		return NewMeshError(ErrCancelled, "unknown contract %s", id)
	}
	if c.PendingRenegotiation != nil {
		return NewMeshError(ErrCancelled, "a renegotiation request is already pending for contract %s", id)
	}
	c.PendingRenegotiation = &req
	return cs.saveLocked()
}

// ResolveRenegotiation accepts or rejects the pending request. Acceptance
// merges the delta into the SLO, preserving the original once.
func (cs *ContractStore) ResolveRenegotiation(id string, accept bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.contracts[id]
	if !ok {
		return NewMeshError(ErrCancelled, "unknown contract %s", id)
	}
	if c.PendingRenegotiation == nil {
		return NewMeshError(ErrCancelled, "no pending renegotiation for contract %s", id)
	}
	req := *c.PendingRenegotiation
	outcome := "rejected"
	if accept {
		outcome = "accepted"
		if c.OriginalSLO == nil {
			original := c.SLO
			c.OriginalSLO = &original
		}
		c.SLO = mergeSLODelta(c.SLO, req.ProposedSLODelta)
	}
	c.RenegotiationHistory = append(c.RenegotiationHistory, RenegotiationRecord{Request: req, Outcome: outcome, ResolvedAt: timeNow()})
	c.PendingRenegotiation = nil
	return cs.saveLocked()
}

func mergeSLODelta(base, delta SLO) SLO {
	if delta.MaxDurationMS != 0 {
		base.MaxDurationMS = delta.MaxDurationMS
	}
	if delta.MaxTokens != 0 {
		base.MaxTokens = delta.MaxTokens
	}
	if delta.MaxCostUSD != 0 {
		base.MaxCostUSD = delta.MaxCostUSD
	}
	if delta.MinQualityScore != nil {
		base.MinQualityScore = delta.MinQualityScore
	}
	return base
}

// saveLocked persists every contract as line-delimited JSON with an atomic
// temp-file rename; corrupt lines on load are skipped with a warning (spec
// §4.10, §6). Caller must hold cs.mu.
func (cs *ContractStore) saveLocked() error {
	if cs.path == "" {
		return nil
	}
	if err := ensureDir(cs.path); err != nil {
		return err
	}
	tmp := cs.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, c := range cs.contracts {
		line, err := json.Marshal(c)
		if err != nil {
			_ = f.Close()
			return err
		}
		if _, err := w.Write(line); err != nil {
			_ = f.Close()
			return err
		}
		if _, err := w.WriteString("\n"); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, cs.path)
}

// Load reads contracts.jsonl from disk, skipping corrupt lines with a
// logged warning.
func (cs *ContractStore) Load() error {
	if cs.path == "" {
		return nil
	}
	f, err := os.Open(cs.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c DelegationContract
		if err := json.Unmarshal(line, &c); err != nil {
			cs.logger.WithError(err).Warn("skipping corrupt contract line")
			continue
		}
		cs.contracts[c.ContractID] = &c
	}
	return scanner.Err()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
