package core

// escrow.go – per-node bond accounting: reserve, release, slash.
//
// Grounded on the reference's manager-struct-plus-injected-logger shape
// (core/stake_penalty.go's StakePenaltyManager) and its fraction-clamped
// SlashStake, adapted from a StateRW-backed ledger to an in-memory map since
// this repo has no shared token ledger to reuse, plus the per-contract
// reservation bookkeeping shape from core/escrow.go's EscrowContract.

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EscrowEvent is emitted on every balance-changing operation, carrying the
// before/after balances.
type EscrowEvent struct {
	Type string // "reserved", "released", "slashed"
	NodeID NodeID
	ContractID string
	Before uint64
	After uint64
}

type escrowAccount struct {
	total uint64
	reserved uint64
	reservations map[string]uint64 // contract_id -> amount
}

// EscrowManager tracks per-node bond balances and reservations.
type EscrowManager struct {
	mu sync.RWMutex
	accounts map[NodeID]*escrowAccount
	logger *logrus.Logger
	onEvent func(EscrowEvent)
}

// NewEscrowManager builds an EscrowManager.
func NewEscrowManager(logger *logrus.Logger) *EscrowManager {
	return &EscrowManager{accounts: make(map[NodeID]*escrowAccount), logger: logger}
}

// OnEvent registers a handler invoked for every escrow event.
func (em *EscrowManager) OnEvent(f func(EscrowEvent)) {
	em.onEvent = f
}

func (em *EscrowManager) emit(ev EscrowEvent) {
	if em.onEvent != nil {
		em.onEvent(ev)
	}
}

// Fund credits node's total balance, used for test fixtures and initial
// bond deposits.
func (em *EscrowManager) Fund(node NodeID, amount uint64) {
	em.mu.Lock()
	defer em.mu.Unlock()
	acct := em.account(node)
	acct.total += amount
}

func (em *EscrowManager) account(node NodeID) *escrowAccount {
	acct, ok := em.accounts[node]
	if !ok {
		acct = &escrowAccount{reservations: make(map[string]uint64)}
		em.accounts[node] = acct
	}
	return acct
}

// Free returns node's free balance (total - reserved).
func (em *EscrowManager) Free(node NodeID) uint64 {
	em.mu.RLock()
	defer em.mu.RUnlock()
	acct, ok := em.accounts[node]
	if !ok {
		return 0
	}
	return acct.total - acct.reserved
}

// Reserve reserves amount against node's free balance for contractID. Fails
// with ErrInsufficientFunds if free_balance < amount.
func (em *EscrowManager) Reserve(node NodeID, contractID string, amount uint64) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	acct := em.account(node)
	free := acct.total - acct.reserved
	if free < amount {
		return NewMeshError(ErrInsufficientFunds, "node %s has %d free, needs %d", node, free, amount)
	}
	before := free
	acct.reserved += amount
	acct.reservations[contractID] = amount
	em.logger.WithFields(logrus.Fields{"node": node, "contract": contractID, "amount": amount}).Info("escrow reserved")
	em.emit(EscrowEvent{Type: "reserved", NodeID: node, ContractID: contractID, Before: before, After: acct.total - acct.reserved})
	return nil
}

// Release returns the reservation for contractID on node back to free
// balance.
func (em *EscrowManager) Release(node NodeID, contractID string) error {
	em.mu.Lock()
	defer em.mu.Unlock()
	acct := em.account(node)
	amount, ok := acct.reservations[contractID]
	if !ok {
		return NewMeshError(ErrInsufficientFunds, "no reservation for contract %s", contractID)
	}
	before := acct.total - acct.reserved
	acct.reserved -= amount
	delete(acct.reservations, contractID)
	em.logger.WithFields(logrus.Fields{"node": node, "contract": contractID, "amount": amount}).Info("escrow released")
	em.emit(EscrowEvent{Type: "released", NodeID: node, ContractID: contractID, Before: before, After: acct.total - acct.reserved})
	return nil
}

// Slash permanently removes amount*fraction from node's total for
// contractID, returning the remainder to free.
func (em *EscrowManager) Slash(node NodeID, contractID string, fraction float64, reason string) error {
	if fraction <= 0 || fraction > 1 {
		return NewMeshError(ErrInsufficientFunds, "slash fraction %f out of range (0,1]", fraction)
	}
	em.mu.Lock()
	defer em.mu.Unlock()
	acct := em.account(node)
	amount, ok := acct.reservations[contractID]
	if !ok {
		return NewMeshError(ErrInsufficientFunds, "no reservation for contract %s", contractID)
	}
	before := acct.total - acct.reserved
	slashed := uint64(float64(amount) * fraction)
	if slashed > acct.total {
		slashed = acct.total
	}
	remainder := amount - slashed
	acct.total -= slashed
	acct.reserved -= amount
	delete(acct.reservations, contractID)
	em.logger.WithFields(logrus.Fields{"node": node, "contract": contractID, "slashed": slashed, "reason": reason}).Warn("escrow slashed")
	em.emit(EscrowEvent{Type: "slashed", NodeID: node, ContractID: contractID, Before: before, After: acct.total - acct.reserved})
	_ = remainder
	return nil
}

// ReservationsFor returns a snapshot of node's active reservations, keyed by
// contract id with the reserved amount. No sweep in this package releases
// reservations whose contract is no longer active.
func (em *EscrowManager) ReservationsFor(node NodeID) map[string]uint64 {
	em.mu.RLock()
	defer em.mu.RUnlock()
	acct, ok := em.accounts[node]
	if !ok {
		return nil
	}
	out := make(map[string]uint64, len(acct.reservations))
	for k, v := range acct.reservations {
		out[k] = v
	}
	return out
}
