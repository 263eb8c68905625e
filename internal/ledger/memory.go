package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// memorySession is one session account in the simulated ledger.
type memorySession struct {
	ownerID     string
	merchantID  string
	deposit     uint64
	ratePerUnit uint64
	totalUsage  uint64
	settledCost uint64
	refunded    uint64
	status      SessionStatus
	delegated   bool
	settled     bool
}

// Memory is an in-process two-tier ledger with the validation rules the real
// program enforces: active-status gating, overspend rejection, delegation
// gating of accelerated writes, and exactly-once settlement. It backs the
// demo bootstrap and the test suite.
type Memory struct {
	mu       sync.Mutex
	balances map[string]uint64
	sessions map[string]*memorySession
	commits  map[string]bool
}

var _ Client = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]uint64),
		sessions: make(map[string]*memorySession),
		commits:  make(map[string]bool),
	}
}

// Fund credits an account on the base tier. Test and bootstrap helper.
func (m *Memory) Fund(accountID string, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] += amount
}

func (m *Memory) OpenSession(ctx context.Context, p OpenParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[p.SessionID]; ok {
		return ErrSessionExists
	}
	if p.Deposit == 0 {
		return ErrInsufficientDeposit
	}
	balance, ok := m.balances[p.OwnerID]
	if !ok {
		return ErrUnknownAccount
	}
	if balance < p.Deposit {
		return ErrInsufficientDeposit
	}

	// Escrow the deposit into the session account.
	m.balances[p.OwnerID] = balance - p.Deposit
	m.sessions[p.SessionID] = &memorySession{
		ownerID:     p.OwnerID,
		merchantID:  p.MerchantID,
		deposit:     p.Deposit,
		ratePerUnit: p.RatePerUnit,
		status:      StatusActive,
	}
	return nil
}

func (m *Memory) Delegate(ctx context.Context, sessionID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if s.ownerID != ownerID {
		return ErrRejected
	}
	if s.status != StatusActive {
		return ErrSessionClosed
	}
	if s.delegated {
		return ErrAlreadyDelegated
	}
	s.delegated = true
	return nil
}

func (m *Memory) RecordUsage(ctx context.Context, sessionID string, increment uint64, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if s.status != StatusActive {
		return ErrSessionClosed
	}
	if !s.delegated {
		return ErrNotDelegated
	}
	// Overspend rejection: the accrued cost must stay within the deposit.
	usage := s.totalUsage + increment
	if s.ratePerUnit != 0 && usage*s.ratePerUnit > s.deposit {
		return ErrOverspend
	}
	s.totalUsage = usage
	return nil
}

func (m *Memory) ReconcileAndUndelegate(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrUnknownSession
	}
	if !s.delegated {
		return "", ErrNotDelegated
	}
	s.delegated = false

	txRef := uuid.NewString()
	m.commits[txRef] = true
	return txRef, nil
}

func (m *Memory) AwaitCommitmentProof(ctx context.Context, txRef string) error {
	m.mu.Lock()
	known := m.commits[txRef]
	m.mu.Unlock()

	if !known {
		return ErrUnknownCommitment
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (m *Memory) Settle(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if s.settled {
		return ErrSessionClosed
	}
	if s.delegated {
		return ErrAlreadyDelegated
	}

	cost := s.totalUsage * s.ratePerUnit
	if cost > s.deposit {
		cost = s.deposit
	}
	s.settledCost = cost
	s.refunded = s.deposit - cost
	s.status = StatusClosed
	s.settled = true

	m.balances[s.merchantID] += cost
	m.balances[s.ownerID] += s.refunded
	return nil
}

func (m *Memory) FetchSession(ctx context.Context, sessionID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Record{}, ErrUnknownSession
	}
	return Record{
		TotalUsage:  s.totalUsage,
		SettledCost: s.settledCost,
		Refunded:    s.refunded,
		Status:      s.status,
	}, nil
}

func (m *Memory) GetBalance(ctx context.Context, accountID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[accountID]
	if !ok {
		return 0, ErrUnknownAccount
	}
	return balance, nil
}
