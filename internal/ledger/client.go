// Package ledger defines the capability interface the orchestrator uses to
// talk to the two-tier ledger: the durable base tier and the delegated
// accelerated tier. Transaction construction, signing, and consensus live
// behind this interface.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrRejected is the base class for every validation failure the ledger
// reports. Specific rejections wrap it, so errors.Is(err, ErrRejected)
// identifies the whole family.
var ErrRejected = errors.New("ledger rejected operation")

var (
	ErrUnknownSession      = fmt.Errorf("unknown session: %w", ErrRejected)
	ErrSessionExists       = fmt.Errorf("session already exists: %w", ErrRejected)
	ErrSessionClosed       = fmt.Errorf("session closed: %w", ErrRejected)
	ErrNotDelegated        = fmt.Errorf("session not delegated: %w", ErrRejected)
	ErrAlreadyDelegated    = fmt.Errorf("session already delegated: %w", ErrRejected)
	ErrInsufficientDeposit = fmt.Errorf("insufficient deposit: %w", ErrRejected)
	ErrOverspend           = fmt.Errorf("usage exceeds deposit: %w", ErrRejected)
	ErrUnknownAccount      = fmt.Errorf("unknown account: %w", ErrRejected)
	ErrUnknownCommitment   = fmt.Errorf("unknown commitment ref: %w", ErrRejected)
)

// SessionStatus mirrors the on-ledger session account status.
type SessionStatus uint8

const (
	StatusActive SessionStatus = iota + 1
	StatusClosed
)

// Record is the authoritative session state read back from the base tier
// after reconciliation.
type Record struct {
	TotalUsage  uint64
	SettledCost uint64
	Refunded    uint64
	Status      SessionStatus
}

// OpenParams carries everything the base tier needs to create a session
// account: identity, unit metadata, and the escrowed deposit with its rate.
type OpenParams struct {
	SessionID   string
	ChargerID   string
	OwnerID     string
	MerchantID  string
	Unit        uint8
	Decimals    uint8
	Deposit     uint64
	RatePerUnit uint64
}

// Client executes operations against both tiers. Implementations own their
// timeout behavior; callers pass a context for cancellation only.
type Client interface {
	// OpenSession creates the session account on the base tier and escrows
	// the deposit from the owner's wallet.
	OpenSession(ctx context.Context, p OpenParams) error

	// Delegate hands custody of the session account to the accelerated tier.
	Delegate(ctx context.Context, sessionID, ownerID string) error

	// RecordUsage appends one usage increment on the accelerated tier. The
	// uniqueness tag keeps the transport from collapsing identical writes.
	RecordUsage(ctx context.Context, sessionID string, increment uint64, tag string) error

	// ReconcileAndUndelegate replays the accelerated tier's state onto the
	// base tier and returns a reference for the commitment proof.
	ReconcileAndUndelegate(ctx context.Context, sessionID string) (txRef string, err error)

	// AwaitCommitmentProof blocks until the reconciliation identified by
	// txRef is durably observable on the base tier.
	AwaitCommitmentProof(ctx context.Context, txRef string) error

	// Settle pays the merchant, refunds the remainder to the owner, and
	// closes the session. Atomic on the base tier.
	Settle(ctx context.Context, sessionID string) error

	// FetchSession reads the authoritative session record from the base tier.
	FetchSession(ctx context.Context, sessionID string) (Record, error)

	// GetBalance returns the base-tier balance of an account.
	GetBalance(ctx context.Context, accountID string) (uint64, error)
}
