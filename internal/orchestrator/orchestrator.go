// Package orchestrator drives a metered session across the two ledger tiers:
// open and delegate on connect, stream usage increments while delegated,
// then reconcile and settle exactly once on the way out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flowstream/backend/internal/billing"
	"github.com/flowstream/backend/internal/config"
	"github.com/flowstream/backend/internal/ledger"
	"github.com/flowstream/backend/internal/metrics"
	"github.com/flowstream/backend/internal/session"
)

var (
	// ErrInvalidDeposit rejects a connect attempt with a zero deposit.
	ErrInvalidDeposit = errors.New("deposit must be positive")
	// ErrAlreadyConnected rejects a connect attempt while a session exists.
	ErrAlreadyConnected = errors.New("a session is already active")
)

// Orchestrator owns the session lifecycle state machine. At most one session
// is active at a time. State-affecting writers are the connect path, the
// streaming loop, and the finalize path; the phase field and the finalize
// guard keep them mutually exclusive.
type Orchestrator struct {
	cfg     *config.Config
	client  ledger.Client
	hub     *session.Hub
	metrics *metrics.Metrics

	ownerID    string
	merchantID string

	mu            sync.Mutex
	phase         session.Status
	sessionID     string
	chargerID     string
	stopRequested bool // set when Disconnect arrives during Initializing
	stopClosed    bool
	stop          chan struct{} // closed to signal the streaming loop
	done          chan struct{} // closed when the session reaches its end state

	finalizing atomic.Bool
}

func New(cfg *config.Config, client ledger.Client, hub *session.Hub, m *metrics.Metrics, ownerID, merchantID string) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		client:     client,
		hub:        hub,
		metrics:    m,
		ownerID:    ownerID,
		merchantID: merchantID,
		phase:      session.Idle,
	}
	hub.Update(func(s *session.Snapshot) {
		s.Status = session.Idle
		s.Unit = cfg.Session.Unit
		s.Decimals = cfg.Session.Decimals
	})
	return o
}

// Connect opens a session with the given deposit (raw units), delegates it
// to the accelerated tier, and starts the streaming loop in the background.
// It returns once streaming has started; it does not wait for the session to
// finish.
func (o *Orchestrator) Connect(ctx context.Context, deposit uint64) error {
	if deposit == 0 {
		return ErrInvalidDeposit
	}

	o.mu.Lock()
	if o.phase != session.Idle {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	o.phase = session.Initializing
	o.sessionID = uuid.NewString()
	o.chargerID = uuid.NewString()
	o.stopRequested = false
	o.stopClosed = false
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	sessionID, chargerID := o.sessionID, o.chargerID
	o.mu.Unlock()

	target := billing.TargetUsage(o.cfg.Session.Duration, o.cfg.Session.UpdateInterval, o.cfg.Session.UsageIncrement)
	o.publish(func(s *session.Snapshot) {
		s.Status = session.Initializing
		s.SessionID = sessionID
		s.ChargerID = chargerID
		s.MerchantID = o.merchantID
		s.DepositAmount = deposit
		s.TargetUsage = target
		s.TotalUsage = 0
		s.AccruedCost = 0
		s.RefundAmount = 0
		s.UpdateCount = 0
		s.Connected = false
	}, "initializing session "+sessionID)

	if err := o.initialize(ctx, sessionID, chargerID, deposit); err != nil {
		o.metrics.ConnectFailures.Inc()
		o.publish(func(s *session.Snapshot) {
			s.Status = session.Errored
			s.Connected = false
		}, fmt.Sprintf("connect failed: %v", err))

		// Partial on-ledger state may exist; it is not auto-healed. The
		// orchestrator returns to Idle so the operator can decide whether
		// to retry or abandon.
		o.mu.Lock()
		o.phase = session.Idle
		o.sessionID, o.chargerID = "", ""
		done := o.done
		o.mu.Unlock()
		close(done)
		return err
	}

	o.mu.Lock()
	o.phase = session.Streaming
	stopped := o.stopRequested
	o.mu.Unlock()

	o.metrics.SessionsStarted.Inc()
	o.publish(func(s *session.Snapshot) {
		s.Status = session.Streaming
		s.Connected = true
	}, "session delegated to accelerated tier")

	if stopped {
		// A disconnect arrived while initialization was mid-flight. The
		// stop request was queued; apply it now instead of starting the loop.
		go o.finalize("stop requested during initialization")
	} else {
		go o.streamLoop(sessionID)
	}
	return nil
}

// initialize runs the connect-phase ledger pipeline: open the session on the
// base tier, refresh the wallet balance, delegate to the accelerated tier.
// The first failing step aborts the attempt.
func (o *Orchestrator) initialize(ctx context.Context, sessionID, chargerID string, deposit uint64) error {
	err := o.client.OpenSession(ctx, ledger.OpenParams{
		SessionID:   sessionID,
		ChargerID:   chargerID,
		OwnerID:     o.ownerID,
		MerchantID:  o.merchantID,
		Unit:        o.cfg.Session.Unit,
		Decimals:    o.cfg.Session.Decimals,
		Deposit:     deposit,
		RatePerUnit: o.cfg.Session.RatePerUnit,
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	balance, err := o.client.GetBalance(ctx, o.ownerID)
	if err != nil {
		return fmt.Errorf("refresh balance: %w", err)
	}
	o.publish(func(s *session.Snapshot) {
		s.WalletBalance = balance
	}, "session opened on base tier, deposit escrowed")

	if err := o.client.Delegate(ctx, sessionID, o.ownerID); err != nil {
		return fmt.Errorf("delegate: %w", err)
	}
	return nil
}

// Disconnect requests session teardown. It is a no-op when no session is
// active. Otherwise it signals the streaming loop (or queues the request if
// initialization is still in flight) and blocks until finalization completes.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	switch o.phase {
	case session.Idle, session.Errored:
		o.mu.Unlock()
		return nil
	case session.Initializing:
		o.stopRequested = true
	default: // Streaming, Finalizing
		o.signalStopLocked()
	}
	done := o.done
	o.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) signalStopLocked() {
	if !o.stopClosed {
		o.stopClosed = true
		close(o.stop)
	}
}

// streamLoop issues one usage write per tick until the configured duration
// elapses or a stop is signaled, then falls through to finalize. A failed
// write is fatal for the session: the loop never retries.
func (o *Orchestrator) streamLoop(sessionID string) {
	interval := o.cfg.Session.UpdateInterval
	increment := o.cfg.Session.UsageIncrement
	rate := o.cfg.Session.RatePerUnit
	start := time.Now()
	var seq uint64

	for {
		if o.stopSignaled() || time.Since(start) >= o.cfg.Session.Duration {
			break
		}

		// The tag keeps the transport from collapsing identical writes.
		tag := fmt.Sprintf("flowstream-%s-%d-%d", sessionID, seq, time.Now().UnixNano())
		if err := o.client.RecordUsage(context.Background(), sessionID, increment, tag); err != nil {
			o.metrics.TickFailures.Inc()
			o.fail(fmt.Errorf("usage write %d: %w", seq, err))
			return
		}
		seq++
		o.metrics.UsageTicks.Inc()

		o.hub.Update(func(s *session.Snapshot) {
			s.TotalUsage += increment
			s.AccruedCost = billing.CappedCost(s.TotalUsage, rate, s.DepositAmount)
			s.UpdateCount++
		})

		// Inter-tick delay; a stop signal cuts the wait short.
		select {
		case <-o.stop:
		case <-time.After(interval):
		}
	}

	o.finalize("streaming finished")
}

func (o *Orchestrator) stopSignaled() bool {
	select {
	case <-o.stop:
		return true
	default:
		return false
	}
}

// fail marks the session unrecoverable. Identifiers are retained so the
// operator can inspect and clean up on-ledger state by hand.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	o.phase = session.Errored
	done := o.done
	o.mu.Unlock()

	o.publish(func(s *session.Snapshot) {
		s.Status = session.Errored
		s.Connected = false
	}, fmt.Sprintf("fatal: %v, session abandoned", err))
	close(done)
}

// finalize runs the settlement sequence exactly once per session, no matter
// whether it is reached from the loop's natural exit or an external stop.
// The CAS guard admits the first caller; everyone else waits on done.
func (o *Orchestrator) finalize(reason string) {
	if !o.finalizing.CompareAndSwap(false, true) {
		return
	}

	o.mu.Lock()
	o.phase = session.Finalizing
	sessionID := o.sessionID
	done := o.done
	o.mu.Unlock()

	o.publish(func(s *session.Snapshot) {
		s.Status = session.Finalizing
		s.Connected = false
	}, "reconciling accelerated tier: "+reason)

	rec, balance, err := o.settle(context.Background(), sessionID)
	if err != nil {
		o.metrics.FinalizeFailures.Inc()
		// Guard released, identifiers retained: the session is left in a
		// degraded unresolved condition for the operator. No automatic
		// retry; retrying settlement risks double payment.
		o.mu.Lock()
		o.phase = session.Errored
		o.mu.Unlock()
		o.publish(func(s *session.Snapshot) {
			s.Status = session.Errored
		}, fmt.Sprintf("fatal: finalize failed, session unresolved: %v", err))
		o.finalizing.Store(false)
		close(done)
		return
	}

	o.metrics.Settlements.Inc()
	cost := billing.Format(rec.SettledCost, o.cfg.Session.Decimals)
	refund := billing.Format(rec.Refunded, o.cfg.Session.Decimals)
	o.publish(func(s *session.Snapshot) {
		// The ledger's figures are authoritative; they override any local
		// accrual that lagged behind the confirmed writes.
		s.TotalUsage = rec.TotalUsage
		s.AccruedCost = rec.SettledCost
		s.RefundAmount = rec.Refunded
		s.WalletBalance = balance
		s.ClearIdentifiers()
		s.Status = session.Idle
	}, fmt.Sprintf("session settled: cost=%s refund=%s", cost, refund))

	o.mu.Lock()
	o.phase = session.Idle
	o.sessionID, o.chargerID = "", ""
	o.mu.Unlock()
	o.finalizing.Store(false)
	close(done)
}

// settle is the finalize pipeline against the ledger: reconcile, await the
// commitment proof, settle, read back the authoritative record, refresh the
// wallet balance.
func (o *Orchestrator) settle(ctx context.Context, sessionID string) (ledger.Record, uint64, error) {
	txRef, err := o.client.ReconcileAndUndelegate(ctx, sessionID)
	if err != nil {
		return ledger.Record{}, 0, fmt.Errorf("reconcile: %w", err)
	}
	if err := o.client.AwaitCommitmentProof(ctx, txRef); err != nil {
		return ledger.Record{}, 0, fmt.Errorf("commitment proof: %w", err)
	}
	if err := o.client.Settle(ctx, sessionID); err != nil {
		return ledger.Record{}, 0, fmt.Errorf("settle: %w", err)
	}
	rec, err := o.client.FetchSession(ctx, sessionID)
	if err != nil {
		return ledger.Record{}, 0, fmt.Errorf("fetch session: %w", err)
	}
	balance, err := o.client.GetBalance(ctx, o.ownerID)
	if err != nil {
		return ledger.Record{}, 0, fmt.Errorf("refresh balance: %w", err)
	}
	return rec, balance, nil
}

// publish applies a snapshot mutation plus a timestamped status line, and
// mirrors the line to the process log.
func (o *Orchestrator) publish(mutate func(*session.Snapshot), msg string) {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), msg)
	o.hub.Update(func(s *session.Snapshot) {
		mutate(s)
		s.LogTail = line
	})
	log.Printf("[orchestrator] %s", msg)
}
