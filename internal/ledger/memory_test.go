package ledger

import (
	"context"
	"errors"
	"testing"
)

func openParams() OpenParams {
	return OpenParams{
		SessionID:   "sess-1",
		ChargerID:   "charger-1",
		OwnerID:     "owner",
		MerchantID:  "merchant",
		Unit:        1,
		Decimals:    3,
		Deposit:     5000,
		RatePerUnit: 7,
	}
}

// openAndDelegate sets up a funded owner with an active delegated session.
func openAndDelegate(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	m.Fund("owner", 10000)
	ctx := context.Background()
	if err := m.OpenSession(ctx, openParams()); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := m.Delegate(ctx, "sess-1", "owner"); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	return m
}

func TestOpenSessionEscrowsDeposit(t *testing.T) {
	m := NewMemory()
	m.Fund("owner", 10000)
	ctx := context.Background()

	if err := m.OpenSession(ctx, openParams()); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	balance, err := m.GetBalance(ctx, "owner")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 5000 {
		t.Errorf("owner balance = %d after escrow, want 5000", balance)
	}
}

func TestOpenSessionRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate", func(t *testing.T) {
		m := NewMemory()
		m.Fund("owner", 20000)
		if err := m.OpenSession(ctx, openParams()); err != nil {
			t.Fatalf("first open: %v", err)
		}
		if err := m.OpenSession(ctx, openParams()); !errors.Is(err, ErrSessionExists) {
			t.Errorf("second open = %v, want ErrSessionExists", err)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		m := NewMemory()
		m.Fund("owner", 100)
		if err := m.OpenSession(ctx, openParams()); !errors.Is(err, ErrInsufficientDeposit) {
			t.Errorf("open = %v, want ErrInsufficientDeposit", err)
		}
	})

	t.Run("zero deposit", func(t *testing.T) {
		m := NewMemory()
		m.Fund("owner", 100)
		p := openParams()
		p.Deposit = 0
		if err := m.OpenSession(ctx, p); !errors.Is(err, ErrInsufficientDeposit) {
			t.Errorf("open = %v, want ErrInsufficientDeposit", err)
		}
	})

	t.Run("unknown owner", func(t *testing.T) {
		m := NewMemory()
		if err := m.OpenSession(ctx, openParams()); !errors.Is(err, ErrUnknownAccount) {
			t.Errorf("open = %v, want ErrUnknownAccount", err)
		}
	})
}

func TestRecordUsageRequiresDelegation(t *testing.T) {
	m := NewMemory()
	m.Fund("owner", 10000)
	ctx := context.Background()
	if err := m.OpenSession(ctx, openParams()); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := m.RecordUsage(ctx, "sess-1", 1, "tag-0"); !errors.Is(err, ErrNotDelegated) {
		t.Errorf("RecordUsage before delegate = %v, want ErrNotDelegated", err)
	}
}

func TestRecordUsageOverspendRejected(t *testing.T) {
	m := openAndDelegate(t)
	ctx := context.Background()

	// deposit 5000 at rate 7 allows 714 units; the 715th write overspends.
	for i := 0; i < 714; i++ {
		if err := m.RecordUsage(ctx, "sess-1", 1, "tag"); err != nil {
			t.Fatalf("RecordUsage #%d: %v", i, err)
		}
	}
	if err := m.RecordUsage(ctx, "sess-1", 1, "tag"); !errors.Is(err, ErrOverspend) {
		t.Errorf("overspending write = %v, want ErrOverspend", err)
	}

	rec, err := m.FetchSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	if rec.TotalUsage != 714 {
		t.Errorf("totalUsage = %d after rejected write, want 714", rec.TotalUsage)
	}
}

func TestFullSessionLifecycle(t *testing.T) {
	m := openAndDelegate(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := m.RecordUsage(ctx, "sess-1", 1, "tag"); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	txRef, err := m.ReconcileAndUndelegate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ReconcileAndUndelegate: %v", err)
	}
	if err := m.AwaitCommitmentProof(ctx, txRef); err != nil {
		t.Fatalf("AwaitCommitmentProof: %v", err)
	}
	if err := m.Settle(ctx, "sess-1"); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	rec, err := m.FetchSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	if rec.Status != StatusClosed {
		t.Errorf("status = %v, want StatusClosed", rec.Status)
	}
	if rec.SettledCost != 700 {
		t.Errorf("settledCost = %d, want 700", rec.SettledCost)
	}
	if rec.SettledCost+rec.Refunded != 5000 {
		t.Errorf("cost+refund = %d, want deposit 5000", rec.SettledCost+rec.Refunded)
	}

	merchantBalance, _ := m.GetBalance(ctx, "merchant")
	if merchantBalance != 700 {
		t.Errorf("merchant balance = %d, want 700", merchantBalance)
	}
	ownerBalance, _ := m.GetBalance(ctx, "owner")
	if ownerBalance != 5000+4300 {
		t.Errorf("owner balance = %d, want 9300", ownerBalance)
	}
}

func TestSettleRequiresUndelegation(t *testing.T) {
	m := openAndDelegate(t)
	if err := m.Settle(context.Background(), "sess-1"); !errors.Is(err, ErrAlreadyDelegated) {
		t.Errorf("Settle while delegated = %v, want ErrAlreadyDelegated", err)
	}
}

func TestDoubleSettleRejected(t *testing.T) {
	m := openAndDelegate(t)
	ctx := context.Background()

	if _, err := m.ReconcileAndUndelegate(ctx, "sess-1"); err != nil {
		t.Fatalf("ReconcileAndUndelegate: %v", err)
	}
	if err := m.Settle(ctx, "sess-1"); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if err := m.Settle(ctx, "sess-1"); !errors.Is(err, ErrRejected) {
		t.Errorf("second settle = %v, want an ErrRejected rejection", err)
	}
}

func TestAwaitCommitmentProofUnknownRef(t *testing.T) {
	m := NewMemory()
	if err := m.AwaitCommitmentProof(context.Background(), "bogus"); !errors.Is(err, ErrUnknownCommitment) {
		t.Errorf("AwaitCommitmentProof = %v, want ErrUnknownCommitment", err)
	}
}

func TestRecordUsageAfterUndelegateRejected(t *testing.T) {
	m := openAndDelegate(t)
	ctx := context.Background()
	if _, err := m.ReconcileAndUndelegate(ctx, "sess-1"); err != nil {
		t.Fatalf("ReconcileAndUndelegate: %v", err)
	}
	if err := m.RecordUsage(ctx, "sess-1", 1, "tag"); !errors.Is(err, ErrNotDelegated) {
		t.Errorf("RecordUsage after undelegate = %v, want ErrNotDelegated", err)
	}
}
