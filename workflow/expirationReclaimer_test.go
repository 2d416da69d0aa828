package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/stock_ledger/models"
)

func TestCleanupExpired_ReclaimsLapsedHolds(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, 10, 0)
	ctx := context.Background()
	res := env.reserve(t, 1, 5, "cart-a")

	env.clock.Advance(16 * time.Minute)

	// Availability already excludes the lapsed hold before any sweep.
	check, err := env.svc.CheckStock(ctx, 1, 10)
	if err != nil {
		t.Fatalf("CheckStock: %v", err)
	}
	if check.Available != 10 || !check.InStock {
		t.Fatalf("expected available=10 before sweep, got %+v", check)
	}

	out, err := env.svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if out.ReleasedCount != 1 || out.TotalQuantity != 5 || len(out.ProductIds) != 1 || out.ProductIds[0] != 1 {
		t.Fatalf("unexpected cleanup result: %+v", out)
	}
	if len(out.FailedProducts) != 0 {
		t.Fatalf("unexpected failed products: %v", out.FailedProducts)
	}

	r, err := models.FetchReservation(env.db, res.Reservation.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if r.Status != models.ReservationStatusExpired || !r.IsReleased || r.ReleasedAt == nil {
		t.Fatalf("expected EXPIRED released row, got %+v", r)
	}
	rec := env.record(t, 1)
	if rec.ReservedQuantity != 0 || rec.OnHandQuantity != 10 {
		t.Fatalf("expected reserved=0 on_hand=10, got %+v", rec)
	}
	env.assertLedgerInvariants(t, 1)

	again, err := env.svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("second CleanupExpired: %v", err)
	}
	if again.ReleasedCount != 0 {
		t.Fatalf("second sweep should be a no-op, got %+v", again)
	}
}

func TestCleanupExpired_LeavesLiveHolds(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, 10, 0)
	env.seed(t, 2, 10, 0)
	ctx := context.Background()

	env.reserve(t, 1, 2, "cart-a")
	env.clock.Advance(10 * time.Minute)
	env.reserve(t, 1, 3, "cart-b")
	env.reserve(t, 2, 4, "cart-b")
	env.clock.Advance(6 * time.Minute)

	out, err := env.svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if out.ReleasedCount != 1 || out.TotalQuantity != 2 {
		t.Fatalf("expected only cart-a reclaimed, got %+v", out)
	}
	if rec := env.record(t, 1); rec.ReservedQuantity != 3 {
		t.Fatalf("cart-b hold must survive, reserved=%d", rec.ReservedQuantity)
	}
	if rec := env.record(t, 2); rec.ReservedQuantity != 4 {
		t.Fatalf("product 2 untouched, reserved=%d", rec.ReservedQuantity)
	}
	env.assertLedgerInvariants(t, 1)
	env.assertLedgerInvariants(t, 2)
}

func TestRelease_LapsedHoldBecomesExpired(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, 10, 0)
	res := env.reserve(t, 1, 5, "cart-a")
	env.clock.Advance(15 * time.Minute)

	out, err := env.svc.Release(context.Background(), res.Reservation.ID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if out.Success || out.Status != models.ReservationStatusExpired {
		t.Fatalf("expected soft failure with EXPIRED, got %+v", out)
	}
	env.assertLedgerInvariants(t, 1)
}

func TestExpirationReclaimer_StopsWithContext(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, 10, 0)
	env.reserve(t, 1, 5, "cart-a")
	env.clock.Advance(time.Hour)

	r := NewExpirationReclaimer(env.svc)
	r.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var n int64
		env.db.Model(&models.Reservation{}).Where("status = ?", models.ReservationStatusExpired).Count(&n)
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reclaimer did not stop")
	}
	if rec := env.record(t, 1); rec.ReservedQuantity != 0 {
		t.Fatalf("expected reserved=0 after background sweep, got %d", rec.ReservedQuantity)
	}
}
