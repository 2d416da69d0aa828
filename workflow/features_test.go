package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/mmdatafocus/stock_ledger/models"
)

type reservationFeature struct {
	t           *testing.T
	env         *testEnv
	lastReserve ReserveResult
	lastCheck   StockCheck
	lastRelease ReleaseResult
	lastCleanup CleanupResult
}

func (f *reservationFeature) reset() {
	f.env = newTestEnv(f.t)
	f.lastReserve = ReserveResult{}
	f.lastCheck = StockCheck{}
	f.lastRelease = ReleaseResult{}
	f.lastCleanup = CleanupResult{}
}

func (f *reservationFeature) productHasUnitsOnHand(productId, onHand, threshold int) error {
	_, err := f.env.svc.EnsureStockRecord(context.Background(), StockRecordInput{
		ProductId:         productId,
		InitialQuantity:   onHand,
		LowStockThreshold: threshold,
		TrackQuantity:     true,
	})
	return err
}

func (f *reservationFeature) holderReservesUnits(holder string, qty, productId int) error {
	res, err := f.env.svc.Reserve(context.Background(), ReserveRequest{
		ProductId: productId, Quantity: qty, HolderRef: holder, TTLMinutes: 15,
	})
	if err != nil {
		return err
	}
	f.lastReserve = res
	return nil
}

func (f *reservationFeature) theReservationSucceeds() error {
	if !f.lastReserve.Success {
		return fmt.Errorf("expected success, got %s", f.lastReserve.Message)
	}
	return nil
}

func (f *reservationFeature) theReservationIsRejectedForInsufficientStock() error {
	if f.lastReserve.Success || !errors.Is(f.lastReserve.Err, models.ErrInsufficientStock) {
		return fmt.Errorf("expected insufficient stock rejection, got %+v", f.lastReserve)
	}
	return nil
}

func (f *reservationFeature) checkingReportsAvailable(qty, productId, available int) error {
	check, err := f.env.svc.CheckStock(context.Background(), productId, qty)
	if err != nil {
		return err
	}
	f.lastCheck = check
	if check.Available != available {
		return fmt.Errorf("expected %d available, got %d", available, check.Available)
	}
	return nil
}

func (f *reservationFeature) theCheckIsNotInStock() error {
	if f.lastCheck.InStock {
		return errors.New("expected check to be out of stock")
	}
	return nil
}

func (f *reservationFeature) minutesPass(minutes int) error {
	f.env.clock.Advance(time.Duration(minutes) * time.Minute)
	return nil
}

func (f *reservationFeature) expiredReservationsAreCleanedUp() error {
	res, err := f.env.svc.CleanupExpired(context.Background())
	f.lastCleanup = res
	return err
}

func (f *reservationFeature) reservationsAreReclaimed(n int) error {
	if f.lastCleanup.ReleasedCount != n {
		return fmt.Errorf("expected %d reclaimed, got %d", n, f.lastCleanup.ReleasedCount)
	}
	return nil
}

func (f *reservationFeature) productHasUnitsReserved(productId, reserved int) error {
	rec, err := models.FetchStockRecord(f.env.db, productId)
	if err != nil {
		return err
	}
	if rec.ReservedQuantity != reserved {
		return fmt.Errorf("expected %d reserved, got %d", reserved, rec.ReservedQuantity)
	}
	return nil
}

func (f *reservationFeature) productHasOnHandAndReserved(productId, onHand, reserved int) error {
	rec, err := models.FetchStockRecord(f.env.db, productId)
	if err != nil {
		return err
	}
	if rec.OnHandQuantity != onHand || rec.ReservedQuantity != reserved {
		return fmt.Errorf("expected %d/%d, got %d/%d", onHand, reserved, rec.OnHandQuantity, rec.ReservedQuantity)
	}
	return nil
}

func (f *reservationFeature) holderChecksOut(holder string) error {
	res, err := f.env.svc.ConvertToSale(context.Background(), holder, "checkout")
	if err != nil {
		return err
	}
	if !res.AllConverted() {
		return fmt.Errorf("conversion incomplete: %+v", res.Items)
	}
	return nil
}

func (f *reservationFeature) saleMovementsAreRecorded(n int) error {
	var count int64
	if err := f.env.db.Model(&models.StockMovement{}).Where("kind = ?", models.MovementKindSale).Count(&count).Error; err != nil {
		return err
	}
	if int(count) != n {
		return fmt.Errorf("expected %d sale movements, got %d", n, count)
	}
	return nil
}

func (f *reservationFeature) theReservationIsReleased() error {
	if f.lastReserve.Reservation == nil {
		return errors.New("no reservation to release")
	}
	res, err := f.env.svc.Release(context.Background(), f.lastReserve.Reservation.ID)
	f.lastRelease = res
	return err
}

func (f *reservationFeature) theLastReleaseReportsNoChange() error {
	if f.lastRelease.Success {
		return errors.New("expected the repeated release to report success=false")
	}
	return nil
}

func initializeReservationScenario(t *testing.T) func(*godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		f := &reservationFeature{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			f.reset()
			return ctx, nil
		})

		ctx.Step(`^product (\d+) has (\d+) units on hand with low stock threshold (\d+)$`, f.productHasUnitsOnHand)
		ctx.Step(`^holder "([^"]*)" reserves (\d+) units of product (\d+)$`, f.holderReservesUnits)
		ctx.Step(`^holder "([^"]*)" checks out$`, f.holderChecksOut)
		ctx.Step(`^(\d+) minutes pass$`, f.minutesPass)
		ctx.Step(`^expired reservations are cleaned up$`, f.expiredReservationsAreCleanedUp)
		ctx.Step(`^the reservation is released$`, f.theReservationIsReleased)

		ctx.Step(`^the reservation succeeds$`, f.theReservationSucceeds)
		ctx.Step(`^the reservation is rejected for insufficient stock$`, f.theReservationIsRejectedForInsufficientStock)
		ctx.Step(`^checking (\d+) units of product (\d+) reports (\d+) available$`, f.checkingReportsAvailable)
		ctx.Step(`^the check is not in stock$`, f.theCheckIsNotInStock)
		ctx.Step(`^(\d+) reservations? (?:is|are) reclaimed$`, f.reservationsAreReclaimed)
		ctx.Step(`^product (\d+) has (\d+) units reserved$`, f.productHasUnitsReserved)
		ctx.Step(`^product (\d+) has (\d+) units on hand and (\d+) reserved$`, f.productHasOnHandAndReserved)
		ctx.Step(`^(\d+) sale movements are recorded$`, f.saleMovementsAreRecorded)
		ctx.Step(`^the last release reports no change$`, f.theLastReleaseReportsNoChange)
	}
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeReservationScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/stock_reservation.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
