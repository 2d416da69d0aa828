package models_test

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq int64

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:models_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), config.NewGormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	config.InstallPlugins(db)
	require.NoError(t, models.MigrateTable(db))
	return db
}

func TestParseMovementKind(t *testing.T) {
	k, err := models.ParseMovementKind(" restock ")
	require.NoError(t, err)
	assert.Equal(t, models.MovementKindRestock, k)

	_, err = models.ParseMovementKind("SHRINKAGE")
	assert.ErrorIs(t, err, models.ErrUnknownMovementKind)
}

func TestMovementKindSpecs(t *testing.T) {
	outbound := map[models.MovementKind]bool{
		models.MovementKindSale: true, models.MovementKindTransferOut: true, models.MovementKindDamage: true,
		models.MovementKindTheft: true, models.MovementKindExpiredWriteOff: true, models.MovementKindAdjustmentOut: true,
	}
	for _, k := range models.AllMovementKinds() {
		assert.Equal(t, outbound[k], k.IsOutbound(), "direction of %s", k)
	}
	assert.True(t, models.MovementKindSale.RequiresReference())
	assert.True(t, models.MovementKindDamage.RequiresReason())
	assert.False(t, models.MovementKindRestock.RequiresReference())
	assert.False(t, models.MovementKindRestock.RequiresReason())
}

func TestMovementKindJSON(t *testing.T) {
	var in models.MovementInput
	require.NoError(t, json.Unmarshal([]byte(`{"product_id":1,"kind":"sale","quantity":2}`), &in))
	assert.Equal(t, models.MovementKindSale, in.Kind)

	err := json.Unmarshal([]byte(`{"kind":"GIFT"}`), &in)
	assert.ErrorIs(t, err, models.ErrUnknownMovementKind)
}

func TestMovementInputValidate(t *testing.T) {
	cases := []struct {
		name string
		in   models.MovementInput
		err  error
	}{
		{"restock ok", models.MovementInput{ProductId: 1, Kind: models.MovementKindRestock, Quantity: 3}, nil},
		{"sale needs reference", models.MovementInput{ProductId: 1, Kind: models.MovementKindSale, Quantity: 1}, models.ErrInvalidMovement},
		{"sale with reference", models.MovementInput{ProductId: 1, Kind: models.MovementKindSale, Quantity: 1,
			Reference: models.MovementReference{Type: models.ReferenceTypeOrder, Id: "o-1"}}, nil},
		{"theft needs reason", models.MovementInput{ProductId: 1, Kind: models.MovementKindTheft, Quantity: 1}, models.ErrInvalidMovement},
		{"negative quantity", models.MovementInput{ProductId: 1, Kind: models.MovementKindRestock, Quantity: -1}, models.ErrInvalidMovement},
		{"unknown kind", models.MovementInput{ProductId: 1, Kind: "GIFT", Quantity: 1}, models.ErrUnknownMovementKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestStockMovementBeforeSave(t *testing.T) {
	ok := &models.StockMovement{Kind: models.MovementKindSale, Quantity: 3, PreviousQuantity: 5, NewQuantity: 2}
	assert.NoError(t, ok.BeforeSave(nil))

	wrong := &models.StockMovement{Kind: models.MovementKindSale, Quantity: 3, PreviousQuantity: 5, NewQuantity: 3}
	assert.ErrorIs(t, wrong.BeforeSave(nil), models.ErrInvalidMovement)

	clamped := &models.StockMovement{Kind: models.MovementKindDamage, Quantity: 4, PreviousQuantity: 2, NewQuantity: 0, IsClamped: true}
	assert.NoError(t, clamped.BeforeSave(nil))

	negative := &models.StockMovement{Kind: models.MovementKindDamage, Quantity: 4, PreviousQuantity: 2, NewQuantity: -2}
	assert.ErrorIs(t, negative.BeforeSave(nil), models.ErrInvalidMovement)
}

func TestComputeAvailability(t *testing.T) {
	rec := models.StockRecord{ProductId: 3, OnHandQuantity: 3, LowStockThreshold: 3, TrackQuantity: true}
	a := models.ComputeAvailability(rec, 1)
	assert.Equal(t, 2, a.Available)
	assert.True(t, a.IsLow)
	assert.False(t, a.IsOut)

	rec.OnHandQuantity = 0
	a = models.ComputeAvailability(rec, 0)
	assert.True(t, a.IsOut)
	assert.False(t, a.IsLow, "zero on hand is out, not low")
}

func TestNotificationsForTransition(t *testing.T) {
	rec := models.StockRecord{ProductId: 1, LowStockThreshold: 3}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		prev, next int
		want       []models.StockNotificationKind
	}{
		{"enter low", 5, 3, []models.StockNotificationKind{models.StockNotificationKindLowStock}},
		{"stay low", 3, 2, nil},
		{"enter out from low", 2, 0, []models.StockNotificationKind{models.StockNotificationKindOutOfStock}},
		{"enter out from healthy", 10, 0, []models.StockNotificationKind{models.StockNotificationKindOutOfStock}},
		{"stay out", 0, 0, nil},
		{"recover", 0, 10, nil},
		{"out to low", 0, 2, []models.StockNotificationKind{models.StockNotificationKindLowStock}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := models.NotificationsForTransition(rec, tc.prev, tc.next, 7, at, "req-1")
			var kinds []models.StockNotificationKind
			for _, n := range got {
				kinds = append(kinds, n.Kind)
				assert.Equal(t, models.OutboxPublishStatusPending, n.PublishStatus)
				assert.Equal(t, tc.next, n.OnHandQuantity)
				assert.Equal(t, 7, n.MovementId)
			}
			assert.Equal(t, tc.want, kinds)
		})
	}
}

func TestNewDriftNotification(t *testing.T) {
	rec := models.StockRecord{ProductId: 4, LowStockThreshold: 1}
	m := models.StockMovement{ID: 9, Kind: models.MovementKindDamage, Quantity: 6, PreviousQuantity: 2, NewQuantity: 0, IsClamped: true}
	n, err := models.NewDriftNotification(rec, m, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, models.StockNotificationKindDrift, n.Kind)

	var payload models.DriftPayload
	require.NoError(t, json.Unmarshal(n.Payload, &payload))
	assert.Equal(t, models.DriftPayload{PreviousQuantity: 2, RequestedQuantity: 6, Kind: "DAMAGE"}, payload)
}

func TestAppendOnlyGuard(t *testing.T) {
	db := openDB(t)
	m := models.StockMovement{ProductId: 1, Kind: models.MovementKindRestock, Quantity: 2, PreviousQuantity: 0, NewQuantity: 2}
	require.NoError(t, db.Create(&m).Error)

	err := db.Model(&models.StockMovement{}).Where("id = ?", m.ID).Update("reason", "edited").Error
	assert.ErrorIs(t, err, config.ErrAppendOnlyViolation)
	err = db.Where("id = ?", m.ID).Delete(&models.StockMovement{}).Error
	assert.ErrorIs(t, err, config.ErrAppendOnlyViolation)

	r := models.Reservation{ID: "r-1", ProductId: 1, HolderRef: "cart-a", Quantity: 1,
		Status: models.ReservationStatusActive, ExpiresAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, db.Create(&r).Error)
	err = db.Where("id = ?", r.ID).Delete(&models.Reservation{}).Error
	assert.ErrorIs(t, err, config.ErrAppendOnlyViolation)

	// Reservations change state in place.
	ok, err := models.MarkReservationTerminal(db, r.ID, models.TerminalUpdate{Status: models.ReservationStatusReleased, At: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, ok)
}
