package models_test

import (
	"testing"
	"time"

	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := models.Reservation{Status: models.ReservationStatusActive, ExpiresAt: now.Add(time.Minute)}
	assert.True(t, r.IsActiveAt(now))
	assert.Equal(t, models.ReservationStatusActive, r.EffectiveStatus(now))

	// Expiry is exclusive: at expires_at the hold no longer counts.
	assert.False(t, r.IsActiveAt(now.Add(time.Minute)))
	assert.Equal(t, models.ReservationStatusExpired, r.EffectiveStatus(now.Add(time.Minute)))

	r.IsReleased = true
	r.Status = models.ReservationStatusConverted
	assert.Equal(t, models.ReservationStatusConverted, r.EffectiveStatus(now))
	assert.True(t, models.ReservationStatusConverted.IsTerminal())
	assert.False(t, models.ReservationStatusActive.IsTerminal())
}

func TestReservationAggregates(t *testing.T) {
	db := openDB(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rows := []models.Reservation{
		{ID: "a", ProductId: 1, HolderRef: "h1", Quantity: 2, Status: models.ReservationStatusActive, ExpiresAt: now.Add(10 * time.Minute)},
		{ID: "b", ProductId: 1, HolderRef: "h2", Quantity: 3, Status: models.ReservationStatusActive, ExpiresAt: now.Add(2 * time.Minute)},
		{ID: "c", ProductId: 1, HolderRef: "h3", Quantity: 5, Status: models.ReservationStatusActive, ExpiresAt: now.Add(-time.Minute)},
		{ID: "d", ProductId: 2, HolderRef: "h1", Quantity: 4, Status: models.ReservationStatusActive, ExpiresAt: now.Add(time.Minute)},
	}
	require.NoError(t, db.Create(&rows).Error)

	reserved, err := models.ActiveReservedQuantity(db, 1, now)
	require.NoError(t, err)
	assert.Equal(t, 5, reserved, "lapsed hold c is excluded")

	byProduct, err := models.ActiveReservedQuantities(db, []int{1, 2, 3}, now)
	require.NoError(t, err)
	assert.Equal(t, 5, byProduct[1])
	assert.Equal(t, 4, byProduct[2])
	assert.Equal(t, 0, byProduct[3])

	earliest, err := models.EarliestActiveExpiry(db, 1, now)
	require.NoError(t, err)
	require.NotNil(t, earliest)
	assert.True(t, earliest.Equal(now.Add(2*time.Minute)))

	expired, err := models.ExpiredUnreleasedReservations(db, 0, now, 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "c", expired[0].ID)

	n, err := models.ExpireReservations(db, []string{"c", "a"}, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "only lapsed rows are expired")

	holder, err := models.ActiveReservationsByHolder(db, "h1", now)
	require.NoError(t, err)
	assert.Len(t, holder, 2)

	counts, err := models.CountReservations(db, now, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.ActiveCount)
	assert.Equal(t, 9, counts.ActiveQuantity)
	assert.Equal(t, 2, counts.ActiveHolders)
	assert.Equal(t, 2, counts.ExpiringSoon)
	assert.Equal(t, 1, counts.ByStatus[models.ReservationStatusExpired])
}

func TestMarkReservationTerminal_OnlyOnce(t *testing.T) {
	db := openDB(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := models.Reservation{ID: "x", ProductId: 1, HolderRef: "h", Quantity: 1, Status: models.ReservationStatusActive, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, db.Create(&r).Error)

	note := "cancelled"
	ok, err := models.MarkReservationTerminal(db, "x", models.TerminalUpdate{Status: models.ReservationStatusReleased, At: now, Note: &note})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = models.MarkReservationTerminal(db, "x", models.TerminalUpdate{Status: models.ReservationStatusConverted, At: now})
	require.NoError(t, err)
	assert.False(t, ok, "terminal rows never change status again")

	got, err := models.FetchReservation(db, "x")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusReleased, got.Status)
	require.NotNil(t, got.ReleaseNote)
	assert.Equal(t, "cancelled", *got.ReleaseNote)

	_, err = models.FetchReservation(db, "missing")
	assert.ErrorIs(t, err, models.ErrReservationNotFound)

	ok, err = models.ExtendReservation(db, "x", now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveOnHand_VersionConflict(t *testing.T) {
	db := openDB(t)
	rec := models.StockRecord{ProductId: 1, OnHandQuantity: 5, TrackQuantity: true}
	require.NoError(t, db.Create(&rec).Error)

	stale := rec
	require.NoError(t, models.SaveOnHand(db, &rec, 7))
	assert.Equal(t, 1, rec.Version)

	assert.ErrorIs(t, models.SaveOnHand(db, &stale, 9), models.ErrConcurrentUpdateConflict)
	assert.ErrorIs(t, models.BumpStockVersion(db, &stale), models.ErrConcurrentUpdateConflict)

	got, err := models.FetchStockRecord(db, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, got.OnHandQuantity)

	_, err = models.FetchStockRecord(db, 99)
	assert.ErrorIs(t, err, models.ErrStockRecordNotFound)
}
