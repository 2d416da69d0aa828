package models

import (
	"time"

	"gorm.io/gorm"
)

// ReservationCounts holds raw aggregates behind the reservation statistics report.
type ReservationCounts struct {
	ByStatus       map[ReservationStatus]int
	ActiveCount    int
	ActiveQuantity int
	ActiveHolders  int
	ExpiringSoon   int
}

// CountReservations aggregates reservation rows at now. Unreleased rows past expiry count as EXPIRED.
func CountReservations(db *gorm.DB, now time.Time, soonWindow time.Duration) (ReservationCounts, error) {
	counts := ReservationCounts{ByStatus: map[ReservationStatus]int{
		ReservationStatusActive:    0,
		ReservationStatusReleased:  0,
		ReservationStatusExpired:   0,
		ReservationStatusConverted: 0,
	}}

	type statusRow struct {
		Status ReservationStatus
		Total  int
	}
	var terminal []statusRow
	if err := db.Model(&Reservation{}).
		Where("is_released = ?", true).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&terminal).Error; err != nil {
		return counts, err
	}
	for _, r := range terminal {
		counts.ByStatus[r.Status] += r.Total
	}

	var lapsed int64
	if err := db.Model(&Reservation{}).
		Where("is_released = ? AND expires_at <= ?", false, now).
		Count(&lapsed).Error; err != nil {
		return counts, err
	}
	counts.ByStatus[ReservationStatusExpired] += int(lapsed)

	type activeRow struct {
		Total    int
		Quantity int
		Holders  int
	}
	var active activeRow
	if err := liveReservations(db, now).
		Select("COUNT(*) AS total, COALESCE(SUM(quantity), 0) AS quantity, COUNT(DISTINCT holder_ref) AS holders").
		Scan(&active).Error; err != nil {
		return counts, err
	}
	counts.ActiveCount = active.Total
	counts.ActiveQuantity = active.Quantity
	counts.ActiveHolders = active.Holders
	counts.ByStatus[ReservationStatusActive] = active.Total

	var soon int64
	if err := liveReservations(db, now).
		Where("expires_at <= ?", now.Add(soonWindow)).
		Count(&soon).Error; err != nil {
		return counts, err
	}
	counts.ExpiringSoon = int(soon)
	return counts, nil
}
