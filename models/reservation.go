package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Reservation is a time-boxed hold. ProductId and Quantity never change after insert;
// a holder changing quantity gets a new row and the old one is released.
type Reservation struct {
	ID         string            `gorm:"primaryKey;size:36" json:"id"`
	ProductId  int               `gorm:"not null;index:idx_reservation_live,priority:1" json:"product_id"`
	HolderRef  string            `gorm:"size:100;not null;index" json:"holder_ref"`
	Quantity   int               `gorm:"not null" json:"quantity"`
	Reason     string            `gorm:"size:255" json:"reason"`
	Status     ReservationStatus `gorm:"size:20;not null;index" json:"status"`
	IsReleased bool              `gorm:"not null;default:false;index:idx_reservation_live,priority:2" json:"is_released"`
	ExpiresAt  time.Time         `gorm:"not null;index:idx_reservation_live,priority:3" json:"expires_at"`
	ReleasedAt *time.Time        `gorm:"index" json:"released_at"`
	// ReleaseNote says why a RELEASED row ended ("cancelled", "replaced").
	ReleaseNote *string `gorm:"size:255" json:"release_note"`
	// Settlement is set only for CONVERTED rows.
	SettlementReference  *string   `gorm:"size:100;index" json:"settlement_reference"`
	SettlementMovementId *int      `json:"settlement_movement_id"`
	ReplacedById         *string   `gorm:"size:36" json:"replaced_by_id"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reservation) TableName() string {
	return "stock_reservations"
}

// IsActiveAt applies the lazy expiry rule: an unreleased row past ExpiresAt is not active.
func (r Reservation) IsActiveAt(now time.Time) bool {
	return !r.IsReleased && r.ExpiresAt.After(now)
}

// EffectiveStatus reports EXPIRED for unreleased rows the sweep has not reached yet.
func (r Reservation) EffectiveStatus(now time.Time) ReservationStatus {
	if !r.IsReleased && !r.ExpiresAt.After(now) {
		return ReservationStatusExpired
	}
	return r.Status
}

func liveReservations(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Model(&Reservation{}).Where("is_released = ? AND expires_at > ?", false, now)
}

// ActiveReservedQuantity is the live aggregate the cached reserved counter must equal.
func ActiveReservedQuantity(db *gorm.DB, productId int, now time.Time) (int, error) {
	var total int
	err := liveReservations(db, now).
		Where("product_id = ?", productId).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	return total, err
}

// ActiveReservedQuantities returns the live aggregate per product; products without holds are absent.
func ActiveReservedQuantities(db *gorm.DB, productIds []int, now time.Time) (map[int]int, error) {
	type row struct {
		ProductId int
		Total     int
	}
	var rows []row
	result := make(map[int]int, len(productIds))
	if len(productIds) == 0 {
		return result, nil
	}
	if err := liveReservations(db, now).
		Where("product_id IN ?", productIds).
		Select("product_id, COALESCE(SUM(quantity), 0) AS total").
		Group("product_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		result[r.ProductId] = r.Total
	}
	return result, nil
}

// EarliestActiveExpiry returns nil when the product has no live holds.
func EarliestActiveExpiry(db *gorm.DB, productId int, now time.Time) (*time.Time, error) {
	var rows []Reservation
	if err := liveReservations(db, now).
		Where("product_id = ?", productId).
		Order("expires_at ASC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t := rows[0].ExpiresAt
	return &t, nil
}

// FindUnreleasedReservation returns the unreleased row of (product, holder), expired or not, or nil.
func FindUnreleasedReservation(db *gorm.DB, productId int, holderRef string) (*Reservation, error) {
	var rows []Reservation
	if err := db.Where("product_id = ? AND holder_ref = ? AND is_released = ?", productId, holderRef, false).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func FetchReservation(db *gorm.DB, id string) (*Reservation, error) {
	var r Reservation
	if err := db.Where("id = ?", id).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &r, nil
}

// ActiveReservationsByHolder lists live holds of a holder, oldest first.
func ActiveReservationsByHolder(db *gorm.DB, holderRef string, now time.Time) ([]Reservation, error) {
	var rows []Reservation
	err := db.Where("holder_ref = ? AND is_released = ? AND expires_at > ?", holderRef, false, now).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// UnreleasedReservationsByHolder includes rows past expiry that the sweep has not reached.
func UnreleasedReservationsByHolder(db *gorm.DB, holderRef string) ([]Reservation, error) {
	var rows []Reservation
	err := db.Where("holder_ref = ? AND is_released = ?", holderRef, false).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// ExpiredUnreleasedReservations returns rows the sweep should reclaim.
// productId 0 means all products; limit 0 means no limit.
func ExpiredUnreleasedReservations(db *gorm.DB, productId int, now time.Time, limit int) ([]Reservation, error) {
	var rows []Reservation
	q := db.Where("is_released = ? AND expires_at <= ?", false, now)
	if productId > 0 {
		q = q.Where("product_id = ?", productId)
	}
	q = q.Order("expires_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// ExpireReservations marks the given unreleased, lapsed rows EXPIRED in one statement.
func ExpireReservations(tx *gorm.DB, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	at := now
	res := tx.Model(&Reservation{}).
		Where("id IN ? AND is_released = ? AND expires_at <= ?", ids, false, now).
		Updates(map[string]interface{}{
			"status":      ReservationStatusExpired,
			"is_released": true,
			"released_at": &at,
		})
	return res.RowsAffected, res.Error
}

// TerminalUpdate describes the columns written when a reservation leaves ACTIVE.
type TerminalUpdate struct {
	Status               ReservationStatus
	At                   time.Time
	Note                 *string
	SettlementReference  *string
	SettlementMovementId *int
	ReplacedById         *string
}

// MarkReservationTerminal flips an unreleased row to a terminal state.
// Returns false when another operation already released it (first commit wins).
func MarkReservationTerminal(tx *gorm.DB, id string, u TerminalUpdate) (bool, error) {
	if !u.Status.IsTerminal() {
		return false, errors.New("terminal status required")
	}
	at := u.At
	updates := map[string]interface{}{
		"status":      u.Status,
		"is_released": true,
		"released_at": &at,
	}
	if u.Note != nil {
		updates["release_note"] = u.Note
	}
	if u.SettlementReference != nil {
		updates["settlement_reference"] = u.SettlementReference
	}
	if u.SettlementMovementId != nil {
		updates["settlement_movement_id"] = u.SettlementMovementId
	}
	if u.ReplacedById != nil {
		updates["replaced_by_id"] = u.ReplacedById
	}
	res := tx.Model(&Reservation{}).
		Where("id = ? AND is_released = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExtendReservation moves ExpiresAt of a live row. Returns false when the row is no longer live.
func ExtendReservation(tx *gorm.DB, id string, now time.Time, newExpiry time.Time) (bool, error) {
	res := tx.Model(&Reservation{}).
		Where("id = ? AND is_released = ? AND expires_at > ?", id, false, now).
		Update("expires_at", newExpiry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
