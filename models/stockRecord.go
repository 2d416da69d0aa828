package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockRecord is the authoritative per-product counter row.
// ReservedQuantity is a cache of the live reservation aggregate; never adjust it by delta.
type StockRecord struct {
	ID                int       `gorm:"primary_key" json:"id"`
	ProductId         int       `gorm:"uniqueIndex;not null" json:"product_id"`
	OnHandQuantity    int       `gorm:"not null;default:0" json:"on_hand_quantity"`
	ReservedQuantity  int       `gorm:"not null;default:0" json:"reserved_quantity"`
	LowStockThreshold int       `gorm:"not null;default:0" json:"low_stock_threshold"`
	TrackQuantity     bool      `gorm:"not null;index" json:"track_quantity"`
	Version           int       `gorm:"not null;default:0" json:"version"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Availability is the read model returned by the ledger and the availability query.
type Availability struct {
	ProductId     int  `json:"product_id"`
	OnHand        int  `json:"on_hand"`
	Reserved      int  `json:"reserved"`
	Available     int  `json:"available"`
	IsLow         bool `json:"is_low"`
	IsOut         bool `json:"is_out"`
	TrackQuantity bool `json:"track_quantity"`
}

// ComputeAvailability derives the read model from on-hand and a live reserved aggregate.
func ComputeAvailability(rec StockRecord, liveReserved int) Availability {
	return Availability{
		ProductId:     rec.ProductId,
		OnHand:        rec.OnHandQuantity,
		Reserved:      liveReserved,
		Available:     rec.OnHandQuantity - liveReserved,
		IsLow:         IsLowStock(rec.OnHandQuantity, rec.LowStockThreshold),
		IsOut:         rec.OnHandQuantity == 0,
		TrackQuantity: rec.TrackQuantity,
	}
}

func IsLowStock(onHand, threshold int) bool {
	return onHand > 0 && onHand <= threshold
}

func FetchStockRecord(db *gorm.DB, productId int) (*StockRecord, error) {
	var rec StockRecord
	if err := db.Where("product_id = ?", productId).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStockRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// LockStockRecord loads the row with SELECT ... FOR UPDATE.
// Dialects without row locks (sqlite) ignore the locking clause.
func LockStockRecord(tx *gorm.DB, productId int) (*StockRecord, error) {
	var rec StockRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ?", productId).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStockRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// SaveOnHand writes a new on-hand value guarded by the row version.
// A lost race surfaces as ErrConcurrentUpdateConflict.
func SaveOnHand(tx *gorm.DB, rec *StockRecord, newOnHand int) error {
	res := tx.Model(&StockRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]interface{}{
			"on_hand_quantity": newOnHand,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrConcurrentUpdateConflict
	}
	rec.OnHandQuantity = newOnHand
	rec.Version++
	return nil
}

// BumpStockVersion claims the row for a reservation change without touching on-hand.
func BumpStockVersion(tx *gorm.DB, rec *StockRecord) error {
	res := tx.Model(&StockRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Update("version", gorm.Expr("version + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrConcurrentUpdateConflict
	}
	rec.Version++
	return nil
}

// StockRecordsByProductIds returns records keyed by product id; missing products are absent.
func StockRecordsByProductIds(db *gorm.DB, productIds []int) (map[int]StockRecord, error) {
	result := make(map[int]StockRecord, len(productIds))
	if len(productIds) == 0 {
		return result, nil
	}
	var rows []StockRecord
	if err := db.Where("product_id IN ?", productIds).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		result[r.ProductId] = r
	}
	return result, nil
}

// SaveReservedQuantity overwrites the cached reserved value. It is a pure set, so repeating it is harmless.
func SaveReservedQuantity(tx *gorm.DB, productId int, reserved int) error {
	return tx.Model(&StockRecord{}).
		Where("product_id = ?", productId).
		Update("reserved_quantity", reserved).Error
}

// LowStockRecords lists tracked products with 0 < on_hand <= threshold.
func LowStockRecords(db *gorm.DB) ([]StockRecord, error) {
	var rows []StockRecord
	err := db.Where("track_quantity = ? AND on_hand_quantity > 0 AND on_hand_quantity <= low_stock_threshold", true).
		Order("on_hand_quantity ASC, product_id ASC").
		Find(&rows).Error
	return rows, err
}

// OutOfStockRecords lists tracked products with nothing on hand.
func OutOfStockRecords(db *gorm.DB) ([]StockRecord, error) {
	var rows []StockRecord
	err := db.Where("track_quantity = ? AND on_hand_quantity = 0", true).
		Order("product_id ASC").
		Find(&rows).Error
	return rows, err
}
