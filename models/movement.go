package models

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/stock_ledger/utils"
	"gorm.io/gorm"
)

// StockMovement is one append-only audit row per on-hand change.
// There is no UpdatedAt: rows are never updated (enforced by config.AppendOnlyGuardPlugin).
type StockMovement struct {
	ID               int          `gorm:"primary_key" json:"id"`
	ProductId        int          `gorm:"index;not null" json:"product_id"`
	Kind             MovementKind `gorm:"size:32;not null;index" json:"kind"`
	Quantity         int          `gorm:"not null" json:"quantity"`
	PreviousQuantity int          `gorm:"not null" json:"previous_quantity"`
	NewQuantity      int          `gorm:"not null" json:"new_quantity"`
	ReferenceType    string       `gorm:"size:32;index:idx_movement_reference,priority:1" json:"reference_type"`
	ReferenceId      string       `gorm:"size:100;index:idx_movement_reference,priority:2" json:"reference_id"`
	Reason           string       `gorm:"type:text" json:"reason"`
	Actor            string       `gorm:"size:100" json:"actor"`
	// IsClamped marks an outbound row whose result was floored at zero (prior drift).
	IsClamped     bool      `gorm:"not null;default:false" json:"is_clamped"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// BeforeSave enforces internal invariants for the movement ledger.
//
// We ensure:
// - Kind is one of the closed set
// - Quantity is positive and NewQuantity is never negative
// - NewQuantity matches PreviousQuantity +/- Quantity (outbound may be floored at 0 when IsClamped)
func (m *StockMovement) BeforeSave(tx *gorm.DB) error {
	if m == nil {
		return nil
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownMovementKind, string(m.Kind))
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidMovement)
	}
	if m.NewQuantity < 0 {
		return fmt.Errorf("%w: new quantity %d is negative", ErrInvalidMovement, m.NewQuantity)
	}
	expected := m.PreviousQuantity + m.Quantity
	if m.Kind.IsOutbound() {
		expected = m.PreviousQuantity - m.Quantity
		if m.IsClamped {
			expected = 0
		}
	}
	if m.NewQuantity != expected {
		return fmt.Errorf("%w: new quantity %d, expected %d", ErrInvalidMovement, m.NewQuantity, expected)
	}
	return nil
}

type MovementReference struct {
	Type string `json:"type" validate:"max=32"`
	Id   string `json:"id" validate:"max=100"`
}

func (r MovementReference) IsZero() bool {
	return r.Type == "" && r.Id == ""
}

// MovementInput is the request shape of Ledger.ApplyMovement.
type MovementInput struct {
	ProductId int               `json:"product_id" validate:"required,gt=0"`
	Kind      MovementKind      `json:"kind" validate:"required"`
	Quantity  int               `json:"quantity" validate:"required,gt=0"`
	Reason    string            `json:"reason" validate:"max=500"`
	Actor     string            `json:"actor" validate:"max=100"`
	Reference MovementReference `json:"reference"`
}

// Validate checks struct tags, then the per-kind required fields.
func (in MovementInput) Validate() error {
	if !in.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownMovementKind, string(in.Kind))
	}
	if err := utils.ValidateStruct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMovement, err)
	}
	if in.Kind.RequiresReference() && (in.Reference.Type == "" || in.Reference.Id == "") {
		return fmt.Errorf("%w: %s requires a reference", ErrInvalidMovement, in.Kind)
	}
	if in.Kind.RequiresReason() && in.Reason == "" {
		return fmt.Errorf("%w: %s requires a reason", ErrInvalidMovement, in.Kind)
	}
	return nil
}

// MovementHistory returns the newest movements of a product first. limit <= 0 means 50.
func MovementHistory(db *gorm.DB, productId int, limit int) ([]StockMovement, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []StockMovement
	err := db.Where("product_id = ?", productId).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// LastMovement returns nil when the product has no movements.
func LastMovement(db *gorm.DB, productId int) (*StockMovement, error) {
	var rows []StockMovement
	if err := db.Where("product_id = ?", productId).Order("id DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
