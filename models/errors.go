package models

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrReservationNotFound      = errors.New("reservation not found")
	ErrReservationTerminal      = errors.New("reservation already released")
	ErrProductIneligible        = errors.New("product is inactive or not tracked")
	ErrConcurrentUpdateConflict = errors.New("concurrent update conflict")
	ErrUnknownMovementKind      = errors.New("unknown movement kind")
	ErrInvalidMovement          = errors.New("invalid movement")
	ErrStockRecordNotFound      = errors.New("stock record not found")
)

// InsufficientStockError carries the availability seen at decision time.
type InsufficientStockError struct {
	ProductId int
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductId, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
