package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

type MovementDirection string

const (
	MovementDirectionInbound  MovementDirection = "IN"
	MovementDirectionOutbound MovementDirection = "OUT"
)

// MovementKind is a closed set. New kinds must be added to movementKindSpecs.
type MovementKind string

const (
	MovementKindInitial         MovementKind = "INITIAL"
	MovementKindRestock         MovementKind = "RESTOCK"
	MovementKindReturn          MovementKind = "RETURN"
	MovementKindTransferIn      MovementKind = "TRANSFER_IN"
	MovementKindAdjustmentIn    MovementKind = "ADJUSTMENT_IN"
	MovementKindSale            MovementKind = "SALE"
	MovementKindTransferOut     MovementKind = "TRANSFER_OUT"
	MovementKindDamage          MovementKind = "DAMAGE"
	MovementKindTheft           MovementKind = "THEFT"
	MovementKindExpiredWriteOff MovementKind = "EXPIRED_WRITE_OFF"
	MovementKindAdjustmentOut   MovementKind = "ADJUSTMENT_OUT"
)

type movementKindSpec struct {
	direction         MovementDirection
	requiresReference bool
	requiresReason    bool
}

var movementKindSpecs = map[MovementKind]movementKindSpec{
	MovementKindInitial:         {direction: MovementDirectionInbound},
	MovementKindRestock:         {direction: MovementDirectionInbound},
	MovementKindReturn:          {direction: MovementDirectionInbound, requiresReference: true},
	MovementKindTransferIn:      {direction: MovementDirectionInbound, requiresReference: true},
	MovementKindAdjustmentIn:    {direction: MovementDirectionInbound, requiresReason: true},
	MovementKindSale:            {direction: MovementDirectionOutbound, requiresReference: true},
	MovementKindTransferOut:     {direction: MovementDirectionOutbound, requiresReference: true},
	MovementKindDamage:          {direction: MovementDirectionOutbound, requiresReason: true},
	MovementKindTheft:           {direction: MovementDirectionOutbound, requiresReason: true},
	MovementKindExpiredWriteOff: {direction: MovementDirectionOutbound, requiresReason: true},
	MovementKindAdjustmentOut:   {direction: MovementDirectionOutbound, requiresReason: true},
}

// AllMovementKinds in declaration order.
func AllMovementKinds() []MovementKind {
	return []MovementKind{
		MovementKindInitial, MovementKindRestock, MovementKindReturn, MovementKindTransferIn, MovementKindAdjustmentIn,
		MovementKindSale, MovementKindTransferOut, MovementKindDamage, MovementKindTheft, MovementKindExpiredWriteOff, MovementKindAdjustmentOut,
	}
}

func ParseMovementKind(s string) (MovementKind, error) {
	k := MovementKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMovementKind, s)
	}
	return k, nil
}

func (k MovementKind) IsValid() bool {
	_, ok := movementKindSpecs[k]
	return ok
}

func (k MovementKind) Direction() MovementDirection {
	return movementKindSpecs[k].direction
}

func (k MovementKind) IsOutbound() bool {
	return k.Direction() == MovementDirectionOutbound
}

func (k MovementKind) RequiresReference() bool {
	return movementKindSpecs[k].requiresReference
}

func (k MovementKind) RequiresReason() bool {
	return movementKindSpecs[k].requiresReason
}

// Value implements the driver.Valuer interface. Unknown kinds never reach the database.
func (k MovementKind) Value() (driver.Value, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMovementKind, string(k))
	}
	return string(k), nil
}

// Scan implements the sql.Scanner interface
func (k *MovementKind) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot convert %T to MovementKind", value)
	}
	parsed, err := ParseMovementKind(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k *MovementKind) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseMovementKind(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
	ReservationStatusConverted ReservationStatus = "CONVERTED"
)

func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationStatusReleased || s == ReservationStatusExpired || s == ReservationStatusConverted
}

type StockNotificationKind string

const (
	StockNotificationKindLowStock   StockNotificationKind = "LOW_STOCK"
	StockNotificationKindOutOfStock StockNotificationKind = "OUT_OF_STOCK"
	StockNotificationKindDrift      StockNotificationKind = "STOCK_DRIFT"
)

// Reference types used in Movement.ReferenceType.
const (
	ReferenceTypeOrder       = "order"
	ReferenceTypeHolder      = "holder"
	ReferenceTypePurchase    = "purchase"
	ReferenceTypeTransfer    = "transfer"
	ReferenceTypeStockRecord = "stock_record"
)
