package models

import (
	"encoding/json"
	"time"

	"github.com/mmdatafocus/stock_ledger/config"
	"gorm.io/gorm"
)

// StockNotificationRecord is the outbox row for stock alerts.
// It is inserted in the same transaction as the movement that caused it; publishing happens after commit.
type StockNotificationRecord struct {
	ID             int                   `gorm:"primary_key;index:idx_stock_outbox_dispatch,priority:3" json:"id"`
	ProductId      int                   `gorm:"not null;index" json:"product_id"`
	Kind           StockNotificationKind `gorm:"size:20;not null;index" json:"kind"`
	OnHandQuantity int                   `gorm:"not null" json:"on_hand_quantity"`
	Threshold      int                   `gorm:"not null" json:"threshold"`
	MovementId     int                   `gorm:"index" json:"movement_id"`
	Payload        []byte                `gorm:"type:blob" json:"payload"`
	OccurredAt     time.Time             `gorm:"not null" json:"occurred_at"`
	// Outbox metadata (dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_stock_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	TransportId      *string    `gorm:"size:255" json:"transport_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_stock_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// DriftPayload is stored on STOCK_DRIFT rows.
type DriftPayload struct {
	PreviousQuantity  int    `json:"previous_quantity"`
	RequestedQuantity int    `json:"requested_quantity"`
	Kind              string `json:"kind"`
}

func ConvertToNotificationMessage(record StockNotificationRecord) config.StockNotificationMessage {
	return config.StockNotificationMessage{
		ID:             record.ID,
		ProductId:      record.ProductId,
		Kind:           string(record.Kind),
		OnHandQuantity: record.OnHandQuantity,
		Threshold:      record.Threshold,
		MovementId:     record.MovementId,
		Payload:        record.Payload,
		CorrelationId:  record.CorrelationId,
		OccurredAt:     record.OccurredAt,
	}
}

// NotificationsForTransition returns the alerts a movement from prev to next on-hand produces.
// Only entering a state raises an alert; staying low or staying out does not.
func NotificationsForTransition(rec StockRecord, prev int, next int, movementId int, at time.Time, correlationId string) []StockNotificationRecord {
	var out []StockNotificationRecord
	base := StockNotificationRecord{
		ProductId:      rec.ProductId,
		OnHandQuantity: next,
		Threshold:      rec.LowStockThreshold,
		MovementId:     movementId,
		OccurredAt:     at,
		PublishStatus:  OutboxPublishStatusPending,
		CorrelationId:  correlationId,
	}
	if next == 0 && prev != 0 {
		n := base
		n.Kind = StockNotificationKindOutOfStock
		out = append(out, n)
	} else if IsLowStock(next, rec.LowStockThreshold) && !IsLowStock(prev, rec.LowStockThreshold) {
		n := base
		n.Kind = StockNotificationKindLowStock
		out = append(out, n)
	}
	return out
}

// NewDriftNotification builds the alert written when an outbound movement had to be floored at zero.
func NewDriftNotification(rec StockRecord, movement StockMovement, at time.Time) (StockNotificationRecord, error) {
	payload, err := json.Marshal(DriftPayload{
		PreviousQuantity:  movement.PreviousQuantity,
		RequestedQuantity: movement.Quantity,
		Kind:              string(movement.Kind),
	})
	if err != nil {
		return StockNotificationRecord{}, err
	}
	return StockNotificationRecord{
		ProductId:      rec.ProductId,
		Kind:           StockNotificationKindDrift,
		OnHandQuantity: movement.NewQuantity,
		Threshold:      rec.LowStockThreshold,
		MovementId:     movement.ID,
		Payload:        payload,
		OccurredAt:     at,
		PublishStatus:  OutboxPublishStatusPending,
		CorrelationId:  movement.CorrelationId,
	}, nil
}

// PendingNotifications lists rows not yet delivered, oldest first.
func PendingNotifications(db *gorm.DB, productId int) ([]StockNotificationRecord, error) {
	var rows []StockNotificationRecord
	q := db.Where("publish_status IN ?", []string{OutboxPublishStatusPending, OutboxPublishStatusFailed, OutboxPublishStatusProcessing})
	if productId > 0 {
		q = q.Where("product_id = ?", productId)
	}
	err := q.Order("id ASC").Find(&rows).Error
	return rows, err
}
