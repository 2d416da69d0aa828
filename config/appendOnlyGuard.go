package config

import (
	"errors"

	"gorm.io/gorm"
)

// ErrAppendOnlyViolation is added to statements that would rewrite the audit trail.
var ErrAppendOnlyViolation = errors.New("append-only table: update/delete not allowed")

// Tables that are never rewritten. Movements are immutable; reservations are
// state-flagged (UPDATE allowed) but never physically deleted.
var (
	immutableTables = map[string]bool{"stock_movements": true}
	noDeleteTables  = map[string]bool{
		"stock_movements":            true,
		"stock_reservations":         true,
		"stock_notification_records": true,
	}
)

// AppendOnlyGuardPlugin rejects UPDATE/DELETE statements against the ledger tables.
//
// NOTE:
// - This does NOT apply to Raw/Exec SQL. Maintenance SQL must be reviewed by hand.
// - Notification outbox rows are mutable (publish status), but never deleted.
type AppendOnlyGuardPlugin struct{}

func NewAppendOnlyGuardPlugin() *AppendOnlyGuardPlugin { return &AppendOnlyGuardPlugin{} }

func (p *AppendOnlyGuardPlugin) Name() string { return "append_only_guard" }

func (p *AppendOnlyGuardPlugin) Initialize(db *gorm.DB) error {
	// Update
	if err := db.Callback().Update().Before("gorm:update").Register("append_only_guard:update", appendOnlyUpdateCallback); err != nil {
		return err
	}
	// Delete
	if err := db.Callback().Delete().Before("gorm:delete").Register("append_only_guard:delete", appendOnlyDeleteCallback); err != nil {
		return err
	}
	return nil
}

func appendOnlyUpdateCallback(db *gorm.DB) {
	if immutableTables[statementTable(db)] {
		_ = db.AddError(ErrAppendOnlyViolation)
	}
}

func appendOnlyDeleteCallback(db *gorm.DB) {
	if noDeleteTables[statementTable(db)] {
		_ = db.AddError(ErrAppendOnlyViolation)
	}
}

func statementTable(db *gorm.DB) string {
	if db == nil || db.Statement == nil {
		return ""
	}
	if db.Statement.Table != "" {
		return db.Statement.Table
	}
	if db.Statement.Schema != nil {
		return db.Statement.Schema.Table
	}
	return ""
}
