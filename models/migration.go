package models

import (
	"gorm.io/gorm"
)

// AllTables lists every table owned by the stock ledger, in migration order.
func AllTables() []interface{} {
	return []interface{}{
		&StockRecord{},
		&StockMovement{},
		&Reservation{},
		&StockNotificationRecord{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllTables()...)
}
