package workflow

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/stock_ledger/models"
	"gorm.io/gorm"
)

// availabilityReader batches availability reads for many products into two queries.
type availabilityReader struct {
	db  *gorm.DB
	now time.Time
}

func (r *availabilityReader) getAvailabilities(ctx context.Context, productIds []int) []*dataloader.Result[*models.Availability] {
	db := r.db.WithContext(ctx)
	records, err := models.StockRecordsByProductIds(db, productIds)
	if err != nil {
		return handleError[*models.Availability](len(productIds), err)
	}
	reserved, err := models.ActiveReservedQuantities(db, productIds, r.now)
	if err != nil {
		return handleError[*models.Availability](len(productIds), err)
	}

	results := make([]*dataloader.Result[*models.Availability], 0, len(productIds))
	for _, id := range productIds {
		rec, ok := records[id]
		if !ok {
			results = append(results, &dataloader.Result[*models.Availability]{Error: models.ErrStockRecordNotFound})
			continue
		}
		a := models.ComputeAvailability(rec, reserved[id])
		results = append(results, &dataloader.Result[*models.Availability]{Data: &a})
	}
	return results
}

func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// newAvailabilityLoader is built per call, so its cache never outlives one bulk read.
func newAvailabilityLoader(db *gorm.DB, now time.Time) *dataloader.Loader[int, *models.Availability] {
	reader := &availabilityReader{db: db, now: now}
	return dataloader.NewBatchedLoader(reader.getAvailabilities, dataloader.WithWait[int, *models.Availability](time.Millisecond))
}
