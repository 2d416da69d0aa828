package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/mmdatafocus/stock_ledger/utils"
	"github.com/mmdatafocus/stock_ledger/workflow"
)

func main() {
	productID := flag.Int("product-id", 0, "Optional: product id (default all products)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing products and continue with others")
	flag.Parse()

	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "settings: %v\n", err)
		os.Exit(1)
	}
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry(1)

	service := workflow.NewStockService(db, config.GetLogger(), nil, settings).
		WithRedis(config.GetRedisDB(), config.GetRedisLock())
	ctx := utils.SetActorInContext(context.Background(), "reserved-recompute")

	var productIds []int
	if *productID > 0 {
		productIds = []int{*productID}
	} else if err := db.Model(&models.StockRecord{}).Order("product_id ASC").Pluck("product_id", &productIds).Error; err != nil {
		fmt.Fprintf(os.Stderr, "list products: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, id := range productIds {
		reserved, err := service.RecomputeReserved(ctx, id)
		if err != nil {
			failed++
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "recompute product=%d failed (skipping): %v\n", id, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "recompute product=%d failed: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("product=%d reserved=%d\n", id, reserved)
	}
	fmt.Printf("done products=%d failed=%d\n", len(productIds), failed)
	if failed > 0 {
		os.Exit(1)
	}
}
