package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/workflow"
)

func main() {
	productID := flag.Int("product-id", 0, "Required: product id")
	limit := flag.Int("limit", 1000, "Optional: number of newest movements")
	out := flag.String("out", "movements.xlsx", "Optional: output file")
	flag.Parse()

	if *productID <= 0 {
		fmt.Fprintln(os.Stderr, "--product-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *out, err)
		os.Exit(1)
	}
	defer f.Close()

	service := workflow.NewStockService(db, config.GetLogger(), nil, config.DefaultSettings())
	n, err := service.ExportMovementHistory(context.Background(), *productID, *limit, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported product=%d movements=%d to %s\n", *productID, n, *out)
}
