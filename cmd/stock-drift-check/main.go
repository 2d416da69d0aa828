package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/workflow"
)

func main() {
	asJSON := flag.Bool("json", false, "Print findings as JSON")
	fix := flag.Bool("fix-reserved", false, "Recompute cached reserved for products with RESERVED_DRIFT")
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

	ctx := context.Background()
	service := workflow.NewStockService(db, config.GetLogger(), nil, settings)
	findings, err := service.CheckLedgerInvariants(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(findings)
	} else {
		for _, f := range findings {
			fmt.Printf("product=%d issue=%s expected=%d actual=%d detail=%q\n", f.ProductId, f.Issue, f.Expected, f.Actual, f.Detail)
		}
		fmt.Printf("findings=%d\n", len(findings))
	}

	if *fix {
		for _, f := range findings {
			if f.Issue != workflow.LedgerIssueReservedDrift {
				continue
			}
			if _, err := service.RecomputeReserved(ctx, f.ProductId); err != nil {
				fmt.Fprintf(os.Stderr, "recompute product=%d failed: %v\n", f.ProductId, err)
			}
		}
	}
	if len(findings) > 0 {
		os.Exit(2)
	}
}
