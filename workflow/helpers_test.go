package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq int64

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[int]ProductInfo
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: map[int]ProductInfo{}}
}

func (c *fakeCatalog) Set(info ProductInfo) {
	c.mu.Lock()
	c.products[info.ProductId] = info
	c.mu.Unlock()
}

// GetProduct defaults to an active, tracked product.
func (c *fakeCatalog) GetProduct(_ context.Context, productId int) (ProductInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.products[productId]; ok {
		return p, nil
	}
	return ProductInfo{ProductId: productId, IsActive: true, TrackQuantity: true}, nil
}

// fatalT is the part of testing.TB the fixtures use; *rapid.T satisfies it too.
type fatalT interface {
	Helper()
	Fatalf(format string, args ...any)
}

// openTestDB returns a private in-memory sqlite database on a single connection,
// so concurrent transactions run one after another.
func openTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, closeDB := openScratchDB(t)
	t.Cleanup(closeDB)
	return db
}

// openScratchDB is openTestDB for callers without Cleanup; the caller closes it.
func openScratchDB(t fatalT) (*gorm.DB, func()) {
	t.Helper()
	dsn := fmt.Sprintf("file:stock_ledger_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), config.NewGormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	closeDB := func() { _ = sqlDB.Close() }

	config.InstallPlugins(db)
	if err := models.MigrateTable(db); err != nil {
		closeDB()
		t.Fatalf("migrate: %v", err)
	}
	return db, closeDB
}

type testEnv struct {
	svc     *StockService
	db      *gorm.DB
	clock   *testClock
	catalog *fakeCatalog
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	return newEnvOn(openTestDB(t))
}

// newScratchEnv is newTestEnv for callers without Cleanup; the caller closes it.
func newScratchEnv(t fatalT) (*testEnv, func()) {
	t.Helper()
	db, closeDB := openScratchDB(t)
	return newEnvOn(db), closeDB
}

func newEnvOn(db *gorm.DB) *testEnv {
	clock := newTestClock()
	catalog := newFakeCatalog()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	svc := NewStockService(db, logger, catalog, config.DefaultSettings())
	svc.Now = clock.Now
	return &testEnv{svc: svc, db: db, clock: clock, catalog: catalog}
}

func (e *testEnv) seed(t fatalT, productId, onHand, threshold int) {
	t.Helper()
	if _, err := e.svc.EnsureStockRecord(context.Background(), StockRecordInput{
		ProductId:         productId,
		InitialQuantity:   onHand,
		LowStockThreshold: threshold,
		TrackQuantity:     true,
	}); err != nil {
		t.Fatalf("seed product %d: %v", productId, err)
	}
}

func (e *testEnv) record(t fatalT, productId int) models.StockRecord {
	t.Helper()
	rec, err := models.FetchStockRecord(e.db, productId)
	if err != nil {
		t.Fatalf("fetch stock record %d: %v", productId, err)
	}
	return *rec
}

func (e *testEnv) reserve(t fatalT, productId, qty int, holder string) ReserveResult {
	t.Helper()
	res, err := e.svc.Reserve(context.Background(), ReserveRequest{
		ProductId:  productId,
		Quantity:   qty,
		HolderRef:  holder,
		TTLMinutes: 15,
	})
	if err != nil {
		t.Fatalf("reserve(%d, %d, %s): %v", productId, qty, holder, err)
	}
	return res
}

// assertLedgerInvariants checks cached reserved against the live aggregate and that
// availability never goes negative.
func (e *testEnv) assertLedgerInvariants(t fatalT, productId int) {
	t.Helper()
	rec := e.record(t, productId)
	live, err := models.ActiveReservedQuantity(e.db, productId, e.clock.Now())
	if err != nil {
		t.Fatalf("live reserved: %v", err)
	}
	if rec.ReservedQuantity != live {
		t.Fatalf("product %d: cached reserved=%d, live aggregate=%d", productId, rec.ReservedQuantity, live)
	}
	if rec.OnHandQuantity-live < 0 {
		t.Fatalf("product %d: negative availability on_hand=%d reserved=%d", productId, rec.OnHandQuantity, live)
	}
}

func countMovements(t fatalT, db *gorm.DB, productId int, kind models.MovementKind) int {
	t.Helper()
	var n int64
	if err := db.Model(&models.StockMovement{}).Where("product_id = ? AND kind = ?", productId, kind).Count(&n).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	return int(n)
}
