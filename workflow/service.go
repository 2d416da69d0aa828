package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("stock-ledger")

// ProductInfo is what the catalog tells us about a product.
type ProductInfo struct {
	ProductId     int
	IsActive      bool
	TrackQuantity bool
}

// Catalog is the product catalog collaborator.
type Catalog interface {
	GetProduct(ctx context.Context, productId int) (ProductInfo, error)
}

// RecordCatalog treats every product that has a stock record as active.
// It is the catalog used by the operational binaries, which never see the storefront catalog.
type RecordCatalog struct {
	DB *gorm.DB
}

func (c RecordCatalog) GetProduct(ctx context.Context, productId int) (ProductInfo, error) {
	rec, err := models.FetchStockRecord(c.DB.WithContext(ctx), productId)
	if errors.Is(err, models.ErrStockRecordNotFound) {
		return ProductInfo{ProductId: productId}, nil
	}
	if err != nil {
		return ProductInfo{}, err
	}
	return ProductInfo{ProductId: productId, IsActive: true, TrackQuantity: rec.TrackQuantity}, nil
}

// StockService owns the stock ledger and the reservation lifecycle.
// Redis and Locker are optional; nil disables the availability cache and the cross-instance lock.
type StockService struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Catalog  Catalog
	Settings config.Settings
	Redis    redis.UniversalClient
	Locker   *redislock.Client
	Now      func() time.Time

	locks *keyedMutex
}

func NewStockService(db *gorm.DB, logger *logrus.Logger, catalog Catalog, settings config.Settings) *StockService {
	if logger == nil {
		logger = config.GetLogger()
	}
	if catalog == nil {
		catalog = RecordCatalog{DB: db}
	}
	return &StockService{
		DB:       db,
		Logger:   logger,
		Catalog:  catalog,
		Settings: settings,
		Now:      time.Now,
		locks:    newKeyedMutex(),
	}
}

// WithRedis enables the availability cache and the distributed per-product lock.
func (s *StockService) WithRedis(rdb *redis.Client, locker *redislock.Client) *StockService {
	if rdb != nil {
		s.Redis = rdb
	}
	s.Locker = locker
	return s
}

func (s *StockService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *StockService) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

func (s *StockService) reservationTTL(ttlMinutes int) time.Duration {
	if ttlMinutes > 0 {
		return time.Duration(ttlMinutes) * time.Minute
	}
	if s.Settings.DefaultReservationTTL > 0 {
		return s.Settings.DefaultReservationTTL
	}
	return config.DefaultSettings().DefaultReservationTTL
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
