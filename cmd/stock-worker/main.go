package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/stock_ledger/config"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/mmdatafocus/stock_ledger/utils"
	"github.com/mmdatafocus/stock_ledger/workflow"
	"github.com/sirupsen/logrus"
)

// stock-worker runs the expiration sweep and the stock alert dispatcher.
func main() {
	logger := config.GetLogger()

	settings, err := config.LoadSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		if config.GetDB() == nil {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusNoContent)
	})
	srv := &http.Server{
		Addr:    ":" + settings.HealthPort,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(5)

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !settings.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	ctx := utils.SetActorInContext(sigCtx, "stock-worker")
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

	service := workflow.NewStockService(db, logger, nil, settings).
		WithRedis(config.GetRedisDB(), config.GetRedisLock())
	go workflow.NewExpirationReclaimer(service).Run(ctx)

	publisher, closePublisher := workflow.NewNotificationPublisher(settings)
	defer func() { _ = closePublisher() }()
	if publisher != nil {
		go workflow.NewOutboxDispatcher(db, logger, publisher).Run(ctx)
	} else {
		logger.WithFields(logrus.Fields{"field": "OutboxDispatcher"}).Warn("NOTIFY_TRANSPORT=none; stock alerts stay in the outbox")
	}

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}
