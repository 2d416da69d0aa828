package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/stock_ledger/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// keyedMutex serializes work per product inside one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int]*refMutex)}
}

func (k *keyedMutex) Lock(productId int) func() {
	k.mu.Lock()
	l, ok := k.locks[productId]
	if !ok {
		l = &refMutex{}
		k.locks[productId] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, productId)
		}
		k.mu.Unlock()
	}
}

func productLockKey(productId int) string {
	return fmt.Sprintf("stock:lock:%d", productId)
}

// obtainRedisLock is best-effort: a nil lock means we proceed on the DB row lock alone.
func (s *StockService) obtainRedisLock(ctx context.Context, productId int) *redislock.Lock {
	if s.Locker == nil {
		return nil
	}
	ttl := s.Settings.ProductLockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	lock, err := s.Locker.Obtain(waitCtx, productLockKey(productId), ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(20*time.Millisecond), 200),
	})
	if err != nil {
		msg := "error obtaining redis lock; proceeding without redis lock: " + err.Error()
		if errors.Is(err, redislock.ErrNotObtained) {
			msg = "could not obtain redis lock; proceeding without redis lock"
		}
		s.Logger.WithFields(logrus.Fields{
			"field":      "ProductLock",
			"product_id": productId,
		}).Warn(msg)
		return nil
	}
	return lock
}

func (s *StockService) releaseRedisLock(ctx context.Context, productId int, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		s.Logger.WithFields(logrus.Fields{
			"field":      "ProductLock",
			"product_id": productId,
		}).Warn("failed to release redis lock: " + err.Error())
	}
}

// withProductTx runs fn in a transaction while holding the per-product lock.
// The transaction is retried from scratch on ErrConcurrentUpdateConflict, up to MaxConflictRetries attempts.
// After a successful commit the product's cached availability is invalidated.
func (s *StockService) withProductTx(ctx context.Context, productId int, fn func(tx *gorm.DB) error) error {
	unlock := s.locks.Lock(productId)
	defer unlock()
	lock := s.obtainRedisLock(ctx, productId)
	defer s.releaseRedisLock(ctx, productId, lock)

	attempts := s.Settings.MaxConflictRetries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = s.db(ctx).Transaction(fn)
		if !errors.Is(err, models.ErrConcurrentUpdateConflict) {
			break
		}
		s.Logger.WithFields(logrus.Fields{
			"field":      "ProductLock",
			"product_id": productId,
			"attempt":    attempt,
		}).Warn("concurrent update conflict; retrying")
	}
	if err != nil {
		return err
	}
	s.onProductMutated(ctx, productId)
	return nil
}
