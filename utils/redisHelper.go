package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
)

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

func redisKey[T any](id any) string {
	return GetTypeName[T]() + ":" + fmt.Sprint(id)
}

/* Redis */

// store instance under Type:$id. rdb may be nil (cache disabled).
func StoreRedis[T any](ctx context.Context, rdb redis.UniversalClient, id any, obj *T, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, redisKey[T](id), objInByte, exp).Err()
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](ctx context.Context, rdb redis.UniversalClient, id any) (*T, error) {
	if rdb == nil {
		return nil, nil
	}
	val, err := rdb.Get(ctx, redisKey[T](id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var result T
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

/* generations */

func generationKey[T any](id any) string {
	return GetTypeName[T]() + "Generation:" + fmt.Sprint(id)
}

// current generation of Type:$id, 0 if never bumped
func RedisGeneration[T any](ctx context.Context, rdb redis.UniversalClient, id any) (int64, error) {
	if rdb == nil {
		return 0, nil
	}
	gen, err := rdb.Get(ctx, generationKey[T](id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// bump generations and remove instances in one round trip
func InvalidateRedisItems[T any](ctx context.Context, rdb redis.UniversalClient, ids ...any) error {
	if rdb == nil || len(ids) == 0 {
		return nil
	}
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, generationKey[T](id))
			pipe.Del(ctx, redisKey[T](id))
		}
		return nil
	})
	return err
}

// store instance under Type:$id only while its generation still equals gen.
// returns false when an invalidation happened since gen was read.
func StoreRedisAtGeneration[T any](ctx context.Context, rdb redis.UniversalClient, id any, obj *T, exp time.Duration, gen int64) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return false, err
	}
	genKey := generationKey[T](id)
	stored := false
	err = rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if errors.Is(err, redis.Nil) {
			current, err = 0, nil
		}
		if err != nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey[T](id), objInByte, exp)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return stored, err
}
