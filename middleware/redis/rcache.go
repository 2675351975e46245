package redis

import (
	"errors"
	"time"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/redis/go-redis/v9"
)

// Configuration of RCache.
type RCacheConfig struct {
	// expire time for each entry, zero means no expiration.
	Exp time.Duration

	// Disable use of distributed lock to synchronize access to the key in the cache.
	//
	// Most of the operations are atomic except GetElse(...) and Update(...).
	NoSync bool
}

// Redis Cache implementation.
//
// RCache internal isn't backed by an actual redis HSet. Cache name is simply the prefix for each key,
// e.g., cache 'Listening.EncodingEpisode' stores key '123' as 'Listening.EncodingEpisode.123'.
//
//	Use NewRCache(...) to instantiate.
type RCache[T any] struct {
	ValueSerializer Serializer           // serializer / deserializer
	getClient       func() *redis.Client // supplier of client (using func to make it lazy)
	exp             time.Duration        // ttl for each cache entry
	name            string               // name of the cache
	sync            bool                 // synchronize operation
}

func (r *RCache[T]) Name() string {
	return r.name
}

func (r *RCache[T]) Put(rail core.Rail, key string, t T) error {
	cacheKey := r.cacheKey(key)
	val, err := r.ValueSerializer.Serialize(t)
	if err != nil {
		return errs.WrapErrf(err, "failed to serialze value")
	}
	op := func() error {
		return errs.WrapErr(r.getClient().Set(rail.Context(), cacheKey, val, r.exp).Err())
	}
	if r.sync {
		return RLockExec(rail, r.lockKey(key), op)
	}
	return op()
}

func (r *RCache[T]) Del(rail core.Rail, key string) error {
	cacheKey := r.cacheKey(key)
	op := func() error {
		return errs.WrapErr(r.getClient().Del(rail.Context(), cacheKey).Err())
	}
	if r.sync {
		return RLockExec(rail, r.lockKey(key), op)
	}
	return op()
}

func (r *RCache[T]) cacheKey(key string) string {
	return r.name + "." + key
}

func (r *RCache[T]) lockKey(key string) string {
	return "lock:" + r.cacheKey(key)
}

// Get from cache
func (r *RCache[T]) Get(rail core.Rail, key string) (T, bool, error) {
	return r.GetElse(rail, key, nil)
}

// Get from cache else run supplier
func (r *RCache[T]) GetElse(rail core.Rail, key string, supplier func() (T, bool, error)) (T, bool, error) {
	op := func() (rcacheVal[T], error) {
		t, ok, err := r.get(rail, key)
		if err != nil || ok {
			return rcacheVal[T]{t, ok}, err
		}

		// nothing to supply, give up
		if supplier == nil {
			return rcacheVal[T]{}, nil
		}

		supplied, ok, err := supplier()
		if err != nil {
			return rcacheVal[T]{}, errs.WrapErr(err)
		}
		if !ok {
			return rcacheVal[T]{}, nil
		}
		if err := r.set(rail, key, supplied); err != nil {
			return rcacheVal[T]{}, err
		}
		return rcacheVal[T]{supplied, true}, nil
	}

	var v rcacheVal[T]
	var err error
	if r.sync && supplier != nil {
		v, err = RLockRun(rail, r.lockKey(key), op)
	} else {
		v, err = op()
	}
	return v.t, v.ok, err
}

// Update existing entry, the updater is not called if the key is absent.
//
// The updater returns false to skip the update.
func (r *RCache[T]) Update(rail core.Rail, key string, updater func(t T) (T, bool)) (bool, error) {
	op := func() (bool, error) {
		t, ok, err := r.get(rail, key)
		if err != nil || !ok {
			return false, err
		}
		t, ok = updater(t)
		if !ok {
			return false, nil
		}
		return true, r.set(rail, key, t)
	}
	if r.sync {
		return RLockRun(rail, r.lockKey(key), op)
	}
	return op()
}

func (r *RCache[T]) Exists(rail core.Rail, key string) (bool, error) {
	cmd := r.getClient().Exists(rail.Context(), r.cacheKey(key))
	if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return false, errs.WrapErrf(err, "failed to check key existence")
	}
	return cmd.Val() > 0, nil
}

func (r *RCache[T]) get(rail core.Rail, key string) (T, bool, error) {
	var t T
	cmd := r.getClient().Get(rail.Context(), r.cacheKey(key))
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return t, false, nil
		}
		return t, false, errs.WrapErrf(err, "failed to get value from redis")
	}
	if err := r.ValueSerializer.Deserialize(&t, cmd.Val()); err != nil {
		return t, false, err
	}
	return t, true, nil
}

func (r *RCache[T]) set(rail core.Rail, key string, t T) error {
	v, err := r.ValueSerializer.Serialize(t)
	if err != nil {
		return errs.WrapErrf(err, "failed to serialize value")
	}
	return errs.WrapErr(r.getClient().Set(rail.Context(), r.cacheKey(key), v, r.exp).Err())
}

type rcacheVal[T any] struct {
	t  T
	ok bool
}

// Create new RCache
func NewRCache[T any](name string, conf RCacheConfig) RCache[T] {
	return RCache[T]{
		getClient:       func() *redis.Client { return GetRedis() },
		exp:             conf.Exp,
		name:            name,
		sync:            !conf.NoSync,
		ValueSerializer: JsonSerializer{},
	}
}
