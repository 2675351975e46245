package redis

import (
	"errors"
	"fmt"
	"sync"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/redis/go-redis/v9"
)

const (
	Nil = redis.Nil
)

var module = &redisModule{mu: &sync.RWMutex{}}

type redisModule struct {
	mu     *sync.RWMutex
	client *redis.Client
}

func (m *redisModule) redis() *redis.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil {
		panic("Redis Connection hasn't been initialized yet")
	}
	return m.client
}

func (m *redisModule) init(rail core.Rail, p RedisConnParam) (*redis.Client, error) {
	m.mu.RLock()
	if m.client != nil {
		m.mu.RUnlock()
		return m.client, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	rail.Infof("Connecting to redis '%v:%v', database: %v", p.Address, p.Port, p.Db)
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%s", p.Address, p.Port),
		Username:     p.Username,
		Password:     p.Password,
		DB:           p.Db,
		MinIdleConns: p.MinIdleConns,
	}
	if p.MaxPoolSize > 0 {
		opts.PoolSize = p.MaxPoolSize
	}
	rdb := redis.NewClient(opts)

	if err := rdb.Ping(rail.Context()).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapErrf(err, "ping redis failed")
	}

	rail.Info("Redis connection initialized")
	m.client = rdb
	return rdb, nil
}

func (m *redisModule) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

type RedisConnParam struct {
	Address      string
	Port         string
	Username     string
	Password     string
	Db           int
	MaxPoolSize  int
	MinIdleConns int
}

// Get Redis client
//
// Must call InitRedis(...) method before this method.
func GetRedis() *redis.Client {
	return module.redis()
}

// Get String, empty string is returned if the key is absent.
func GetStr(rail core.Rail, key string) (string, error) {
	scmd := GetRedis().Get(rail.Context(), key)
	if e := scmd.Err(); e != nil {
		if errors.Is(e, redis.Nil) {
			return "", nil
		}
		return "", e
	}
	return scmd.Val(), nil
}

/*
Initialize redis client from configuration

If redis client has been initialized, current func call will be ignored.

This func looks for following prop:

	"redis.address"
	"redis.port"
	"redis.username"
	"redis.password"
	"redis.database"
*/
func InitRedisFromProp(rail core.Rail) (*redis.Client, error) {
	return InitRedis(rail, RedisConnParam{
		Address:      core.GetPropStr(PropRedisAddress),
		Port:         core.GetPropStr(PropRedisPort),
		Username:     core.GetPropStr(PropRedisUsername),
		Password:     core.GetPropStr(PropRedisPassword),
		Db:           core.GetPropInt(PropRedisDatabase),
		MaxPoolSize:  core.GetPropInt(PropRedisMaxPoolSize),
		MinIdleConns: core.GetPropInt(PropRedisMinIdleConns),
	})
}

/*
Initialize redis client

If redis client has been initialized, current func call will be ignored
*/
func InitRedis(rail core.Rail, p RedisConnParam) (*redis.Client, error) {
	return module.init(rail, p)
}

// Whether redis client is enabled.
func IsEnabled() bool {
	return core.GetPropBool(PropRedisEnabled)
}

// Ping redis, used as health check.
func Ping(rail core.Rail) error {
	if err := GetRedis().Ping(rail.Context()).Err(); err != nil {
		rail.Errorf("Redis ping failed, %v", err)
		return err
	}
	return nil
}

// Close redis client, InitRedis(...) may be called again afterwards.
func CloseRedis() error {
	return module.close()
}

func IsNil(err error) bool {
	return errors.Is(err, Nil)
}
