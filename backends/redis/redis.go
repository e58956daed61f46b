package redis

import (
	"context"
	_ "embed"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// check_and_set.lua implements compare-and-swap server side so that
// concurrent proxy replicas serialize their bucket updates in redis.
//
//go:embed check_and_set.lua
var checkAndSetScript string

var casScript = redis.NewScript(checkAndSetScript)

type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type Backend struct {
	client *redis.Client
}

func (r *Backend) GetClient() *redis.Client {
	return r.client
}

// New initializes a new redis backend with the given configuration.
func New(config Config) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, NewConnectionFailedError(config.Addr, err)
	}

	return &Backend{client: client}, nil
}

func (r *Backend) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil // Key doesn't exist, return empty string with no error
	}
	if err != nil {
		return "", NewGetFailedError(key, err)
	}
	return val, nil
}

// CheckAndSet atomically sets key to newValue only if the current value
// matches oldValue. oldValue="" means "only set if key doesn't exist".
// The comparison and write happen inside one Lua evaluation, so the
// operation is atomic across all clients of the same redis instance.
func (r *Backend) CheckAndSet(ctx context.Context, key, oldValue, newValue string, expiration time.Duration) (bool, error) {
	expMs := "0"
	if expiration > 0 {
		expMs = strconv.FormatInt(expiration.Milliseconds(), 10)
	}

	result, err := casScript.Run(ctx, r.client, []string{key}, oldValue, newValue, expMs).Result()
	if err != nil {
		return false, NewEvalFailedError(err)
	}

	return result.(int64) == 1, nil
}

func (r *Backend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return NewDeleteFailedError(key, err)
	}
	return nil
}

func (r *Backend) Close() error {
	if err := r.client.Close(); err != nil {
		return NewCloseFailedError(err)
	}
	return nil
}
