// Package cache хранит снимки пользователей в Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/prepaccess/internal/config"
	"github.com/magabrotheeeer/prepaccess/internal/models"
)

const (
	userKeyPrefix = "user:"
	userGenPrefix = "user-gen:"
	// generationTTL должен быть заметно больше времени одного чтения из базы.
	generationTTL = 24 * time.Hour
)

// Cache JSON-кэш поверх redis-клиента.
type Cache struct {
	Db  *redis.Client
	ttl time.Duration
}

// NewClient создаёт redis-клиент и проверяет соединение.
func NewClient(ctx context.Context, cfg config.RedisConnection) (*redis.Client, error) {
	const op = "cache.NewClient"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return db, nil
}

// New оборачивает клиент в кэш с заданным временем жизни записей.
func New(db *redis.Client, ttl time.Duration) *Cache {
	return &Cache{Db: db, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "cache.Get"
	val, err := c.Db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(val, result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	const op = "cache.Set"
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.Db.Set(ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, key string) error {
	const op = "cache.Invalidate"
	if err := c.Db.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUser возвращает снимок пользователя и текущее поколение его записи.
// Поколение нужно передать в SetUser после чтения из базы.
func (c *Cache) GetUser(ctx context.Context, uid string) (*models.User, int64, bool, error) {
	const op = "cache.GetUser"

	pipe := c.Db.Pipeline()
	entry := pipe.Get(ctx, userKeyPrefix+uid)
	gen := pipe.Get(ctx, userGenPrefix+uid)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("%s: %w", op, err)
	}

	generation, err := gen.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := entry.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, generation, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("%s: %w", op, err)
	}
	var user models.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return &user, generation, true, nil
}

// SetUser кладёт снимок пользователя, только если с момента GetUser запись
// не сбрасывалась, то есть поколение всё ещё равно generation. Иначе снимок
// мог устареть, и SetUser возвращает false. Хеш пароля в JSON не попадает.
func (c *Cache) SetUser(ctx context.Context, user *models.User, generation int64) (bool, error) {
	const op = "cache.SetUser"

	data, err := json.Marshal(user)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	genKey := userGenPrefix + user.UID
	stored := false
	err = c.Db.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKeyPrefix+user.UID, data, c.ttl)
			return nil
		})
		stored = err == nil
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return stored, nil
}

// InvalidateUser удаляет снимок и увеличивает поколение, так что запись,
// прочитанная из базы до этого момента, в кеш уже не попадёт.
func (c *Cache) InvalidateUser(ctx context.Context, uid string) error {
	const op = "cache.InvalidateUser"

	genKey := userGenPrefix + uid
	pipe := c.Db.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, generationTTL)
	pipe.Del(ctx, userKeyPrefix+uid)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
