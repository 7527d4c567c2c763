// Package ratelimit реализует счётчик запросов с фиксированным окном в Redis.
// Счётчик общий для всех экземпляров сервиса.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// Result итог проверки одного запроса.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter фиксированное окно: INCR + EXPIRE в одном pipeline.
type Limiter struct {
	db     *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// New создаёт лимитер на limit запросов за окно window.
func New(db *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{
		db:     db,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow учитывает запрос клиента key и сообщает, укладывается ли он в лимит.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	const op = "ratelimit.Allow"

	windowStart := l.now().Truncate(l.window)
	resetAt := windowStart.Add(l.window)
	redisKey := keyPrefix + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	pipe := l.db.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: resetAt}, fmt.Errorf("%s: %w", op, err)
	}

	count := int(incr.Val())
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
