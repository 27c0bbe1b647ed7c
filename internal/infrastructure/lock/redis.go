package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/pkg/logger"
)

var _ ports.DocumentLocker = (*RedisLocker)(nil)

// RedisLocker bloqueo por documento compartido entre dispositivos que usan el mismo almacén central.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

// NewRedisLocker crea el locker sobre un cliente go-redis.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, retry: 100 * time.Millisecond, log: log}
}

func lockKey(number int64) string {
	return fmt.Sprintf("lock:toma:%d", number)
}

// Lock reintenta hasta obtener el bloqueo o hasta que ctx termine.
func (r *RedisLocker) Lock(ctx context.Context, number int64) (func(), error) {
	l, err := r.client.Obtain(ctx, lockKey(number), r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, &domain.Error{Kind: domain.ErrConflict, Op: "bloquear documento",
			Msg: fmt.Sprintf("documento %d en uso por otro dispositivo", number), Err: err}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.Wrap(domain.ErrConnectivity, "bloquear documento", err)
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.Warn().Err(err).Int64("document", number).Msg("no se pudo liberar el bloqueo redis")
		}
	}, nil
}
