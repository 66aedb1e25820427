package dedupe

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"liqwatch/config"
	"liqwatch/internal/models"
	"liqwatch/logger"
)

// Redis stores seen keys with SETNX and an expiry of window. Several
// liqwatch instances pointed at one Redis share a single seen set.
type Redis struct {
	client *redis.Client
	prefix string
	window time.Duration
	log    *logger.Log
}

func NewRedis(cfg config.RedisConfig, window time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &Redis{
		client: client,
		prefix: cfg.Prefix,
		window: window,
		log:    logger.GetLogger(),
	}, nil
}

func (r *Redis) Admit(ctx context.Context, key models.EventKey) bool {
	ok, err := r.client.SetNX(ctx, r.prefix+key.String(), 1, r.window).Result()
	if err != nil {
		r.log.WithComponent("dedupe").WithError(err).WithFields(logger.Fields{
			"backend": "redis",
			"key":     key.String(),
		}).Warn("dedupe lookup failed, admitting event")
		return true
	}
	return ok
}

func (r *Redis) Close() error {
	return r.client.Close()
}
