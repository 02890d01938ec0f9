package db

import (
	"github.com/deancochran/gradientpeak-sub005/internal/config"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis builds the client the stream hub uses to bridge event
// frames across instances. An empty address means the deployment is
// single-instance; observation then stays in-process and nil is returned.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
