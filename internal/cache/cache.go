// Package cache provides the key->bytes stores used for rendered views and image payloads
package cache

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/UnendingLoop/ImageVault/internal/cache/memcache"
	"github.com/UnendingLoop/ImageVault/internal/cache/miniocache"
	"github.com/UnendingLoop/ImageVault/internal/cache/rediscache"
	"github.com/UnendingLoop/ImageVault/internal/envcfg"
	"github.com/redis/go-redis/v9"
)

// BlobCache - контракт кэша: отсутствие ключа на Get - не ошибка, а (nil, false, nil).
// ttl == 0 - хранить до явного удаления.
type BlobCache interface {
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

const (
	BackendRedis  = "redis"
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

// NewRedisClient - подключение к redis с ретраями, пока не ответит на PING
func NewRedisClient(ctx context.Context, cfg envcfg.Getter, delay time.Duration) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetString("REDIS_ADDR"),
		Password: cfg.GetString("REDIS_PASSWORD"),
		DB:       cfg.GetInt("REDIS_DB"),
	})

	for {
		log.Println("Connecting to cache...")
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			log.Println("Successfully connected to cache!")
			return client
		}
		log.Printf("Failed to connect to cache: %v\nNext retry in %v...", err, delay)

		select {
		case <-ctx.Done():
			log.Println("Cache connection loop canceled")
			return client
		case <-time.After(delay):
		}
	}
}

// NewViewCache - кэш отрендеренных списков/карточек, всегда redis
func NewViewCache(client *redis.Client) BlobCache {
	return rediscache.New(client)
}

// NewPayloadCache - хранилище байтов вариантов по PAYLOAD_BACKEND
func NewPayloadCache(cfg envcfg.Getter, client *redis.Client, delay time.Duration) BlobCache {
	backend := strings.ToLower(cfg.GetString("PAYLOAD_BACKEND"))

	switch backend {
	case BackendMinio:
		return newMinioWithRetries(cfg, delay)
	case BackendMemory:
		log.Println("Payload backend is in-process memory: payloads are lost on restart")
		return memcache.New()
	case BackendRedis:
		return rediscache.New(client)
	default:
		log.Printf("Unknown payload backend %q, falling back to %q", backend, BackendRedis)
		return rediscache.New(client)
	}
}

func newMinioWithRetries(cfg envcfg.Getter, delay time.Duration) *miniocache.MinioCache {
	for {
		log.Println("Connecting to payload storage...")
		client, err := miniocache.NewMinioCache(cfg)
		if err == nil {
			log.Println("Successfully connected payload storage!")
			return client
		}
		log.Printf("Failed to init connection to payload storage: %v\nNext retry in %v...", err, delay)
		time.Sleep(delay)
	}
}
