package cloudsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/gmsas95/hemotrack/internal/config"
	"go.uber.org/zap"
)

// RedisMirror keeps one hash per installation and table:
// HSET {prefix}:{installation}:{table} {id} {json}
type RedisMirror struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisMirror connects lazily to the configured Redis server
func NewRedisMirror(cfg config.RedisMirror, logger *zap.Logger) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisMirrorFromClient(client, cfg.Prefix, logger)
}

// NewRedisMirrorFromClient wraps an existing client
func NewRedisMirrorFromClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisMirror {
	if prefix == "" {
		prefix = "hemotrack"
	}
	return &RedisMirror{client: client, prefix: prefix, logger: logger}
}

func (m *RedisMirror) Name() string { return "redis" }

// Key returns the hash key holding table's rows for installationID
func (m *RedisMirror) Key(installationID, table string) string {
	return fmt.Sprintf("%s:%s:%s", m.prefix, installationID, table)
}

func (m *RedisMirror) Put(ctx context.Context, installationID, table string, id uint, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s %d: %w", table, id, err)
	}
	return m.client.HSet(ctx, m.Key(installationID, table), strconv.FormatUint(uint64(id), 10), data).Err()
}

// Ping checks connectivity
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
