package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/lifecycle"
)

// Common errors
var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
)

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// Database configuration (only used when Type is "database")
	Database DatabaseStoreConfig `json:"database" yaml:"database"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// DialTimeout 建立连接时的 Ping 超时
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// DatabaseStoreConfig 关系型数据库配置.
type DatabaseStoreConfig struct {
	// Driver: postgres, mysql, sqlite
	Driver string `json:"driver" yaml:"driver"`

	// DSN 完整连接串, sqlite 下为文件路径或 ":memory:"
	DSN string `json:"dsn" yaml:"dsn"`

	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`

	// AutoMigrate 启动时自动建表
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeMemory,
		Redis: RedisStoreConfig{
			Addr:        "localhost:6379",
			DB:          0,
			PoolSize:    10,
			KeyPrefix:   "a2a:",
			DialTimeout: 5 * time.Second,
		},
		Database: DatabaseStoreConfig{
			Driver:          "sqlite",
			DSN:             "a2abridge.db",
			MaxIdleConns:    5,
			MaxOpenConns:    20,
			ConnMaxLifetime: time.Hour,
			AutoMigrate:     true,
		},
	}
}

// Validate 校验配置.
func (c StoreConfig) Validate() error {
	switch c.Type {
	case StoreTypeMemory, "":
		return nil
	case StoreTypeRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis store requires an address")
		}
		return nil
	case StoreTypeDatabase:
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			return fmt.Errorf("unsupported database driver: %q (supported: postgres, mysql, sqlite)", c.Database.Driver)
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database store requires a dsn")
		}
		return nil
	default:
		return fmt.Errorf("unsupported store type: %s", c.Type)
	}
}

// Store is the base interface for all persistent stores. 每个后端同时保存任务与 Agent 记录.
type Store interface {
	lifecycle.TaskStore
	discovery.AgentStore

	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// MemoryStore 内存后端, 进程退出后数据丢失.
type MemoryStore struct {
	*lifecycle.MemoryTaskStore
	*discovery.MemoryAgentStore
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		MemoryTaskStore:  lifecycle.NewMemoryTaskStore(),
		MemoryAgentStore: discovery.NewMemoryAgentStore(),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*SQLStore)(nil)
)
