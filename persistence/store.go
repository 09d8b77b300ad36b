// Package persistence provides optional durable sinks for the
// collaboration core: a MessageStore mirroring the message audit trail
// and a TaskStore archiving final task results.
//
// Supported backends:
//   - Memory: development and testing (default)
//   - File: single-node deployments, one JSON blob per record
//   - Redis: distributed deployments
package persistence

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// RetryConfig defines backoff for store delivery retries. This never
// applies to supervisor task retries, which are immediate by contract.
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	InitialBackoff    time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `json:"max_backoff" yaml:"max_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration:
// 3 attempts with exponential backoff 1s/2s/4s capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the backoff duration for a given attempt (0-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// StoreConfig is the configuration shared by all backends.
type StoreConfig struct {
	Type    StoreType   `json:"type" yaml:"type"`
	BaseDir string      `json:"base_dir,omitempty" yaml:"base_dir,omitempty"`
	Redis   RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
	Retry   RetryConfig `json:"retry" yaml:"retry"`
}

// DefaultStoreConfig returns a memory-backed configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:  StoreTypeMemory,
		Retry: DefaultRetryConfig(),
	}
}

// Store is the base contract of every backend.
type Store interface {
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
