package domain

import (
	"context"
	"time"
)

// Store is the process-wide key-value persistence used for credentials, locks,
// sessions and every cached function. A ttl <= 0 stores without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	Ping(ctx context.Context) error
}

// Scanner enumerates live keys under a prefix. Used by maintenance commands.
type Scanner interface {
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
}
