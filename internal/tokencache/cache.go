// Package tokencache provides the short-lived credential cache backing the
// management-API token exchange.
package tokencache

import (
	"context"
	"time"
)

// Cache is a string cache with per-entry TTL. A miss is (="", false, nil);
// errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}
