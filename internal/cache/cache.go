// Package cache backs the forwarder's small shared state: de-identification
// UID mappings, destination reachability and recently seen instances, on
// Redis or in memory.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the cache interface. A ttl of zero stores without expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) error
}

// UIDMapKey keys the replacement UID generated for an original study, series
// or instance UID, so repeated instances of one study stay grouped after
// de-identification.
func UIDMapKey(originalUID string) string {
	return "uid:" + originalUID
}

// DestinationStatusKey keys the last connection test result of a destination.
func DestinationStatusKey(destinationID string) string {
	return "dest:" + destinationID + ":status"
}

// SeenInstanceKey keys a recently received SOP instance UID, used to flag
// duplicate transfers in the audit trail.
func SeenInstanceKey(sopInstanceUID string) string {
	return "seen:" + sopInstanceUID
}
