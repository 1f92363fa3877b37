package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for caching upstream responses
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key generates a stable cache key from an upstream request identity,
// e.g. the full E-utilities URL or a joined PMID list.
func Key(identity string) string {
	hash := sha256.Sum256([]byte(identity))
	return "evidens:v1:" + hex.EncodeToString(hash[:])
}

// Nop is a disabled cache; every lookup misses
type Nop struct{}

func (Nop) Get(string) ([]byte, bool)               { return nil, false }
func (Nop) Set(string, []byte, time.Duration) error { return nil }
func (Nop) Delete(string) error                     { return nil }
func (Nop) Clear() error                            { return nil }
