// Package idgen produces the opaque identifiers handed out for sessions, sources,
// pages and password requests.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns time-sortable RFC 9562 identifiers.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a type prefix such as "src_" or "pg_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequential is deterministic and meant for tests: prefix-1, prefix-2, ...
func Sequential(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// Parse validates an identifier produced by UUIDv7, with or without a prefix.
func Parse(prefix, id string) error {
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return fmt.Errorf("invalid id %q: missing prefix %q", id, prefix)
	}
	if _, err := uuid.Parse(id[len(prefix):]); err != nil {
		return fmt.Errorf("invalid id %q: %w", id, err)
	}
	return nil
}
