// Package cache holds short-lived values such as WebAuthn challenges. Redis
// is used when configured so several server replicas share state; otherwise
// values live in process memory.
package cache

import "errors"

// ErrNotFound is returned for missing or expired keys.
var ErrNotFound = errors.New("cache: key not found")
