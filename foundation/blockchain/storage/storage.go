// Package storage defines the key/value contract used to persist the native
// blockchain state, so the in-memory and durable backends are interchangeable.
package storage

import "errors"

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("key not found")

// Store represents the behavior required to persist and restore the node
// state as opaque bytes.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Close() error
}
