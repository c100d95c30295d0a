// Package kv defines the minimal ordered key/value interface the
// annotation engine needs from its underlying database: point get,
// put, delete, range-prefix cursor iteration, and function-scoped
// transactions (spec §1 "out of scope... the underlying ordered
// key/value database").
package kv

import "context"

// Cursor iterates keys in byte-lexicographic order starting from a
// Seek position. A zero-value Cursor is not valid; obtain one from a
// Txn.
type Cursor interface {
	// Seek positions the cursor at the first key >= prefix. It
	// reports whether any such key exists.
	Seek(prefix []byte) bool

	// Next advances to the next key in order. It reports whether a
	// key is available after advancing.
	Next() bool

	// Key and Value return the current position's key/value. They
	// are only valid to call after Seek or Next returned true. The
	// returned slices must not be retained past the next cursor call.
	Key() []byte
	Value() []byte

	Close() error
}

// Txn is a single read/write transaction scoped to the function that
// obtained it (spec §3 "Lifecycles": "transactions are function-scoped").
type Txn interface {
	Get(key []byte) (value []byte, ok bool, err error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// NewCursor opens a cursor valid for the lifetime of the
	// transaction. Callers must Close it.
	NewCursor() (Cursor, error)
}

// DB is the process-scoped handle the lifecycle component (C9) opens
// once and closes at shutdown.
type DB interface {
	// View runs fn in a read-only transaction. Writes through Put/Delete
	// inside View are not guaranteed to be observable or durable.
	View(ctx context.Context, fn func(Txn) error) error

	// Update runs fn in a read/write transaction, committing on a nil
	// return and rolling back otherwise.
	Update(ctx context.Context, fn func(Txn) error) error

	Close() error
}
