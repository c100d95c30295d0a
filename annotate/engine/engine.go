package engine

import (
	"context"

	"vault.ink/annotate"
	"vault.ink/annotate/handlers"
	"vault.ink/annotate/kv"
	"vault.ink/annotate/registry"
)

// Store is the process-lifecycle handle (C9): the open database, the
// immutable entry registry, and the mailbox-registry collaborator,
// bundled behind the consumer-facing operations of spec §6 (open,
// close, fetch, store, lookup, write_entry, rename_mailbox,
// delete_mailbox, copy_message).
type Store struct {
	db        kv.DB
	registry  *registry.Registry
	mailboxes Mailboxes
	logf      func(format string, v ...interface{})

	// ProxyFetch and ProxyStore are optional hooks for a split
	// proxy/backend deployment; nil means standalone. They are called
	// at most once per distinct remote backend per fetch/store call.
	ProxyFetch func(ctx context.Context, backend string, p FetchParams) error
	ProxyStore func(ctx context.Context, backend string, p StoreParams) error
}

// Open builds a Store over an already-open database handle. The
// caller retains ownership of constructing db and reg; Store.Close
// closes db.
func Open(db kv.DB, reg *registry.Registry, mailboxes Mailboxes, logf func(format string, v ...interface{})) *Store {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Store{db: db, registry: reg, mailboxes: mailboxes, logf: logf}
}

func (s *Store) Close() error { return s.db.Close() }

// Lookup is the single-record read path used by tests and by handlers
// that need a direct point lookup rather than a full fetch (spec §6
// "lookup(mailbox, uid, entry, user_id) -> Option<bytes>").
func (s *Store) Lookup(ctx context.Context, mailbox string, uid uint32, entry, userID string) ([]byte, bool, error) {
	key := annotate.EncodeKey(mailbox, uid, entry, userID)
	var value []byte
	var ok bool
	err := s.db.View(ctx, func(txn kv.Txn) error {
		raw, found, err := txn.Get(key)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		v, err := annotate.DecodeValue(raw)
		if err != nil {
			return nil
		}
		value, ok = v, true
		return nil
	})
	return value, ok, err
}

// WriteEntry writes or deletes (value == nil) one raw record within an
// already-open transaction (spec §6 "write_entry(mailbox, entry,
// user_id, value, txn) -> Result"), bypassing registry/ACL checks. It
// exists for the rewriter and for tests that need to seed records
// directly.
func WriteEntry(txn kv.Txn, mailbox string, uid uint32, entry, userID string, value []byte) error {
	key := annotate.EncodeKey(mailbox, uid, entry, userID)
	if value == nil {
		return txn.Delete(key)
	}
	return txn.Put(key, annotate.EncodeValue(value))
}

// withUpdate runs fn in a write transaction, mapping any returned
// *annotate.Error straight through (kv.DB.Update already rolls back on
// a non-nil return).
func (s *Store) withUpdate(ctx context.Context, fn func(kv.Txn) error) error {
	return s.db.Update(ctx, fn)
}

// handlerContext is the shared dependency bundle fetch/store build
// once per call and thread through every handler invocation.
type handlerContext struct {
	mailboxes handlers.Mailboxes
	dir       string
}
