// Package handlers implements the concrete get/set strategies (C4)
// dispatched by an entry's registry.HandlerKind: database-backed,
// file-backed, mailbox-option-backed, pop3-show-after, special-use,
// and computed getters.
package handlers

import (
	"vault.ink/annotate"
	"vault.ink/annotate/kv"
)

// Result is one handler-produced attribute value. Attrib is always
// exactly one bit of the value/size x shared/priv class.
type Result struct {
	Attrib annotate.AttribMask
	Value  []byte
}

// AttribValue is one (attribute, value) pair given to a setter; it
// mirrors the store engine's already-classified and already-validated
// input (spec §4.7 steps 2-3 happen before Set is called).
type AttribValue struct {
	Attrib annotate.AttribMask
	Value  []byte // Absent (nil) means delete
}

// Mailboxes is the mailbox-registry collaborator (spec §1's "mailbox
// list and mailbox-open primitives"): the subset of operations the
// mailbox-option/pop3showafter/specialuse/computed handlers need to
// read or mutate mailbox state outside the annotation database.
type Mailboxes interface {
	// OptionFlags returns the mailbox's option bitmask.
	OptionFlags(mailboxID int64) (uint64, error)
	// SetOptionFlags replaces the mailbox's option bitmask and marks
	// its index dirty.
	SetOptionFlags(mailboxID int64, flags uint64) error

	// Pop3ShowAfter returns the stored RFC 3501 show-after timestamp,
	// or the zero value if unset.
	Pop3ShowAfter(mailboxID int64) (unixSeconds int64, ok bool, err error)
	SetPop3ShowAfter(mailboxID int64, unixSeconds int64, ok bool) error

	// SpecialUse returns the mailbox's canonical special-use string,
	// or "" if unset.
	SpecialUse(mailboxID int64) (string, error)
	SetSpecialUse(mailboxID int64, value string) error

	// FreeSpaceBytes reports free bytes on the mailbox's partition.
	FreeSpaceBytes(mailboxID int64) (uint64, error)
	// SizeBytes reports bytes used by the mailbox.
	SizeBytes(mailboxID int64) (uint64, error)
	// LastUpdate reports the mailbox index's last-modified time.
	LastUpdate(mailboxID int64) (unixSeconds int64, err error)
	// LastPopLogin reports the stored last-POP3-login timestamp.
	LastPopLogin(mailboxID int64) (unixSeconds int64, ok bool, err error)
}

// FetchContext carries the dependencies and per-call state a getter
// needs beyond the scope cursor.
type FetchContext struct {
	KV        kv.Txn
	Mailboxes Mailboxes
	Dir       string // directory for file-backed server entries

	// Emit is called once per (entry, Result) the handler produces.
	// get_from_db may call it many times for one invocation; every
	// other handler calls it at most once per requested attribute
	// class.
	Emit func(entryName string, r Result)
}

// StoreContext carries the dependencies a setter needs.
type StoreContext struct {
	KV        kv.Txn
	Mailboxes Mailboxes
	Dir       string

	// SyncLog receives one call per affected mailbox (empty string for
	// server scope), spec §4.7 step 8 / §9 "Event sink".
	SyncLog func(mailbox string)
}

// GetFunc reads the entry named (or matched) by namePattern for
// cursor, classified by attribs (the subset of value/size x
// shared/priv the caller asked for), emitting results through
// fctx.Emit. namePattern is a compiled pattern even for a literal
// built-in entry name (Compile never finding a wildcard makes
// FixedPrefix/Match behave exactly like literal comparison); this lets
// get_from_db reuse the same fixed-prefix scan machinery whether it is
// running as a named entry's own handler or as a scope's catch-all
// serving an arbitrary fetch pattern.
//
// An ACL precondition failure emits nothing and returns nil, never an
// error (spec §4.4: "Each getter emits nothing and returns success
// when its ACL precondition fails").
type GetFunc func(cursor *annotate.ScopeCursor, namePattern *annotate.Pattern, attribs annotate.AttribMask, fctx *FetchContext) error

// SetFunc writes values for entryName under cursor.
type SetFunc func(cursor *annotate.ScopeCursor, entryName string, values []AttribValue, sctx *StoreContext) error
