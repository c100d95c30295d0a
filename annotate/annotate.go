// Package annotate defines the core types of the annotation
// (IMAP METADATA) store: scopes, value types, attribute masks, and the
// status codes returned by handlers.
package annotate

import "fmt"

// Scope identifies what an annotation is attached to.
type Scope int

const (
	ScopeServer Scope = iota
	ScopeMailbox
	ScopeMessage
)

func (s Scope) String() string {
	switch s {
	case ScopeServer:
		return "server"
	case ScopeMailbox:
		return "mailbox"
	case ScopeMessage:
		return "message"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// ValueType constrains the syntax a stored value must canonicalise to.
type ValueType int

const (
	ValueString ValueType = iota
	ValueBoolean
	ValueUint
	ValueInt
)

func (t ValueType) String() string {
	switch t {
	case ValueString:
		return "string"
	case ValueBoolean:
		return "boolean"
	case ValueUint:
		return "uint"
	case ValueInt:
		return "int"
	default:
		return fmt.Sprintf("ValueType(%d)", int(t))
	}
}

// ProxyKind classifies where an entry is meaningful in a split
// proxy/backend deployment.
type ProxyKind int

const (
	ProxyOnly ProxyKind = iota
	BackendOnly
	ProxyAndBackend
)

func (k ProxyKind) String() string {
	switch k {
	case ProxyOnly:
		return "proxy_only"
	case BackendOnly:
		return "backend_only"
	case ProxyAndBackend:
		return "proxy_and_backend"
	default:
		return fmt.Sprintf("ProxyKind(%d)", int(k))
	}
}

// AttribMask is a bitmask over the four fetchable/storable attribute
// classes of an annotation entry. Modeled after imap.ListAttrFlag's
// const-iota-plus-String table idiom.
type AttribMask int

const AttribNone AttribMask = 0

const (
	AttribValueShared AttribMask = 1 << iota
	AttribValuePriv
	AttribSizeShared
	AttribSizePriv

	// AttribDeprecated is tolerated on config-file input and on
	// fetch/store attribute names; it is always stripped after a
	// one-shot warning and never appears in a resolved AttribMask
	// that reaches a handler.
	AttribDeprecated
)

const attribValue = AttribValueShared | AttribValuePriv
const attribSize = AttribSizeShared | AttribSizePriv

func (m AttribMask) String() (res string) {
	add := func(bit AttribMask, name string) {
		if m&bit == 0 {
			return
		}
		if res != "" {
			res += "|"
		}
		res += name
	}
	add(AttribValueShared, "value.shared")
	add(AttribValuePriv, "value.priv")
	add(AttribSizeShared, "size.shared")
	add(AttribSizePriv, "size.priv")
	if res == "" {
		return "none"
	}
	return res
}

// Status is the result taxonomy returned by handlers and engines,
// per spec §7.
type Status int

const (
	StatusOk Status = iota
	StatusNotFound
	StatusBadEntry
	StatusBadValue
	StatusPermissionDenied
	StatusMailboxNonexistent
	StatusProtocolBad
	StatusIoError
	StatusInternal
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusNotFound:
		return "NotFound"
	case StatusBadEntry:
		return "BadEntry"
	case StatusBadValue:
		return "BadValue"
	case StatusPermissionDenied:
		return "PermissionDenied"
	case StatusMailboxNonexistent:
		return "MailboxNonexistent"
	case StatusProtocolBad:
		return "ProtocolBad"
	case StatusIoError:
		return "IoError"
	case StatusInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Error wraps a Status with a message, so callers can errors.As into
// the taxonomy without losing context.
type Error struct {
	Status Status
	Msg    string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Msg)
}

func NewError(status Status, format string, v ...interface{}) *Error {
	return &Error{Status: status, Msg: fmt.Sprintf(format, v...)}
}

// AsStatus extracts the Status from err, defaulting to StatusInternal
// for an unrecognised error and StatusOk for a nil one.
func AsStatus(err error) Status {
	if err == nil {
		return StatusOk
	}
	if ae, ok := err.(*Error); ok {
		return ae.Status
	}
	return StatusInternal
}
