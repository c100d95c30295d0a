package annotate

import "fmt"

// ACLRight is a single bit of a mailbox ACL rights mask. Modeled after
// imap.ListAttrFlag's const-iota bitmask idiom.
type ACLRight uint32

const (
	ACLLookup ACLRight = 1 << iota
	ACLRead
	ACLSeen
	ACLWrite
	ACLInsert
	ACLPost
	ACLCreate
	ACLDeleteMailbox
	ACLAdmin
)

var aclRightNames = []struct {
	bit  ACLRight
	name string
}{
	{ACLLookup, "lookup"},
	{ACLRead, "read"},
	{ACLSeen, "seen"},
	{ACLWrite, "write"},
	{ACLInsert, "insert"},
	{ACLPost, "post"},
	{ACLCreate, "create"},
	{ACLDeleteMailbox, "delete"},
	{ACLAdmin, "admin"},
}

func (r ACLRight) String() (res string) {
	for _, e := range aclRightNames {
		if r&e.bit == 0 {
			continue
		}
		if res != "" {
			res += "|"
		}
		res += e.name
	}
	if res == "" {
		return "none"
	}
	return res
}

// Has reports whether r grants every bit set in want.
func (r ACLRight) Has(want ACLRight) bool { return r&want == want }

// MailboxMeta is the mailbox metadata a ScopeCursor caches once per
// target mailbox, per spec §4.5. It stands in for what spec.md calls
// "the mailbox-open primitives that yield ACL strings, partition
// identifiers, and mailbox-option bitmasks" (an external collaborator).
type MailboxMeta struct {
	MailboxID    int64
	Partition    string
	RemoteServer string // non-empty for a remote/proxied mailbox
	SpecialUse   string // canonical "\Archive" etc, or ""
	OptionFlags  uint64
	ACL          ACLRight
}

// IsRemote reports whether the mailbox resolves to another backend.
func (m MailboxMeta) IsRemote() bool { return m.RemoteServer != "" }

// ScopeCursor bundles a scope with its identity and (for mailbox and
// message scope) cached mailbox metadata, per spec §4.5. It is built
// by the fetch/store engines and consumed read-only by handlers.
type ScopeCursor struct {
	Scope Scope

	// InternalMailbox is empty for server scope.
	InternalMailbox string
	// ExternalMailbox is the namespace-translated display name; it may
	// be empty if the host did no translation.
	ExternalMailbox string

	// UID is zero for server/mailbox scope, nonzero for message scope.
	UID uint32

	Meta MailboxMeta

	// UserID and Admin describe the requesting principal, not the
	// annotation owner; handlers use them for ACL decisions.
	UserID string
	Admin  bool
}

// Validate checks the scope invariant of spec §4.5.
func (c *ScopeCursor) Validate() error {
	switch c.Scope {
	case ScopeServer:
		if c.InternalMailbox != "" || c.UID != 0 {
			return NewError(StatusInternal, "server scope cursor has mailbox=%q uid=%d", c.InternalMailbox, c.UID)
		}
	case ScopeMailbox:
		if c.InternalMailbox == "" || c.UID != 0 {
			return NewError(StatusInternal, "mailbox scope cursor has mailbox=%q uid=%d", c.InternalMailbox, c.UID)
		}
	case ScopeMessage:
		if c.InternalMailbox == "" || c.UID == 0 {
			return NewError(StatusInternal, "message scope cursor has mailbox=%q uid=%d", c.InternalMailbox, c.UID)
		}
	default:
		return NewError(StatusInternal, "unknown scope %v", c.Scope)
	}
	return nil
}

func (c *ScopeCursor) String() string {
	return fmt.Sprintf("ScopeCursor(%s mailbox=%q uid=%d user=%q admin=%v)",
		c.Scope, c.InternalMailbox, c.UID, c.UserID, c.Admin)
}
