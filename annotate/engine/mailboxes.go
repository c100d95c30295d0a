package engine

import (
	"context"

	"vault.ink/annotate"
	"vault.ink/annotate/handlers"
)

// MailboxRef is one mailbox as seen by the mailbox-registry
// collaborator: its internal storage name, its namespace-translated
// external name, and the metadata a ScopeCursor caches.
type MailboxRef struct {
	Internal string
	External string
	Meta     annotate.MailboxMeta
}

// Mailboxes is the mailbox-registry collaborator (spec §1 "the
// mailbox list and mailbox-open primitives that yield ACL strings,
// partition identifiers, and mailbox-option bitmasks"). It embeds
// handlers.Mailboxes, the narrower per-mailbox-ID operations the C4
// handlers need, and adds the enumeration/resolution operations the
// fetch/store engines need to build scope cursors.
type Mailboxes interface {
	handlers.Mailboxes

	// List returns every local mailbox belonging to userID whose
	// external name matches pattern (spec §4.6 step 4 "Enumerate
	// mailboxes matching the pattern via the mailbox-registry
	// iterator").
	List(ctx context.Context, userID string, pattern *annotate.Pattern) ([]MailboxRef, error)

	// Resolve looks up a single mailbox by its internal name, for
	// message-scope cursor construction and for the rewriter.
	Resolve(ctx context.Context, userID string, internalMailbox string) (MailboxRef, error)
}
