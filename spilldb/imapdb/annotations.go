package imapdb

import (
	"fmt"

	"vault.ink/annotate"
	"vault.ink/annotate/engine"
)

func (s *session) annotationUserID() string {
	return fmt.Sprintf("%d", s.userID)
}

// GetMetadata implements the wire GETMETADATA command (imapserver),
// spec §4.6 fetch, scoped to this session's own mailbox database.
func (s *session) GetMetadata(mailboxPattern string, entries []string, attribNames []string, maxSize int, sink func(engine.Output)) (largestOversize int, err error) {
	if s.user.Annotations == nil {
		return 0, fmt.Errorf("GetMetadata: annotations store not configured")
	}
	scope := annotate.ScopeServer
	if mailboxPattern != "" {
		scope = annotate.ScopeMailbox
	}
	err = s.user.Annotations.Fetch(s.c.Context, engine.FetchParams{
		Scope:           scope,
		MailboxPattern:  mailboxPattern,
		EntryPatterns:   entries,
		AttribNames:     attribNames,
		UserID:          s.annotationUserID(),
		MaxSize:         maxSize,
		LargestOversize: &largestOversize,
		Sink:            sink,
	})
	return largestOversize, err
}

// SetMetadata implements the wire SETMETADATA command, spec §4.7 store.
func (s *session) SetMetadata(mailboxPattern string, entries []engine.StoreEntry) error {
	if s.user.Annotations == nil {
		return fmt.Errorf("SetMetadata: annotations store not configured")
	}
	scope := annotate.ScopeServer
	if mailboxPattern != "" {
		scope = annotate.ScopeMailbox
	}
	return s.user.Annotations.Store(s.c.Context, engine.StoreParams{
		Scope:          scope,
		MailboxPattern: mailboxPattern,
		Entries:        entries,
		UserID:         s.annotationUserID(),
	})
}
