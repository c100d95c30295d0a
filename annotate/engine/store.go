package engine

import (
	"context"

	"vault.ink/annotate"
	"vault.ink/annotate/handlers"
	"vault.ink/annotate/kv"
	"vault.ink/annotate/registry"
)

// StoreAttrib is one (attribute_name, value) pair as given by a
// caller, before classification/canonicalisation (spec §4.7 input).
// A nil Value means delete (the Absent sentinel).
type StoreAttrib struct {
	Name  string
	Value []byte
}

// StoreEntry is one entry_name plus the attributes to write under it.
type StoreEntry struct {
	Name    string
	Attribs []StoreAttrib
}

// StoreParams are the inputs of the store engine (C7), spec §4.7.
type StoreParams struct {
	Scope annotate.Scope

	MailboxPattern string // mailbox scope: external-name pattern to enumerate
	MailboxSep     byte

	InternalMailbox string // message scope
	UID             uint32

	Entries []StoreEntry

	UserID string
	Admin  bool

	Dir string

	// SyncLog receives one call per affected mailbox, spec §4.7 step 8.
	SyncLog func(mailbox string)

	LogF func(format string, v ...interface{})
}

func classifyStoreAttrib(name string) (bit annotate.AttribMask, deprecated bool, ok bool) {
	switch name {
	case "value.shared":
		return annotate.AttribValueShared, false, true
	case "value.priv":
		return annotate.AttribValuePriv, false, true
	}
	if isDeprecatedAttrib(name) {
		return 0, true, true
	}
	return 0, false, false
}

// preparedEntry is one StoreEntry fully resolved, classified and
// canonicalised, ready to be handed to its setter under a cursor.
type preparedEntry struct {
	name   string
	entry  *registry.Entry
	values []handlers.AttribValue
}

// prepareEntries implements spec §4.7 steps 1-3: resolve each entry
// name (exact match only, no wildcards), classify and canonicalise
// its attributes. It touches no transaction, so a BadValue/
// PermissionDenied failure here never needs a rollback.
func (s *Store) prepareEntries(scope annotate.Scope, entries []StoreEntry, logf func(format string, v ...interface{})) ([]preparedEntry, error) {
	out := make([]preparedEntry, 0, len(entries))
	warnedDeprecated := false
	for _, se := range entries {
		entry, _, ok := s.registry.Lookup(scope, se.Name)
		if !ok {
			return nil, annotate.NewError(annotate.StatusPermissionDenied, "store: unknown scope %v", scope)
		}
		if !entry.HasSetter() {
			return nil, annotate.NewError(annotate.StatusPermissionDenied, "store: %q has no setter", se.Name)
		}

		var values []handlers.AttribValue
		for _, av := range se.Attribs {
			bit, deprecated, known := classifyStoreAttrib(av.Name)
			if !known {
				return nil, annotate.NewError(annotate.StatusPermissionDenied, "store: unknown attribute %q", av.Name)
			}
			if deprecated {
				if !warnedDeprecated {
					logf("store: attribute %q is deprecated, ignoring", av.Name)
					warnedDeprecated = true
				}
				continue
			}
			if entry.AllowedAttribs&bit == 0 {
				return nil, annotate.NewError(annotate.StatusPermissionDenied, "store: %q forbids attribute %q", se.Name, av.Name)
			}
			if annotate.IsAbsent(av.Value) {
				values = append(values, handlers.AttribValue{Attrib: bit, Value: nil})
				continue
			}
			canon, err := canonicalizeValue(entry.ValueType, av.Value)
			if err != nil {
				return nil, err
			}
			values = append(values, handlers.AttribValue{Attrib: bit, Value: canon})
		}
		out = append(out, preparedEntry{name: se.Name, entry: entry, values: values})
	}
	return out, nil
}

// Store implements spec §4.7: resolve, classify, canonicalise, then
// execute every setter inside one transaction, aborting the whole
// call on any failure.
func (s *Store) Store(ctx context.Context, p StoreParams) error {
	logf := p.LogF
	if logf == nil {
		logf = s.logf
	}

	prepared, err := s.prepareEntries(p.Scope, p.Entries, logf)
	if err != nil {
		return err
	}

	affected := make(map[string]bool)
	markAffected := func(mailbox string) {
		if p.SyncLog != nil {
			affected[mailbox] = true
		}
	}

	err = s.withUpdate(ctx, func(txn kv.Txn) error {
		sctx := &handlers.StoreContext{KV: txn, Mailboxes: s.mailboxes, Dir: p.Dir, SyncLog: markAffected}

		switch p.Scope {
		case annotate.ScopeServer:
			cursor := &annotate.ScopeCursor{Scope: annotate.ScopeServer, UserID: p.UserID, Admin: p.Admin}
			if err := cursor.Validate(); err != nil {
				return err
			}
			for _, pe := range prepared {
				if err := checkServerACL(cursor, pe); err != nil {
					return err
				}
				if err := s.runSetter(cursor, pe, sctx); err != nil {
					return err
				}
			}

		case annotate.ScopeMailbox:
			sep := p.MailboxSep
			if sep == 0 {
				sep = '/'
			}
			pat := annotate.Compile(p.MailboxPattern, sep)
			mailboxes, err := s.mailboxes.List(ctx, p.UserID, pat)
			if err != nil {
				return err
			}
			if len(mailboxes) == 0 {
				return annotate.NewError(annotate.StatusMailboxNonexistent, "store: pattern %q matched no mailboxes", p.MailboxPattern)
			}
			dispatchedBackend := make(map[string]bool)
			for _, mb := range mailboxes {
				cursor := &annotate.ScopeCursor{
					Scope: annotate.ScopeMailbox, InternalMailbox: mb.Internal,
					ExternalMailbox: mb.External, Meta: mb.Meta,
					UserID: p.UserID, Admin: p.Admin,
				}
				if err := cursor.Validate(); err != nil {
					return err
				}
				if mb.Meta.IsRemote() {
					if s.ProxyStore != nil && !dispatchedBackend[mb.Meta.RemoteServer] {
						dispatchedBackend[mb.Meta.RemoteServer] = true
						proxyParams := p
						proxyParams.MailboxPattern = mb.External
						if err := s.ProxyStore(ctx, mb.Meta.RemoteServer, proxyParams); err != nil {
							return err
						}
					}
					continue
				}
				for _, pe := range prepared {
					if err := checkMailboxACL(cursor, pe); err != nil {
						return err
					}
					if err := s.runSetter(cursor, pe, sctx); err != nil {
						return err
					}
				}
			}

		case annotate.ScopeMessage:
			// Spec §9 Open Questions: message-scope store imposes no
			// ACL check at this layer beyond the entry's own setter.
			mb, err := s.mailboxes.Resolve(ctx, p.UserID, p.InternalMailbox)
			if err != nil {
				return err
			}
			cursor := &annotate.ScopeCursor{
				Scope: annotate.ScopeMessage, InternalMailbox: mb.Internal,
				ExternalMailbox: mb.External, UID: p.UID, Meta: mb.Meta,
				UserID: p.UserID, Admin: p.Admin,
			}
			if err := cursor.Validate(); err != nil {
				return err
			}
			for _, pe := range prepared {
				if err := s.runSetter(cursor, pe, sctx); err != nil {
					return err
				}
			}

		default:
			return annotate.NewError(annotate.StatusInternal, "store: unknown scope %v", p.Scope)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if p.SyncLog != nil {
		for mailbox := range affected {
			p.SyncLog(mailbox)
		}
		if p.Scope == annotate.ScopeServer {
			p.SyncLog("")
		}
	}
	return nil
}

// checkServerACL implements spec §4.7 step 5: shared server
// annotations require admin; private server annotations require
// nothing beyond authentication.
func checkServerACL(cursor *annotate.ScopeCursor, pe preparedEntry) error {
	for _, av := range pe.values {
		if av.Attrib == annotate.AttribValueShared && !cursor.Admin {
			return annotate.NewError(annotate.StatusPermissionDenied, "store: %q shared requires admin", pe.name)
		}
	}
	return nil
}

// checkMailboxACL implements spec §4.7 step 6: shared mailbox
// annotations require read|write plus the entry's extra_acl_bits;
// private mailbox annotations require only lookup.
func checkMailboxACL(cursor *annotate.ScopeCursor, pe preparedEntry) error {
	for _, av := range pe.values {
		switch av.Attrib {
		case annotate.AttribValueShared, annotate.AttribSizeShared:
			want := annotate.ACLRead | annotate.ACLWrite | pe.entry.ExtraACL
			if !cursor.Meta.ACL.Has(want) {
				return annotate.NewError(annotate.StatusPermissionDenied, "store: %q shared requires %v", pe.name, want)
			}
		case annotate.AttribValuePriv, annotate.AttribSizePriv:
			if !cursor.Meta.ACL.Has(annotate.ACLLookup) {
				return annotate.NewError(annotate.StatusPermissionDenied, "store: %q requires lookup", pe.name)
			}
		}
	}
	return nil
}

func (s *Store) runSetter(cursor *annotate.ScopeCursor, pe preparedEntry, sctx *handlers.StoreContext) error {
	_, set := dispatch(pe.entry)
	if set == nil {
		return annotate.NewError(annotate.StatusPermissionDenied, "store: %q has no setter", pe.name)
	}
	return set(cursor, pe.name, pe.values, sctx)
}
