package engine

import (
	"context"
	"strconv"

	"vault.ink/annotate"
	"vault.ink/annotate/handlers"
	"vault.ink/annotate/kv"
	"vault.ink/annotate/registry"
)

// Output is one flushed attribute-value group for a single
// (mailbox, uid, entry) tuple, spec §4.6 "Grouping".
type Output struct {
	Mailbox string // external name
	UID     uint32
	Entry   string
	Values  []handlers.Result
}

// FetchParams are the inputs of the fetch engine (C6), spec §4.6.
type FetchParams struct {
	Scope annotate.Scope

	// Mailbox scope: the external-name pattern to enumerate.
	MailboxPattern string
	MailboxSep     byte // defaults to '/'

	// Message scope: the single target, already resolved by the
	// caller to an internal mailbox name.
	InternalMailbox string
	UID             uint32

	EntryPatterns []string
	AttribNames   []string

	UserID string
	Admin  bool

	// MaxSize, if positive, caps emitted value length (spec §4.6
	// "Size cap"); LargestOversize, if non-nil, records the largest
	// value length dropped for that reason.
	MaxSize         int
	LargestOversize *int

	// Dir is passed through to file-backed server handlers.
	Dir string

	Sink func(Output)

	LogF func(format string, v ...interface{})
}

// entrySelection is the result of spec §4.6 step 2 for one entry-name
// pattern: the descriptors to invoke, and whether a proxy fallback is
// enabled for this pattern.
type entrySelection struct {
	pattern *annotate.Pattern
	entries []*registry.Entry
	proxy   bool
}

func (s *Store) selectEntries(scope annotate.Scope, entryPatterns []string) []entrySelection {
	var out []entrySelection
	for _, raw := range entryPatterns {
		pat := annotate.Compile(raw, '/')
		matches, exactNonProxy := s.registry.MatchPattern(scope, pat)
		sel := entrySelection{pattern: pat, entries: matches, proxy: !exactNonProxy}
		if !exactNonProxy {
			if ca := s.registry.CatchAll(scope); ca != nil {
				sel.entries = append(sel.entries, ca)
			}
		}
		out = append(out, sel)
	}
	return out
}

// Fetch implements spec §4.6. It runs inside one read transaction and
// calls p.Sink once per flushed (mailbox, uid, entry) group.
func (s *Store) Fetch(ctx context.Context, p FetchParams) error {
	logf := p.LogF
	if logf == nil {
		logf = s.logf
	}
	attribs, err := compileAttribMask(p.AttribNames, logf)
	if err != nil {
		return err
	}
	if attribs == annotate.AttribNone {
		return nil
	}

	mailboxSep := p.MailboxSep
	if mailboxSep == 0 {
		mailboxSep = '/'
	}

	selections := s.selectEntries(p.Scope, p.EntryPatterns)
	catchAll := s.registry.CatchAll(p.Scope)

	return s.db.View(ctx, func(txn kv.Txn) error {
		fl := newFlusher(p.MaxSize, p.LargestOversize, p.Sink)
		defer fl.finish()

		seen := make(map[string]bool)
		emit := func(mailbox string, uid uint32, entry string, r handlers.Result) {
			key := mailbox + "\x00" + strconv.FormatUint(uint64(uid), 10) + "\x00" +
				entry + "\x00" + p.UserID + "\x00" + strconv.Itoa(int(r.Attrib))
			if seen[key] {
				return
			}
			seen[key] = true
			fl.add(mailbox, uid, entry, r)
		}

		fctxFor := func(localEmit func(entryName string, r handlers.Result)) *handlers.FetchContext {
			return &handlers.FetchContext{KV: txn, Mailboxes: s.mailboxes, Dir: p.Dir, Emit: localEmit}
		}

		runSelection := func(cursor *annotate.ScopeCursor, sel entrySelection) error {
			emittedShared := annotate.AttribNone
			localEmit := func(entryName string, r handlers.Result) {
				if r.Attrib&(annotate.AttribValueShared|annotate.AttribSizeShared) != 0 {
					emittedShared |= r.Attrib
				}
				emit(cursor.ExternalMailbox, cursor.UID, entryName, r)
			}
			fctx := fctxFor(localEmit)

			for _, e := range sel.entries {
				thisAttribs := attribs & e.AllowedAttribs
				if thisAttribs == annotate.AttribNone {
					continue
				}
				get, _ := dispatch(e)
				if get == nil {
					continue
				}
				namePattern := sel.pattern
				if e != catchAll {
					namePattern = annotate.Compile(e.Name, '/')
				}
				if err := get(cursor, namePattern, thisAttribs, fctx); err != nil {
					return err
				}
			}

			// Explicit-name NIL synthesis (spec §4.6): only for the
			// Shared classes, and only when the caller's pattern names
			// one literal entry. Private isolation (scenario 2) relies
			// on the owning handler simply producing no output for a
			// foreign user_id; that case is never synthesized.
			if !sel.pattern.HasWildcard() {
				wantShared := attribs & (annotate.AttribValueShared | annotate.AttribSizeShared)
				missing := wantShared &^ emittedShared
				if missing != annotate.AttribNone {
					entryName := sel.pattern.String()
					if missing&annotate.AttribValueShared != 0 {
						emit(cursor.ExternalMailbox, cursor.UID, entryName, handlers.Result{Attrib: annotate.AttribValueShared, Value: []byte{}})
					}
					if missing&annotate.AttribSizeShared != 0 {
						emit(cursor.ExternalMailbox, cursor.UID, entryName, handlers.Result{Attrib: annotate.AttribSizeShared, Value: []byte{}})
					}
				}
			}
			return nil
		}

		switch p.Scope {
		case annotate.ScopeServer:
			cursor := &annotate.ScopeCursor{Scope: annotate.ScopeServer, UserID: p.UserID, Admin: p.Admin}
			if err := cursor.Validate(); err != nil {
				return err
			}
			for _, sel := range selections {
				if err := runSelection(cursor, sel); err != nil {
					return err
				}
			}

		case annotate.ScopeMailbox:
			pat := annotate.Compile(p.MailboxPattern, mailboxSep)
			mailboxes, err := s.mailboxes.List(ctx, p.UserID, pat)
			if err != nil {
				return err
			}
			dispatchedBackend := make(map[string]bool)
			anyProxy := false
			for _, sel := range selections {
				if sel.proxy {
					anyProxy = true
				}
			}
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
					if anyProxy && s.ProxyFetch != nil && !dispatchedBackend[mb.Meta.RemoteServer] {
						dispatchedBackend[mb.Meta.RemoteServer] = true
						proxyParams := p
						proxyParams.MailboxPattern = mb.External
						if err := s.ProxyFetch(ctx, mb.Meta.RemoteServer, proxyParams); err != nil {
							return err
						}
					}
					continue
				}
				for _, sel := range selections {
					if err := runSelection(cursor, sel); err != nil {
						return err
					}
				}
			}

		case annotate.ScopeMessage:
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
			for _, sel := range selections {
				if err := runSelection(cursor, sel); err != nil {
					return err
				}
			}

		default:
			return annotate.NewError(annotate.StatusInternal, "fetch: unknown scope %v", p.Scope)
		}

		return nil
	})
}

// flusher accumulates handler output per (mailbox, uid, entry) and
// flushes to sink on any change of that key, per spec §4.6 "Grouping";
// it also enforces the size cap.
type flusher struct {
	maxSize  int
	oversize *int
	sink     func(Output)

	started    bool
	curMailbox string
	curUID     uint32
	curEntry   string
	curValues  []handlers.Result
}

func newFlusher(maxSize int, oversize *int, sink func(Output)) *flusher {
	return &flusher{maxSize: maxSize, oversize: oversize, sink: sink}
}

func (f *flusher) add(mailbox string, uid uint32, entry string, r handlers.Result) {
	if f.maxSize > 0 && len(r.Value) > f.maxSize {
		if f.oversize != nil && len(r.Value) > *f.oversize {
			*f.oversize = len(r.Value)
		}
		return
	}
	if f.started && (mailbox != f.curMailbox || uid != f.curUID || entry != f.curEntry) {
		f.flush()
	}
	f.curMailbox, f.curUID, f.curEntry = mailbox, uid, entry
	f.curValues = append(f.curValues, r)
	f.started = true
}

func (f *flusher) flush() {
	if len(f.curValues) > 0 && f.sink != nil {
		f.sink(Output{Mailbox: f.curMailbox, UID: f.curUID, Entry: f.curEntry, Values: f.curValues})
	}
	f.curValues = nil
}

func (f *flusher) finish() { f.flush() }
