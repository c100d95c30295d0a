package registry

import "vault.ink/annotate"

// Entry is a typed entry descriptor, spec §3 "Entry descriptor".
type Entry struct {
	Name           string
	Scope          annotate.Scope
	ValueType      annotate.ValueType
	ProxyKind      annotate.ProxyKind
	AllowedAttribs annotate.AttribMask
	ExtraACL       annotate.ACLRight
	Handler        HandlerKind
}

// HasSetter reports whether the entry's handler kind supports store.
// Computed entries are get-only.
func (e *Entry) HasSetter() bool {
	_, computed := e.Handler.(Computed)
	return !computed
}

// scopeTable holds one scope's ordered entry list plus its catch-all
// database descriptor, per spec §4.3 ("Three ordered collections
// indexed by scope... Each scope has a catch-all database
// descriptor").
type scopeTable struct {
	entries  []*Entry
	byName   map[string]*Entry
	catchAll *Entry
}

func newScopeTable(scope annotate.Scope, catchAllAllowed annotate.AttribMask) *scopeTable {
	return &scopeTable{
		byName: make(map[string]*Entry),
		catchAll: &Entry{
			Name:           "",
			Scope:          scope,
			ValueType:      annotate.ValueString,
			ProxyKind:      annotate.BackendOnly,
			AllowedAttribs: catchAllAllowed,
			Handler:        DbBacked{},
		},
	}
}

func (t *scopeTable) add(e *Entry) {
	t.entries = append(t.entries, e)
	t.byName[e.Name] = e
}

// Registry is the immutable, scope-indexed table of entry
// descriptors, built once at startup (spec §3 "Lifecycles", §4.3).
type Registry struct {
	server  *scopeTable
	mailbox *scopeTable
	message *scopeTable
}

func scopeTableFor(r *Registry, scope annotate.Scope) *scopeTable {
	switch scope {
	case annotate.ScopeServer:
		return r.server
	case annotate.ScopeMailbox:
		return r.mailbox
	case annotate.ScopeMessage:
		return r.message
	default:
		return nil
	}
}

// Lookup finds the exact-name entry for scope, or the scope's
// catch-all if name matches nothing, per spec §4.6 step 2 / §4.7
// step 1. ok is false only for an unknown scope.
func (r *Registry) Lookup(scope annotate.Scope, name string) (entry *Entry, exact bool, ok bool) {
	t := scopeTableFor(r, scope)
	if t == nil {
		return nil, false, false
	}
	if e, found := t.byName[name]; found {
		return e, true, true
	}
	return t.catchAll, false, true
}

// MatchPattern returns every non-catch-all entry in scope whose name
// matches pattern, plus whether an exact (non-wildcard, non-proxy-only)
// equality match was among them — per spec §4.6 step 2, an exact match
// against a non-proxy-only descriptor disables the catch-all/proxy
// fallback for that pattern.
func (r *Registry) MatchPattern(scope annotate.Scope, pattern *annotate.Pattern) (matches []*Entry, exactNonProxy bool) {
	t := scopeTableFor(r, scope)
	if t == nil {
		return nil, false
	}
	for _, e := range t.entries {
		if !pattern.Match(e.Name) {
			continue
		}
		matches = append(matches, e)
		if e.Name == pattern.String() && e.ProxyKind != annotate.ProxyOnly {
			exactNonProxy = true
		}
	}
	return matches, exactNonProxy
}

// CatchAll returns scope's catch-all database descriptor.
func (r *Registry) CatchAll(scope annotate.Scope) *Entry {
	t := scopeTableFor(r, scope)
	if t == nil {
		return nil
	}
	return t.catchAll
}

// All returns every explicitly registered entry for scope, in
// registration order (built-ins first, then configuration-file
// entries).
func (r *Registry) All(scope annotate.Scope) []*Entry {
	t := scopeTableFor(r, scope)
	if t == nil {
		return nil
	}
	out := make([]*Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
