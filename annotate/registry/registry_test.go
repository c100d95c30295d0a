package registry

import (
	"testing"

	"vault.ink/annotate"
)

func TestBuiltinLookupExact(t *testing.T) {
	r, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, exact, ok := r.Lookup(annotate.ScopeMailbox, "/specialuse")
	if !ok || !exact {
		t.Fatalf("expected exact match for /specialuse, got ok=%v exact=%v", ok, exact)
	}
	if _, isSpecialUse := e.Handler.(SpecialUse); !isSpecialUse {
		t.Fatalf("expected SpecialUse handler, got %T", e.Handler)
	}
}

func TestLookupFallsBackToCatchAll(t *testing.T) {
	r, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, exact, ok := r.Lookup(annotate.ScopeMailbox, "/does/not/exist")
	if !ok || exact {
		t.Fatalf("expected catch-all (non-exact) match, got ok=%v exact=%v", ok, exact)
	}
	if _, isDB := e.Handler.(DbBacked); !isDB {
		t.Fatalf("expected catch-all DbBacked handler, got %T", e.Handler)
	}
}

func TestLookupUnknownScope(t *testing.T) {
	r, _ := New(nil, nil)
	if _, _, ok := r.Lookup(annotate.Scope(99), "/comment"); ok {
		t.Fatalf("expected ok=false for unknown scope")
	}
}

func TestMatchPatternWildcard(t *testing.T) {
	r, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pat := annotate.Compile(vendorPrefix+"*", '/')
	matches, exactNonProxy := r.MatchPattern(annotate.ScopeMailbox, pat)
	if len(matches) == 0 {
		t.Fatalf("expected vendor-prefix wildcard to match multiple built-ins")
	}
	if exactNonProxy {
		t.Fatalf("wildcard pattern should not report an exact match")
	}
}

func TestMatchPatternExactNonProxy(t *testing.T) {
	r, _ := New(nil, nil)
	pat := annotate.Compile("/comment", '/')
	_, exactNonProxy := r.MatchPattern(annotate.ScopeMailbox, pat)
	if !exactNonProxy {
		t.Fatalf("expected exact match for non-wildcard /comment")
	}
}

func TestMatchPatternExactProxyOnlyDoesNotDisableFallback(t *testing.T) {
	r, _ := New(nil, nil)
	pat := annotate.Compile(vendorPrefix+"server", '/')
	_, exactNonProxy := r.MatchPattern(annotate.ScopeMailbox, pat)
	if exactNonProxy {
		t.Fatalf("proxy_only exact match must not disable catch-all fallback")
	}
}

func TestConfigRejectsVendorPrefix(t *testing.T) {
	var warned []string
	logf := func(format string, v ...interface{}) { warned = append(warned, format) }
	r, err := New([]string{vendorPrefix + "custom,mailbox,string,backend_only,value.shared,"}, logf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, exact, _ := r.Lookup(annotate.ScopeMailbox, vendorPrefix+"custom"); exact {
		t.Fatalf("vendor-prefix config entry should have been rejected")
	}
	if len(warned) == 0 {
		t.Fatalf("expected a warning for rejected vendor-prefix entry")
	}
}

func TestConfigRejectsMessageFlagsPrefix(t *testing.T) {
	r, err := New([]string{"/flags/seen,message,string,backend_only,value.shared,"}, func(string, ...interface{}) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, exact, _ := r.Lookup(annotate.ScopeMessage, "/flags/seen"); exact {
		t.Fatalf("message-scope /flags/ entry should have been rejected")
	}
}

func TestConfigAddsCustomEntry(t *testing.T) {
	r, err := New([]string{"/myext,mailbox,string,backend_only,value.shared|value.priv,lookup|write"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, exact, ok := r.Lookup(annotate.ScopeMailbox, "/myext")
	if !ok || !exact {
		t.Fatalf("expected custom entry to be registered")
	}
	if e.AllowedAttribs != annotate.AttribValueShared|annotate.AttribValuePriv {
		t.Fatalf("got attribs %v", e.AllowedAttribs)
	}
	if e.ExtraACL != annotate.ACLLookup|annotate.ACLWrite {
		t.Fatalf("got acl %v", e.ExtraACL)
	}
}

func TestConfigStripsDeprecatedAttribute(t *testing.T) {
	r, err := New([]string{"/myext,mailbox,string,backend_only,value.shared|deprecated,"}, func(string, ...interface{}) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, _, _ := r.Lookup(annotate.ScopeMailbox, "/myext")
	if e.AllowedAttribs&annotate.AttribDeprecated != 0 {
		t.Fatalf("deprecated bit should have been stripped from resolved mask")
	}
	if e.AllowedAttribs != annotate.AttribValueShared {
		t.Fatalf("got attribs %v", e.AllowedAttribs)
	}
}

func TestConfigUnknownTokenIsFatal(t *testing.T) {
	if _, err := New([]string{"/myext,mailbox,stringish,backend_only,value.shared,"}, func(string, ...interface{}) {}); err == nil {
		t.Fatalf("expected error for unknown value type token")
	}
}

func TestConfigBlankAndCommentLinesSkipped(t *testing.T) {
	r, err := New([]string{"", "  ", "# a comment", "/myext,mailbox,string,backend_only,value.shared,"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, ok := r.Lookup(annotate.ScopeMailbox, "/myext"); !ok {
		t.Fatalf("expected custom entry despite blank/comment lines")
	}
}

func TestBuiltinComputedHasNoSetter(t *testing.T) {
	r, _ := New(nil, nil)
	e, _, _ := r.Lookup(annotate.ScopeServer, vendorPrefix+"freespace")
	if e.HasSetter() {
		t.Fatalf("computed freespace entry should report HasSetter()=false")
	}
}
