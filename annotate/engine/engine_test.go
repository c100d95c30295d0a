package engine

import (
	"context"
	"sort"
	"testing"

	"vault.ink/annotate"
	"vault.ink/annotate/kv"
	"vault.ink/annotate/registry"
)

// memDB is a minimal in-memory kv.DB for exercising the engine without
// a real database backend.
type memDB struct {
	data map[string][]byte
}

func newMemDB() *memDB { return &memDB{data: make(map[string][]byte)} }

func (d *memDB) View(_ context.Context, fn func(kv.Txn) error) error {
	return fn(&memTxn{db: d})
}

func (d *memDB) Update(_ context.Context, fn func(kv.Txn) error) error {
	snapshot := make(map[string][]byte, len(d.data))
	for k, v := range d.data {
		snapshot[k] = v
	}
	if err := fn(&memTxn{db: d}); err != nil {
		d.data = snapshot
		return err
	}
	return nil
}

func (d *memDB) Close() error { return nil }

type memTxn struct {
	db *memDB
}

func (t *memTxn) Get(key []byte) ([]byte, bool, error) {
	v, ok := t.db.data[string(key)]
	return v, ok, nil
}

func (t *memTxn) Put(key, value []byte) error {
	t.db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (t *memTxn) Delete(key []byte) error {
	delete(t.db.data, string(key))
	return nil
}

func (t *memTxn) NewCursor() (kv.Cursor, error) {
	keys := make([]string, 0, len(t.db.data))
	for k := range t.db.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memCursor{txn: t, keys: keys, pos: -1}, nil
}

type memCursor struct {
	txn  *memTxn
	keys []string
	pos  int
}

func (c *memCursor) Seek(prefix []byte) bool {
	for i, k := range c.keys {
		if k >= string(prefix) {
			c.pos = i
			return true
		}
	}
	c.pos = len(c.keys)
	return false
}

func (c *memCursor) Next() bool {
	c.pos++
	return c.pos < len(c.keys)
}

func (c *memCursor) Key() []byte   { return []byte(c.keys[c.pos]) }
func (c *memCursor) Value() []byte { return c.txn.db.data[c.keys[c.pos]] }
func (c *memCursor) Close() error  { return nil }

// fakeMailboxes is a minimal in-memory Mailboxes collaborator: every
// mailbox named in the boxes map is local unless RemoteServer is set.
type fakeMailboxes struct {
	boxes map[string]MailboxRef // internal name -> ref
}

func newFakeMailboxes(refs ...MailboxRef) *fakeMailboxes {
	m := &fakeMailboxes{boxes: make(map[string]MailboxRef)}
	for _, r := range refs {
		m.boxes[r.Internal] = r
	}
	return m
}

func (m *fakeMailboxes) List(_ context.Context, _ string, pattern *annotate.Pattern) ([]MailboxRef, error) {
	var out []MailboxRef
	names := make([]string, 0, len(m.boxes))
	for name := range m.boxes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ref := m.boxes[name]
		if pattern.Match(ref.External) {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (m *fakeMailboxes) Resolve(_ context.Context, _ string, internalMailbox string) (MailboxRef, error) {
	ref, ok := m.boxes[internalMailbox]
	if !ok {
		return MailboxRef{}, annotate.NewError(annotate.StatusMailboxNonexistent, "no such mailbox %q", internalMailbox)
	}
	return ref, nil
}

func (m *fakeMailboxes) OptionFlags(int64) (uint64, error)                { return 0, nil }
func (m *fakeMailboxes) SetOptionFlags(int64, uint64) error               { return nil }
func (m *fakeMailboxes) Pop3ShowAfter(int64) (int64, bool, error)         { return 0, false, nil }
func (m *fakeMailboxes) SetPop3ShowAfter(int64, int64, bool) error        { return nil }
func (m *fakeMailboxes) SpecialUse(int64) (string, error)                 { return "", nil }
func (m *fakeMailboxes) SetSpecialUse(int64, string) error                { return nil }
func (m *fakeMailboxes) FreeSpaceBytes(int64) (uint64, error)             { return 0, nil }
func (m *fakeMailboxes) SizeBytes(int64) (uint64, error)                  { return 0, nil }
func (m *fakeMailboxes) LastUpdate(int64) (int64, error)                  { return 0, nil }
func (m *fakeMailboxes) LastPopLogin(int64) (int64, bool, error)          { return 0, false, nil }

var _ Mailboxes = (*fakeMailboxes)(nil)

func newTestStore(t *testing.T, refs ...MailboxRef) *Store {
	t.Helper()
	reg, err := registry.New(nil, func(string, ...interface{}) {})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return Open(newMemDB(), reg, newFakeMailboxes(refs...), func(string, ...interface{}) {})
}

func TestStoreThenLookupShared(t *testing.T) {
	s := newTestStore(t, MailboxRef{Internal: "INBOX", External: "INBOX",
		Meta: annotate.MailboxMeta{MailboxID: 1, ACL: annotate.ACLLookup | annotate.ACLRead | annotate.ACLWrite}})
	ctx := context.Background()

	err := s.Store(ctx, StoreParams{
		Scope: annotate.ScopeMailbox, MailboxPattern: "INBOX", Admin: true,
		Entries: []StoreEntry{{Name: "/comment", Attribs: []StoreAttrib{{Name: "value.shared", Value: []byte("hello")}}}},
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	val, ok, err := s.Lookup(ctx, "INBOX", 0, "/comment", "")
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if string(val) != "hello" {
		t.Fatalf("got %q", val)
	}
}

func TestFetchPrivateIsolationSynthesizesSharedNIL(t *testing.T) {
	s := newTestStore(t, MailboxRef{Internal: "INBOX", External: "INBOX",
		Meta: annotate.MailboxMeta{MailboxID: 1, ACL: annotate.ACLLookup}})
	ctx := context.Background()

	err := s.Store(ctx, StoreParams{
		Scope: annotate.ScopeMailbox, MailboxPattern: "INBOX", UserID: "alice",
		Entries: []StoreEntry{{Name: "/comment", Attribs: []StoreAttrib{{Name: "value.priv", Value: []byte("x")}}}},
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	var outputs []Output
	err = s.Fetch(ctx, FetchParams{
		Scope: annotate.ScopeMailbox, MailboxPattern: "INBOX", UserID: "bob",
		EntryPatterns: []string{"/comment"}, AttribNames: []string{"value.priv", "value.shared"},
		Sink: func(o Output) { outputs = append(outputs, o) },
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(outputs) != 1 || len(outputs[0].Values) != 1 {
		t.Fatalf("got %+v", outputs)
	}
	v := outputs[0].Values[0]
	if v.Attrib != annotate.AttribValueShared || len(v.Value) != 0 {
		t.Fatalf("expected synthesized empty value.shared, got %+v", v)
	}
}

func TestFetchWildcardGroupsPerEntry(t *testing.T) {
	s := newTestStore(t, MailboxRef{Internal: "INBOX", External: "INBOX",
		Meta: annotate.MailboxMeta{MailboxID: 1, ACL: annotate.ACLLookup | annotate.ACLRead | annotate.ACLWrite}})
	ctx := context.Background()

	for _, e := range []struct{ name, value string }{{"/comment", "A"}, {"/sort", "B"}} {
		err := s.Store(ctx, StoreParams{
			Scope: annotate.ScopeMailbox, MailboxPattern: "INBOX", Admin: true,
			Entries: []StoreEntry{{Name: e.name, Attribs: []StoreAttrib{{Name: "value.shared", Value: []byte(e.value)}}}},
		})
		if err != nil {
			t.Fatalf("Store %s: %v", e.name, err)
		}
	}

	var outputs []Output
	err := s.Fetch(ctx, FetchParams{
		Scope: annotate.ScopeMailbox, MailboxPattern: "INBOX",
		EntryPatterns: []string{"*"}, AttribNames: []string{"value.shared"},
		Sink: func(o Output) { outputs = append(outputs, o) },
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("expected 2 grouped outputs, got %+v", outputs)
	}
}

func TestStoreMailboxNonexistent(t *testing.T) {
	s := newTestStore(t)
	err := s.Store(context.Background(), StoreParams{
		Scope: annotate.ScopeMailbox, MailboxPattern: "INBOX",
		Entries: []StoreEntry{{Name: "/comment", Attribs: []StoreAttrib{{Name: "value.shared", Value: []byte("x")}}}},
	})
	if annotate.AsStatus(err) != annotate.StatusMailboxNonexistent {
		t.Fatalf("expected MailboxNonexistent, got %v", err)
	}
}

func TestStoreSharedRequiresReadWrite(t *testing.T) {
	s := newTestStore(t, MailboxRef{Internal: "INBOX", External: "INBOX",
		Meta: annotate.MailboxMeta{MailboxID: 1, ACL: annotate.ACLLookup}})
	err := s.Store(context.Background(), StoreParams{
		Scope: annotate.ScopeMailbox, MailboxPattern: "INBOX",
		Entries: []StoreEntry{{Name: "/comment", Attribs: []StoreAttrib{{Name: "value.shared", Value: []byte("x")}}}},
	})
	if annotate.AsStatus(err) != annotate.StatusPermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestRenameMailboxCarriesAnnotations(t *testing.T) {
	s := newTestStore(t, MailboxRef{Internal: "mbox1", External: "mbox1",
		Meta: annotate.MailboxMeta{MailboxID: 1, ACL: annotate.ACLLookup | annotate.ACLRead | annotate.ACLWrite}})
	ctx := context.Background()

	if err := s.Store(ctx, StoreParams{
		Scope: annotate.ScopeMailbox, MailboxPattern: "mbox1", Admin: true,
		Entries: []StoreEntry{{Name: "/comment", Attribs: []StoreAttrib{{Name: "value.shared", Value: []byte("keep")}}}},
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := s.RenameMailbox(ctx, "mbox1", "mbox2", "", ""); err != nil {
		t.Fatalf("RenameMailbox: %v", err)
	}

	if _, ok, _ := s.Lookup(ctx, "mbox1", 0, "/comment", ""); ok {
		t.Fatalf("old mailbox should have no record left")
	}
	val, ok, err := s.Lookup(ctx, "mbox2", 0, "/comment", "")
	if err != nil || !ok || string(val) != "keep" {
		t.Fatalf("got val=%q ok=%v err=%v", val, ok, err)
	}
}

func TestDeleteMailboxRemovesAllKeys(t *testing.T) {
	s := newTestStore(t, MailboxRef{Internal: "A", External: "A",
		Meta: annotate.MailboxMeta{MailboxID: 1, ACL: annotate.ACLLookup | annotate.ACLRead | annotate.ACLWrite}})
	ctx := context.Background()
	if err := s.Store(ctx, StoreParams{
		Scope: annotate.ScopeMailbox, MailboxPattern: "A", Admin: true,
		Entries: []StoreEntry{{Name: "/comment", Attribs: []StoreAttrib{{Name: "value.shared", Value: []byte("x")}}}},
	}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.DeleteMailbox(ctx, "A"); err != nil {
		t.Fatalf("DeleteMailbox: %v", err)
	}
	if _, ok, _ := s.Lookup(ctx, "A", 0, "/comment", ""); ok {
		t.Fatalf("expected no remaining keys under A")
	}
}

func TestCopyMessageLeavesSourceIntact(t *testing.T) {
	s := newTestStore(t,
		MailboxRef{Internal: "A", External: "A", Meta: annotate.MailboxMeta{MailboxID: 1}},
		MailboxRef{Internal: "B", External: "B", Meta: annotate.MailboxMeta{MailboxID: 2}},
	)
	ctx := context.Background()

	if err := WriteEntry(&memTxn{db: s.db.(*memDB)}, "A", 7, "/altsubject", "", []byte("hi")); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if err := s.CopyMessage(ctx, "A", 7, "B", 9, ""); err != nil {
		t.Fatalf("CopyMessage: %v", err)
	}
	src, srcOK, _ := s.Lookup(ctx, "A", 7, "/altsubject", "")
	dst, dstOK, _ := s.Lookup(ctx, "B", 9, "/altsubject", "")
	if !srcOK || string(src) != "hi" {
		t.Fatalf("expected source message annotation to survive a copy, got ok=%v val=%q", srcOK, src)
	}
	if !dstOK || string(dst) != "hi" {
		t.Fatalf("expected destination message annotation, got ok=%v val=%q", dstOK, dst)
	}
}
