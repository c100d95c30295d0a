package annotate

import "testing"

func TestScopeCursorValidate(t *testing.T) {
	ok := []*ScopeCursor{
		{Scope: ScopeServer},
		{Scope: ScopeMailbox, InternalMailbox: "INBOX"},
		{Scope: ScopeMessage, InternalMailbox: "INBOX", UID: 1},
	}
	for _, c := range ok {
		if err := c.Validate(); err != nil {
			t.Fatalf("%v: unexpected error %v", c, err)
		}
	}

	bad := []*ScopeCursor{
		{Scope: ScopeServer, InternalMailbox: "INBOX"},
		{Scope: ScopeServer, UID: 1},
		{Scope: ScopeMailbox},
		{Scope: ScopeMailbox, InternalMailbox: "INBOX", UID: 1},
		{Scope: ScopeMessage, InternalMailbox: "INBOX"},
		{Scope: ScopeMessage, UID: 1},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("%v: expected error", c)
		}
	}
}

func TestACLRightHasAndString(t *testing.T) {
	r := ACLRead | ACLSeen
	if !r.Has(ACLRead) {
		t.Fatalf("expected Has(ACLRead)")
	}
	if r.Has(ACLWrite) {
		t.Fatalf("did not expect Has(ACLWrite)")
	}
	if ACLRight(0).String() != "none" {
		t.Fatalf("got %q", ACLRight(0).String())
	}
	if r.String() == "none" || r.String() == "" {
		t.Fatalf("expected non-empty rights string, got %q", r.String())
	}
}

func TestMailboxMetaIsRemote(t *testing.T) {
	local := MailboxMeta{}
	remote := MailboxMeta{RemoteServer: "imap2.example.com"}
	if local.IsRemote() {
		t.Fatalf("expected local mailbox to not be remote")
	}
	if !remote.IsRemote() {
		t.Fatalf("expected remote mailbox to be remote")
	}
}
