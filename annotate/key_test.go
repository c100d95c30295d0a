package annotate

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeKeyRoundTrip(t *testing.T) {
	tests := []struct {
		mailbox, entry, userID string
		uid                    uint32
	}{
		{"INBOX", "/comment", "", 0},
		{"INBOX", "/comment", "alice", 0},
		{"Archive/2020", "/vendor/cmu/cyrus-imapd/partition", "", 0},
		{"INBOX", "/altsubject", "bob", 42},
		{"", "/admin", "", 0}, // server scope
	}
	for _, tc := range tests {
		k := EncodeKey(tc.mailbox, tc.uid, tc.entry, tc.userID)
		mailbox, uid, entry, userID, err := DecodeKey(k)
		if err != nil {
			t.Fatalf("DecodeKey(%q): %v", k, err)
		}
		if mailbox != tc.mailbox || uid != tc.uid || entry != tc.entry || userID != tc.userID {
			t.Fatalf("round trip mismatch: got (%q,%d,%q,%q) want (%q,%d,%q,%q)",
				mailbox, uid, entry, userID, tc.mailbox, tc.uid, tc.entry, tc.userID)
		}
	}
}

func TestEncodeKeyZeroUIDIsMailboxScope(t *testing.T) {
	k := EncodeKey("INBOX", 0, "/comment", "")
	if strings.Contains(string(k), "/UID") {
		t.Fatalf("uid=0 key should not contain a UID designator: %q", k)
	}
}

func TestDecodeKeyRejectsZeroUID(t *testing.T) {
	bad := Key("INBOX\x00/UID0/comment\x00\x00")
	if _, _, _, _, err := DecodeKey(bad); err == nil {
		t.Fatalf("expected BadEntry for zero UID")
	} else if AsStatus(err) != StatusBadEntry {
		t.Fatalf("expected BadEntry, got %v", err)
	}
}

func TestDecodeKeyRejectsMissingTerminator(t *testing.T) {
	bad := Key("INBOX\x00/comment\x00alice")
	if _, _, _, _, err := DecodeKey(bad); err == nil {
		t.Fatalf("expected BadEntry for missing terminator")
	}
}

func TestDecodeKeyRejectsStrayNUL(t *testing.T) {
	bad := Key("INBOX\x00/com\x00ment\x00alice\x00")
	if _, _, _, _, err := DecodeKey(bad); err == nil {
		t.Fatalf("expected BadEntry for stray NUL")
	}
}

func TestDecodeKeyRejectsWrongFieldCount(t *testing.T) {
	bad := Key("INBOX\x00/comment\x00")
	if _, _, _, _, err := DecodeKey(bad); err == nil {
		t.Fatalf("expected BadEntry for wrong field count")
	}
}

func TestEncodePrefixIsPrefixOfAnyUser(t *testing.T) {
	prefix := EncodePrefix("INBOX", 0, "/comment")
	for _, user := range []string{"", "alice", "bob"} {
		k := EncodeKey("INBOX", 0, "/comment", user)
		if !bytes.HasPrefix(k, prefix) {
			t.Fatalf("EncodeKey(user=%q) = %q does not have prefix %q", user, k, prefix)
		}
	}
}

func TestPrefixUpperBound(t *testing.T) {
	prefix := EncodePrefix("INBOX", 0, "/comment")
	upper := PrefixUpperBound(prefix)
	if bytes.Compare(prefix, upper) >= 0 {
		t.Fatalf("upper bound %q not greater than prefix %q", upper, prefix)
	}
	// Every key with the prefix must sort below upper.
	k := EncodeKey("INBOX", 0, "/comment", "zzzzzzzzzz")
	if bytes.Compare(k, upper) >= 0 {
		t.Fatalf("key %q not below upper bound %q", k, upper)
	}
}

func TestEncodeEntryScanPrefixBoundsPartialEntryScan(t *testing.T) {
	prefix := EncodeEntryScanPrefix("INBOX", 0, "/comment")
	upper := PrefixUpperBound(prefix)

	match := EncodeKey("INBOX", 0, "/comment", "alice")
	if bytes.Compare(match, upper) >= 0 {
		t.Fatalf("matching key %q should sort below upper bound %q", match, upper)
	}
	if !bytes.HasPrefix(match, prefix) {
		t.Fatalf("matching key %q should have prefix %q", match, prefix)
	}

	noMatch := EncodeKey("INBOX", 0, "/sort", "alice")
	if bytes.Compare(noMatch, upper) < 0 && bytes.HasPrefix(noMatch, prefix) {
		t.Fatalf("non-matching key %q should not have prefix %q", noMatch, prefix)
	}
}

func TestEncodeEntryScanPrefixEmptyBoundsWholeMailbox(t *testing.T) {
	prefix := EncodeEntryScanPrefix("INBOX", 0, "")
	upper := PrefixUpperBound(prefix)
	for _, entry := range []string{"/comment", "/sort", "/vendor/cmu/cyrus-imapd/size"} {
		k := EncodeKey("INBOX", 0, entry, "")
		if bytes.Compare(k, upper) >= 0 {
			t.Fatalf("key %q for entry %q should sort below whole-mailbox upper bound %q", k, entry, upper)
		}
	}
	other := EncodeKey("INBOX2", 0, "/comment", "")
	if bytes.Compare(other, upper) < 0 {
		t.Fatalf("key for a different mailbox should not sort below upper bound %q", upper)
	}
}

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	for _, v := range [][]byte{nil, []byte(""), []byte("hello"), bytes.Repeat([]byte{0xff}, 100)} {
		blob := EncodeValue(v)
		got, err := DecodeValue(blob)
		if err != nil {
			t.Fatalf("DecodeValue: %v", err)
		}
		if !bytes.Equal(got, v) {
			t.Fatalf("round trip mismatch: got %q want %q", got, v)
		}
	}
}

func TestEncodeValueHasLegacyTail(t *testing.T) {
	blob := EncodeValue([]byte("hi"))
	if !bytes.Contains(blob, []byte("text/plain\x00\x00\x00\x00\x00")) {
		t.Fatalf("encoded value missing legacy tail: %q", blob)
	}
}

func TestDecodeValueIgnoresTrailingBytes(t *testing.T) {
	blob := EncodeValue([]byte("hi"))
	blob = append(blob, "garbage-a-reader-must-ignore"...)
	got, err := DecodeValue(blob)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("got %q, want %q", got, "hi")
	}
}
