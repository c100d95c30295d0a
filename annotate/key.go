package annotate

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Key is an encoded composite key: mailbox \0 entry_designator \0 [user_id \0].
//
// entry_designator is either the bare entry name (mailbox/server scope)
// or "/UID" + decimal(uid) + "/" + entry name (message scope), per
// spec §4.1 invariant 1.
type Key []byte

// EncodeKey builds a stored key for (mailbox, uid, entry, userID).
//
// uid == 0 means mailbox or server scope. userID == "" with private
// omitted (see EncodePrefix) yields a foreach-scan prefix across every
// user-id for the triple; EncodeKey always terminates with the user-id
// field, including when userID is empty (the shared record).
func EncodeKey(mailbox string, uid uint32, entry string, userID string) Key {
	var buf strings.Builder
	buf.Grow(len(mailbox) + len(entry) + len(userID) + 24)
	buf.WriteString(mailbox)
	buf.WriteByte(0)
	if uid != 0 {
		buf.WriteString("/UID")
		buf.WriteString(strconv.FormatUint(uint64(uid), 10))
		buf.WriteByte('/')
	}
	buf.WriteString(entry)
	buf.WriteByte(0)
	buf.WriteString(userID)
	buf.WriteByte(0)
	return Key(buf.String())
}

// EncodePrefix builds a key with the user-id field omitted, usable as
// the literal scan prefix for a foreach-user-id range scan over
// (mailbox, uid, entry). It is the EncodeKey result with its trailing
// NUL+user-id+NUL stripped down to the NUL terminating entry.
func EncodePrefix(mailbox string, uid uint32, entry string) []byte {
	k := EncodeKey(mailbox, uid, entry, "")
	// Drop the trailing empty user-id and its terminating NUL, keeping
	// the NUL that terminates entry_designator.
	return []byte(k[:len(k)-1])
}

// EncodeEntryScanPrefix builds the raw byte prefix for a database
// range scan over every entry name starting with entryPrefix under
// (mailbox, uid): mailbox \0 [ "/UID" decimal(uid) "/" ] entryPrefix,
// with no terminating NUL. Unlike EncodePrefix (which assumes entry is
// a complete, already-NUL-terminated entry name), this is safe to use
// with a partial entry name — the fixed prefix before a pattern's
// first wildcard — because it never appends a synthetic terminator
// that could sort inside the range of real keys. PrefixUpperBound of
// the result is the correct upper bound for such a scan.
func EncodeEntryScanPrefix(mailbox string, uid uint32, entryPrefix string) []byte {
	var buf strings.Builder
	buf.Grow(len(mailbox) + len(entryPrefix) + 16)
	buf.WriteString(mailbox)
	buf.WriteByte(0)
	if uid != 0 {
		buf.WriteString("/UID")
		buf.WriteString(strconv.FormatUint(uint64(uid), 10))
		buf.WriteByte('/')
	}
	buf.WriteString(entryPrefix)
	return []byte(buf.String())
}

// DecodeKey splits a stored key back into its fields. It returns
// StatusBadEntry if the key is malformed: wrong field count, missing
// terminator, a zero or malformed UID, or a stray embedded NUL.
func DecodeKey(k Key) (mailbox string, uid uint32, entry string, userID string, err error) {
	fields := strings.SplitN(string(k), "\x00", 4)
	if len(fields) != 4 || fields[3] != "" {
		return "", 0, "", "", NewError(StatusBadEntry, "key has %d NUL-delimited fields, want 3 terminated", len(fields))
	}
	mailbox = fields[0]
	designator := fields[1]
	userID = fields[2]

	if strings.HasPrefix(designator, "/UID") {
		rest := designator[len("/UID"):]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return "", 0, "", "", NewError(StatusBadEntry, "key UID designator missing '/' terminator")
		}
		digits := rest[:slash]
		if digits == "" || (len(digits) > 1 && digits[0] == '0') {
			return "", 0, "", "", NewError(StatusBadEntry, "key UID %q has no digits or a leading zero", digits)
		}
		for i := 0; i < len(digits); i++ {
			if digits[i] < '0' || digits[i] > '9' {
				return "", 0, "", "", NewError(StatusBadEntry, "key UID %q is not decimal", digits)
			}
		}
		n, convErr := strconv.ParseUint(digits, 10, 32)
		if convErr != nil {
			return "", 0, "", "", NewError(StatusBadEntry, "key UID %q: %v", digits, convErr)
		}
		if n == 0 {
			return "", 0, "", "", NewError(StatusBadEntry, "key UID is zero")
		}
		uid = uint32(n)
		entry = rest[slash+1:]
	} else {
		entry = designator
	}

	return mailbox, uid, entry, userID, nil
}

const legacyTail = "text/plain\x00\x00\x00\x00\x00"

// EncodeValue wraps payload in the stored value format: a 4-byte
// big-endian length, the payload, then a legacy trailer a modern
// reader ignores (spec §4.1 invariant 2, §6).
func EncodeValue(payload []byte) []byte {
	out := make([]byte, 4+len(payload)+len(legacyTail))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	n := copy(out[4:], payload)
	copy(out[4+n:], legacyTail)
	return out
}

// DecodeValue reads the length-prefixed payload out of a stored value
// blob, ignoring any trailing bytes.
func DecodeValue(blob []byte) ([]byte, error) {
	if len(blob) < 4 {
		return nil, NewError(StatusBadEntry, "value blob shorter than length prefix")
	}
	n := binary.BigEndian.Uint32(blob[:4])
	if uint64(4)+uint64(n) > uint64(len(blob)) {
		return nil, NewError(StatusBadEntry, "value blob length prefix %d exceeds blob size %d", n, len(blob)-4)
	}
	return blob[4 : 4+n], nil
}

// Absent is the distinguished "no value" byte sequence used by the
// store engine and handlers to signal deletion (spec §3 invariant 6).
// It is distinct from a present empty string: callers must not pass it
// by accident when they mean "".
var Absent []byte = nil

// IsAbsent reports whether v is the Absent sentinel (a nil slice,
// distinguished from a non-nil empty slice).
func IsAbsent(v []byte) bool { return v == nil }

// PrefixUpperBound returns the smallest byte string strictly greater
// than every string having prefix as a prefix, or nil if no such finite
// bound exists (prefix is empty or all 0xFF). A KV cursor range scan
// [prefix, PrefixUpperBound(prefix)) visits exactly the keys with that
// prefix.
func PrefixUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// String renders a key for debugging/logging; it does not round-trip.
func (k Key) String() string {
	mailbox, uid, entry, userID, err := DecodeKey(k)
	if err != nil {
		return fmt.Sprintf("Key(invalid: %v)", err)
	}
	who := userID
	if who == "" {
		who = "<shared>"
	}
	return fmt.Sprintf("Key(%q uid=%d entry=%q user=%s)", mailbox, uid, entry, who)
}
