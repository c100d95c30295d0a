package spillbox

import (
	"fmt"
	"syscall"

	"crawshaw.io/sqlite"
)

// MailboxAnnotationMeta is the per-mailbox state the annotation store's
// mailbox-registry collaborator needs: partition/remote routing,
// special-use, option flags, and the ACL rights of the mailbox's own
// (and only) user.
type MailboxAnnotationMeta struct {
	MailboxID    int64
	Name         string
	Partition    string
	RemoteServer string
	SpecialUse   string
	OptionFlags  uint64
	ACL          uint32
}

func scanMailboxAnnotationMeta(stmt *sqlite.Stmt) MailboxAnnotationMeta {
	return MailboxAnnotationMeta{
		MailboxID:    stmt.GetInt64("MailboxID"),
		Name:         stmt.GetText("Name"),
		Partition:    stmt.GetText("Partition"),
		RemoteServer: stmt.GetText("RemoteServer"),
		SpecialUse:   stmt.GetText("SpecialUse"),
		OptionFlags:  uint64(stmt.GetInt64("OptionFlags")),
		ACL:          uint32(stmt.GetInt64("ACL")),
	}
}

const mailboxAnnotationMetaCols = `MailboxID, Name, Partition, RemoteServer, SpecialUse, OptionFlags, ACL`

// MailboxMetaByName loads a mailbox's annotation metadata by its
// current (non-deleted) name.
func MailboxMetaByName(conn *sqlite.Conn, name string) (MailboxAnnotationMeta, bool, error) {
	stmt := conn.Prep(`SELECT ` + mailboxAnnotationMetaCols + `
		FROM Mailboxes WHERE Name = $name;`)
	stmt.SetText("$name", name)
	hasNext, err := stmt.Step()
	if err != nil {
		return MailboxAnnotationMeta{}, false, err
	}
	if !hasNext {
		stmt.Reset()
		return MailboxAnnotationMeta{}, false, nil
	}
	m := scanMailboxAnnotationMeta(stmt)
	stmt.Reset()
	return m, true, nil
}

// ListMailboxAnnotationMeta loads annotation metadata for every
// non-deleted mailbox, for the caller to filter by pattern.
func ListMailboxAnnotationMeta(conn *sqlite.Conn) ([]MailboxAnnotationMeta, error) {
	stmt := conn.Prep(`SELECT ` + mailboxAnnotationMetaCols + `
		FROM Mailboxes WHERE Name IS NOT NULL ORDER BY Name;`)
	var out []MailboxAnnotationMeta
	for {
		hasNext, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasNext {
			break
		}
		out = append(out, scanMailboxAnnotationMeta(stmt))
	}
	return out, nil
}

func OptionFlags(conn *sqlite.Conn, mailboxID int64) (uint64, error) {
	stmt := conn.Prep(`SELECT OptionFlags FROM Mailboxes WHERE MailboxID = $id;`)
	stmt.SetInt64("$id", mailboxID)
	hasNext, err := stmt.Step()
	if err != nil {
		return 0, err
	}
	if !hasNext {
		stmt.Reset()
		return 0, fmt.Errorf("spillbox.OptionFlags: no such mailbox %d", mailboxID)
	}
	flags := uint64(stmt.GetInt64("OptionFlags"))
	stmt.Reset()
	return flags, nil
}

func SetOptionFlags(conn *sqlite.Conn, mailboxID int64, flags uint64) error {
	stmt := conn.Prep(`UPDATE Mailboxes SET OptionFlags = $flags WHERE MailboxID = $id;`)
	stmt.SetInt64("$flags", int64(flags))
	stmt.SetInt64("$id", mailboxID)
	_, err := stmt.Step()
	return err
}

func Pop3ShowAfter(conn *sqlite.Conn, mailboxID int64) (unixSeconds int64, ok bool, err error) {
	stmt := conn.Prep(`SELECT Pop3ShowAfter FROM Mailboxes WHERE MailboxID = $id;`)
	stmt.SetInt64("$id", mailboxID)
	hasNext, err := stmt.Step()
	if err != nil {
		return 0, false, err
	}
	if !hasNext {
		stmt.Reset()
		return 0, false, fmt.Errorf("spillbox.Pop3ShowAfter: no such mailbox %d", mailboxID)
	}
	isNull := stmt.ColumnType(0) == sqlite.SQLITE_NULL
	v := stmt.GetInt64("Pop3ShowAfter")
	stmt.Reset()
	return v, !isNull, nil
}

func SetPop3ShowAfter(conn *sqlite.Conn, mailboxID int64, unixSeconds int64, ok bool) error {
	stmt := conn.Prep(`UPDATE Mailboxes SET Pop3ShowAfter = $v WHERE MailboxID = $id;`)
	if ok {
		stmt.SetInt64("$v", unixSeconds)
	} else {
		stmt.SetNull("$v")
	}
	stmt.SetInt64("$id", mailboxID)
	_, err := stmt.Step()
	return err
}

func SpecialUse(conn *sqlite.Conn, mailboxID int64) (string, error) {
	stmt := conn.Prep(`SELECT SpecialUse FROM Mailboxes WHERE MailboxID = $id;`)
	stmt.SetInt64("$id", mailboxID)
	hasNext, err := stmt.Step()
	if err != nil {
		return "", err
	}
	if !hasNext {
		stmt.Reset()
		return "", fmt.Errorf("spillbox.SpecialUse: no such mailbox %d", mailboxID)
	}
	v := stmt.GetText("SpecialUse")
	stmt.Reset()
	return v, nil
}

func SetSpecialUse(conn *sqlite.Conn, mailboxID int64, value string) error {
	stmt := conn.Prep(`UPDATE Mailboxes SET SpecialUse = $v WHERE MailboxID = $id;`)
	stmt.SetText("$v", value)
	stmt.SetInt64("$id", mailboxID)
	_, err := stmt.Step()
	return err
}

func LastPopLogin(conn *sqlite.Conn, mailboxID int64) (unixSeconds int64, ok bool, err error) {
	stmt := conn.Prep(`SELECT LastPop3Login FROM Mailboxes WHERE MailboxID = $id;`)
	stmt.SetInt64("$id", mailboxID)
	hasNext, err := stmt.Step()
	if err != nil {
		return 0, false, err
	}
	if !hasNext {
		stmt.Reset()
		return 0, false, fmt.Errorf("spillbox.LastPopLogin: no such mailbox %d", mailboxID)
	}
	isNull := stmt.ColumnType(0) == sqlite.SQLITE_NULL
	v := stmt.GetInt64("LastPop3Login")
	stmt.Reset()
	return v, !isNull, nil
}

func SetLastPopLogin(conn *sqlite.Conn, mailboxID int64, unixSeconds int64) error {
	stmt := conn.Prep(`UPDATE Mailboxes SET LastPop3Login = $v WHERE MailboxID = $id;`)
	stmt.SetInt64("$v", unixSeconds)
	stmt.SetInt64("$id", mailboxID)
	_, err := stmt.Step()
	return err
}

// SizeBytes sums the encoded size of every non-expunged message in a
// mailbox, a proxy for "bytes used" per the annotate/size entry.
func SizeBytes(conn *sqlite.Conn, mailboxID int64) (uint64, error) {
	stmt := conn.Prep(`SELECT coalesce(sum(EncodedSize), 0) FROM Msgs
		WHERE MailboxID = $id AND Expunged IS NULL;`)
	stmt.SetInt64("$id", mailboxID)
	hasNext, err := stmt.Step()
	if err != nil {
		return 0, err
	}
	if !hasNext {
		stmt.Reset()
		return 0, nil
	}
	v := uint64(stmt.GetInt64(0))
	stmt.Reset()
	return v, nil
}

// LastUpdate reports the Unix timestamp of the most recently dated
// non-expunged message in a mailbox, a proxy for "index last
// modified" per the annotate/lastupdate entry.
func LastUpdate(conn *sqlite.Conn, mailboxID int64) (int64, error) {
	stmt := conn.Prep(`SELECT coalesce(max(Date), 0) FROM Msgs
		WHERE MailboxID = $id AND Expunged IS NULL;`)
	stmt.SetInt64("$id", mailboxID)
	hasNext, err := stmt.Step()
	if err != nil {
		return 0, err
	}
	if !hasNext {
		stmt.Reset()
		return 0, nil
	}
	v := stmt.GetInt64(0)
	stmt.Reset()
	return v, nil
}

// FreeSpaceBytes reports free space on the filesystem backing
// partitionDir, per the annotate/freespace entry.
func FreeSpaceBytes(partitionDir string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(partitionDir, &stat); err != nil {
		return 0, fmt.Errorf("spillbox.FreeSpaceBytes(%q): %v", partitionDir, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
