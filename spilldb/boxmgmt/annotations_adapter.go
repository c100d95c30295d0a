package boxmgmt

import (
	"context"

	"crawshaw.io/sqlite"
	"vault.ink/annotate"
	"vault.ink/annotate/engine"
	"vault.ink/spilldb/spillbox"
)

// mailboxAdapter adapts a user's *spillbox.Box to engine.Mailboxes,
// the annotation store's mailbox-registry collaborator (spec.md's
// "mailbox list and mailbox-open primitives that yield ACL strings,
// partition identifiers, and mailbox-option bitmasks").
type mailboxAdapter struct {
	box *spillbox.Box
}

var _ engine.Mailboxes = (*mailboxAdapter)(nil)

func toMailboxMeta(m spillbox.MailboxAnnotationMeta) annotate.MailboxMeta {
	return annotate.MailboxMeta{
		MailboxID:    m.MailboxID,
		Partition:    m.Partition,
		RemoteServer: m.RemoteServer,
		SpecialUse:   m.SpecialUse,
		OptionFlags:  m.OptionFlags,
		ACL:          annotate.ACLRight(m.ACL),
	}
}

func (a *mailboxAdapter) List(ctx context.Context, userID string, pattern *annotate.Pattern) ([]engine.MailboxRef, error) {
	conn := a.box.PoolRO.Get(ctx)
	if conn == nil {
		return nil, context.Canceled
	}
	defer a.box.PoolRO.Put(conn)

	all, err := spillbox.ListMailboxAnnotationMeta(conn)
	if err != nil {
		return nil, err
	}
	var out []engine.MailboxRef
	for _, m := range all {
		if pattern != nil && !pattern.Match(m.Name) {
			continue
		}
		out = append(out, engine.MailboxRef{Internal: m.Name, External: m.Name, Meta: toMailboxMeta(m)})
	}
	return out, nil
}

func (a *mailboxAdapter) Resolve(ctx context.Context, userID string, internalMailbox string) (engine.MailboxRef, error) {
	conn := a.box.PoolRO.Get(ctx)
	if conn == nil {
		return engine.MailboxRef{}, context.Canceled
	}
	defer a.box.PoolRO.Put(conn)

	m, ok, err := spillbox.MailboxMetaByName(conn, internalMailbox)
	if err != nil {
		return engine.MailboxRef{}, err
	}
	if !ok {
		return engine.MailboxRef{}, annotate.NewError(annotate.StatusMailboxNonexistent, "no such mailbox %q", internalMailbox)
	}
	return engine.MailboxRef{Internal: m.Name, External: m.Name, Meta: toMailboxMeta(m)}, nil
}

func (a *mailboxAdapter) OptionFlags(mailboxID int64) (uint64, error) {
	conn := a.box.PoolRO.Get(nil)
	if conn == nil {
		return 0, context.Canceled
	}
	defer a.box.PoolRO.Put(conn)
	return spillbox.OptionFlags(conn, mailboxID)
}

func (a *mailboxAdapter) SetOptionFlags(mailboxID int64, flags uint64) error {
	conn := a.box.PoolRW.Get(nil)
	if conn == nil {
		return context.Canceled
	}
	defer a.box.PoolRW.Put(conn)
	return spillbox.SetOptionFlags(conn, mailboxID, flags)
}

func (a *mailboxAdapter) Pop3ShowAfter(mailboxID int64) (int64, bool, error) {
	conn := a.box.PoolRO.Get(nil)
	if conn == nil {
		return 0, false, context.Canceled
	}
	defer a.box.PoolRO.Put(conn)
	return spillbox.Pop3ShowAfter(conn, mailboxID)
}

func (a *mailboxAdapter) SetPop3ShowAfter(mailboxID int64, unixSeconds int64, ok bool) error {
	conn := a.box.PoolRW.Get(nil)
	if conn == nil {
		return context.Canceled
	}
	defer a.box.PoolRW.Put(conn)
	return spillbox.SetPop3ShowAfter(conn, mailboxID, unixSeconds, ok)
}

func (a *mailboxAdapter) SpecialUse(mailboxID int64) (string, error) {
	conn := a.box.PoolRO.Get(nil)
	if conn == nil {
		return "", context.Canceled
	}
	defer a.box.PoolRO.Put(conn)
	return spillbox.SpecialUse(conn, mailboxID)
}

func (a *mailboxAdapter) SetSpecialUse(mailboxID int64, value string) error {
	conn := a.box.PoolRW.Get(nil)
	if conn == nil {
		return context.Canceled
	}
	defer a.box.PoolRW.Put(conn)
	return spillbox.SetSpecialUse(conn, mailboxID, value)
}

func (a *mailboxAdapter) FreeSpaceBytes(mailboxID int64) (uint64, error) {
	conn := a.box.PoolRO.Get(nil)
	if conn == nil {
		return 0, context.Canceled
	}
	defer a.box.PoolRO.Put(conn)
	return spillbox.FreeSpaceBytes(a.partitionDir(mailboxID, conn))
}

func (a *mailboxAdapter) partitionDir(mailboxID int64, conn *sqlite.Conn) string {
	stmt := conn.Prep(`SELECT Partition FROM Mailboxes WHERE MailboxID = $id;`)
	stmt.SetInt64("$id", mailboxID)
	hasNext, err := stmt.Step()
	if err != nil || !hasNext {
		stmt.Reset()
		return "."
	}
	part := stmt.GetText("Partition")
	stmt.Reset()
	if part == "" {
		return "."
	}
	return part
}

func (a *mailboxAdapter) SizeBytes(mailboxID int64) (uint64, error) {
	conn := a.box.PoolRO.Get(nil)
	if conn == nil {
		return 0, context.Canceled
	}
	defer a.box.PoolRO.Put(conn)
	return spillbox.SizeBytes(conn, mailboxID)
}

func (a *mailboxAdapter) LastUpdate(mailboxID int64) (int64, error) {
	conn := a.box.PoolRO.Get(nil)
	if conn == nil {
		return 0, context.Canceled
	}
	defer a.box.PoolRO.Put(conn)
	return spillbox.LastUpdate(conn, mailboxID)
}

func (a *mailboxAdapter) LastPopLogin(mailboxID int64) (int64, bool, error) {
	conn := a.box.PoolRO.Get(nil)
	if conn == nil {
		return 0, false, context.Canceled
	}
	defer a.box.PoolRO.Put(conn)
	return spillbox.LastPopLogin(conn, mailboxID)
}
