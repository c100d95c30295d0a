package engine

import (
	"context"

	"vault.ink/annotate"
	"vault.ink/annotate/kv"
)

// RewriteMode selects whether matched records are moved (deleted from
// their old key) or copied (left in place), spec §4.8.
type RewriteMode int

const (
	RewriteMove RewriteMode = iota
	RewriteCopy
)

// RewriteParams parameterises the single rewrite primitive that backs
// rename_mailbox, delete_mailbox, and copy_message (spec §4.8).
type RewriteParams struct {
	OldMailbox string
	OldUID     uint32 // 0 selects every record under OldMailbox, any uid
	OldUserID  string // "" matches nothing for the mapping rule; see Rewrite

	NewMailbox    string
	HasNewMailbox bool // false means delete every matched record
	NewUID        uint32
	NewUserID     string

	Mode RewriteMode
}

type rewriteRow struct {
	mailbox string
	uid     uint32
	entry   string
	userID  string
	value   []byte
}

// Rewrite implements spec §4.8: iterate every key whose prefix matches
// (OldMailbox, OldUID), rewrite or delete each one. Matching rows are
// collected before any mutation, so the rewrite is safe regardless of
// whether the underlying kv.Cursor tolerates concurrent mutation of
// the range it is iterating.
func Rewrite(txn kv.Txn, p RewriteParams) error {
	prefix := annotate.EncodeEntryScanPrefix(p.OldMailbox, p.OldUID, "")
	upper := annotate.PrefixUpperBound(prefix)

	c, err := txn.NewCursor()
	if err != nil {
		return err
	}
	var rows []rewriteRow
	ok := c.Seek(prefix)
	for ok {
		key := annotate.Key(append([]byte(nil), c.Key()...))
		if upper != nil && string(key) >= string(upper) {
			break
		}
		mailbox, uid, entry, userID, derr := annotate.DecodeKey(key)
		if derr != nil {
			ok = c.Next()
			continue
		}
		value, verr := annotate.DecodeValue(append([]byte(nil), c.Value()...))
		if verr != nil {
			ok = c.Next()
			continue
		}
		rows = append(rows, rewriteRow{mailbox: mailbox, uid: uid, entry: entry, userID: userID, value: value})
		ok = c.Next()
	}
	c.Close()

	for _, row := range rows {
		if p.HasNewMailbox {
			// A mailbox-level rewrite (OldUID == 0) keeps each row's own
			// UID; a single-message rewrite (OldUID != 0) applies NewUID
			// uniformly, since every matched row already carries OldUID.
			newUID := row.uid
			if p.OldUID != 0 {
				newUID = p.NewUID
			}
			mappedUserID := row.userID
			if p.OldUserID != "" && p.NewUserID != "" && row.userID == p.OldUserID {
				mappedUserID = p.NewUserID
			}
			newKey := annotate.EncodeKey(p.NewMailbox, newUID, row.entry, mappedUserID)
			if err := txn.Put(newKey, annotate.EncodeValue(row.value)); err != nil {
				return err
			}
		}
		if !p.HasNewMailbox || p.Mode == RewriteMove {
			oldKey := annotate.EncodeKey(row.mailbox, row.uid, row.entry, row.userID)
			if err := txn.Delete(oldKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// RenameMailbox implements spec §6 rename_mailbox: rewrite with
// uid=0, moving every mailbox-scope and message-scope record under
// oldMailbox to newMailbox.
func (s *Store) RenameMailbox(ctx context.Context, oldMailbox, newMailbox, oldUserID, newUserID string) error {
	return s.withUpdate(ctx, func(txn kv.Txn) error {
		return Rewrite(txn, RewriteParams{
			OldMailbox: oldMailbox, OldUID: 0, OldUserID: oldUserID,
			NewMailbox: newMailbox, HasNewMailbox: true, NewUserID: newUserID,
			Mode: RewriteMove,
		})
	})
}

// DeleteMailbox implements spec §6 delete_mailbox: rewrite with no
// new mailbox, deleting every record regardless of mode.
func (s *Store) DeleteMailbox(ctx context.Context, mailbox string) error {
	return s.withUpdate(ctx, func(txn kv.Txn) error {
		return Rewrite(txn, RewriteParams{
			OldMailbox: mailbox, OldUID: 0, HasNewMailbox: false,
		})
	})
}

// CopyMessage implements spec §6 copy_message: rewrite in copy mode
// with both uids set, leaving the source message's annotations intact.
func (s *Store) CopyMessage(ctx context.Context, oldMailbox string, oldUID uint32, newMailbox string, newUID uint32, userID string) error {
	return s.withUpdate(ctx, func(txn kv.Txn) error {
		return Rewrite(txn, RewriteParams{
			OldMailbox: oldMailbox, OldUID: oldUID, OldUserID: userID,
			NewMailbox: newMailbox, HasNewMailbox: true, NewUID: newUID, NewUserID: userID,
			Mode: RewriteCopy,
		})
	})
}
