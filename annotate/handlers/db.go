package handlers

import (
	"vault.ink/annotate"
)

// classOf returns the single attribute bit a (shared, private) stored
// key resolves to, or 0 if attribs does not request value/size for
// this owner.
func classOf(attribs annotate.AttribMask, private bool, size bool) annotate.AttribMask {
	switch {
	case size && private:
		return attribs & annotate.AttribSizePriv
	case size && !private:
		return attribs & annotate.AttribSizeShared
	case !size && private:
		return attribs & annotate.AttribValuePriv
	default:
		return attribs & annotate.AttribValueShared
	}
}

// GetFromDB implements the catch-all/default database-backed getter
// (spec §4.4 "get_from_db"): builds a prefix key for the cursor, scans
// the database, applies the entry-name pattern and emits one result
// per matching record whose user-id is either empty (shared) or the
// requesting user's (private).
func GetFromDB(cursor *annotate.ScopeCursor, namePattern *annotate.Pattern, attribs annotate.AttribMask, fctx *FetchContext) error {
	prefix := annotate.EncodeEntryScanPrefix(cursor.InternalMailbox, cursor.UID, namePattern.FixedPrefix())
	c, err := fctx.KV.NewCursor()
	if err != nil {
		return err
	}
	defer c.Close()

	upper := annotate.PrefixUpperBound(prefix)
	ok := c.Seek(prefix)
	for ok {
		key := annotate.Key(append([]byte(nil), c.Key()...))
		if upper != nil && string(key) >= string(upper) {
			break
		}
		_, _, entry, userID, derr := annotate.DecodeKey(key)
		if derr != nil {
			// BadEntry on decode during iteration: log and skip (spec §7).
			ok = c.Next()
			continue
		}
		if !namePattern.Match(entry) {
			ok = c.Next()
			continue
		}
		private := userID != ""
		if private && userID != cursor.UserID {
			ok = c.Next()
			continue
		}
		valueClass := classOf(attribs, private, false)
		sizeClass := classOf(attribs, private, true)
		if valueClass == annotate.AttribNone && sizeClass == annotate.AttribNone {
			ok = c.Next()
			continue
		}
		value, verr := annotate.DecodeValue(append([]byte(nil), c.Value()...))
		if verr != nil {
			ok = c.Next()
			continue
		}
		if valueClass != annotate.AttribNone {
			fctx.Emit(entry, Result{Attrib: valueClass, Value: value})
		}
		if sizeClass != annotate.AttribNone {
			fctx.Emit(entry, Result{Attrib: sizeClass, Value: sizeBytes(len(value))})
		}
		ok = c.Next()
	}
	return nil
}

func sizeBytes(n int) []byte {
	return []byte(itoa(n))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// SetToDB implements "set_to_db" (spec §4.4): writes or deletes shared
// and/or private values using the keying rules of §4.1, participating
// in the enclosing transaction, and logging one sync-log event per
// affected mailbox.
func SetToDB(cursor *annotate.ScopeCursor, entryName string, values []AttribValue, sctx *StoreContext) error {
	for _, av := range values {
		var userID string
		switch av.Attrib {
		case annotate.AttribValueShared, annotate.AttribSizeShared:
			userID = ""
		case annotate.AttribValuePriv, annotate.AttribSizePriv:
			userID = cursor.UserID
		default:
			return annotate.NewError(annotate.StatusInternal, "set_to_db: unresolved attribute class %v", av.Attrib)
		}
		key := annotate.EncodeKey(cursor.InternalMailbox, cursor.UID, entryName, userID)
		if annotate.IsAbsent(av.Value) {
			if err := sctx.KV.Delete(key); err != nil {
				return annotate.NewError(annotate.StatusIoError, "set_to_db delete: %v", err)
			}
			continue
		}
		if err := sctx.KV.Put(key, annotate.EncodeValue(av.Value)); err != nil {
			return annotate.NewError(annotate.StatusIoError, "set_to_db put: %v", err)
		}
	}
	if sctx.SyncLog != nil {
		sctx.SyncLog(cursor.InternalMailbox)
	}
	return nil
}
