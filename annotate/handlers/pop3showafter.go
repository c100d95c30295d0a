package handlers

import (
	"time"

	"vault.ink/annotate"
)

// rfc3501DateTime is the INTERNALDATE/date-time wire format, matching
// imapserver's FetchInternalDate rendering.
const rfc3501DateTime = "02-Jan-2006 15:04:05 -0700"

// NewPop3ShowAfterHandlers returns get/set for the mailbox record's
// pop3-show-after field (spec §4.4 "get_pop3_show_after /
// set_pop3_show_after"): stored on the mailbox record, not in the
// annotation database. Set with an absent value zeroes the field.
func NewPop3ShowAfterHandlers() (GetFunc, SetFunc) {
	get := func(cursor *annotate.ScopeCursor, namePattern *annotate.Pattern, attribs annotate.AttribMask, fctx *FetchContext) error {
		class := attribs & annotate.AttribValueShared
		if class == annotate.AttribNone {
			return nil
		}
		sec, ok, err := fctx.Mailboxes.Pop3ShowAfter(cursor.Meta.MailboxID)
		if err != nil {
			return annotate.NewError(annotate.StatusIoError, "get_pop3_show_after: %v", err)
		}
		if !ok {
			return nil
		}
		text := time.Unix(sec, 0).UTC().Format(rfc3501DateTime)
		fctx.Emit(namePattern.String(), Result{Attrib: class, Value: []byte(text)})
		return nil
	}

	set := func(cursor *annotate.ScopeCursor, entryName string, values []AttribValue, sctx *StoreContext) error {
		if !cursor.Meta.ACL.Has(annotate.ACLLookup | annotate.ACLWrite) {
			return annotate.NewError(annotate.StatusPermissionDenied, "set_pop3_show_after: requires lookup|write")
		}
		for _, av := range values {
			if av.Attrib != annotate.AttribValueShared {
				return annotate.NewError(annotate.StatusInternal, "set_pop3_show_after: unexpected attribute class %v", av.Attrib)
			}
			if annotate.IsAbsent(av.Value) {
				if err := sctx.Mailboxes.SetPop3ShowAfter(cursor.Meta.MailboxID, 0, false); err != nil {
					return annotate.NewError(annotate.StatusIoError, "set_pop3_show_after clear: %v", err)
				}
				continue
			}
			t, err := time.Parse(rfc3501DateTime, string(av.Value))
			if err != nil {
				return annotate.NewError(annotate.StatusBadValue, "set_pop3_show_after: %v", err)
			}
			if err := sctx.Mailboxes.SetPop3ShowAfter(cursor.Meta.MailboxID, t.Unix(), true); err != nil {
				return annotate.NewError(annotate.StatusIoError, "set_pop3_show_after: %v", err)
			}
		}
		if sctx.SyncLog != nil {
			sctx.SyncLog(cursor.InternalMailbox)
		}
		return nil
	}

	return get, set
}
