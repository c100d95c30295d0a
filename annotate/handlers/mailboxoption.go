package handlers

import "vault.ink/annotate"

// NewMailboxOptionHandlers returns get/set for a single bit of the
// mailbox option-flags bitmask (spec §4.4 "get_mailbox_option /
// set_mailbox_option"). Get opens the mailbox read-only and emits
// "true"/"false"; set requires lookup|write and marks the mailbox
// index dirty when the bit actually changes.
func NewMailboxOptionHandlers(bit uint64) (GetFunc, SetFunc) {
	get := func(cursor *annotate.ScopeCursor, namePattern *annotate.Pattern, attribs annotate.AttribMask, fctx *FetchContext) error {
		class := attribs & annotate.AttribValueShared
		if class == annotate.AttribNone {
			return nil
		}
		flags, err := fctx.Mailboxes.OptionFlags(cursor.Meta.MailboxID)
		if err != nil {
			return annotate.NewError(annotate.StatusIoError, "get_mailbox_option: %v", err)
		}
		val := "false"
		if flags&bit != 0 {
			val = "true"
		}
		fctx.Emit(namePattern.String(), Result{Attrib: class, Value: []byte(val)})
		return nil
	}

	set := func(cursor *annotate.ScopeCursor, entryName string, values []AttribValue, sctx *StoreContext) error {
		if !cursor.Meta.ACL.Has(annotate.ACLLookup | annotate.ACLWrite) {
			return annotate.NewError(annotate.StatusPermissionDenied, "set_mailbox_option %s: requires lookup|write", entryName)
		}
		for _, av := range values {
			if av.Attrib != annotate.AttribValueShared {
				return annotate.NewError(annotate.StatusInternal, "set_mailbox_option: unexpected attribute class %v", av.Attrib)
			}
			want := !annotate.IsAbsent(av.Value) && string(av.Value) == "true"
			flags, err := sctx.Mailboxes.OptionFlags(cursor.Meta.MailboxID)
			if err != nil {
				return annotate.NewError(annotate.StatusIoError, "set_mailbox_option: %v", err)
			}
			have := flags&bit != 0
			if have == want {
				continue
			}
			if want {
				flags |= bit
			} else {
				flags &^= bit
			}
			if err := sctx.Mailboxes.SetOptionFlags(cursor.Meta.MailboxID, flags); err != nil {
				return annotate.NewError(annotate.StatusIoError, "set_mailbox_option: %v", err)
			}
		}
		if sctx.SyncLog != nil {
			sctx.SyncLog(cursor.InternalMailbox)
		}
		return nil
	}

	return get, set
}
