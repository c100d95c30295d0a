package handlers

import (
	"strings"

	"vault.ink/annotate"
)

var specialUseNames = []string{"\\Archive", "\\Drafts", "\\Junk", "\\Sent", "\\Trash"}

// canonicalSpecialUse validates and canonicalises a special-use value
// per spec boundary behavior: accepts "\Drafts" and "drafts", rejects
// "\All"; case-insensitive, leading backslash optional on input.
func canonicalSpecialUse(raw string) (string, bool) {
	s := strings.TrimPrefix(raw, "\\")
	for _, want := range specialUseNames {
		if strings.EqualFold(s, strings.TrimPrefix(want, "\\")) {
			return want, true
		}
	}
	return "", false
}

// NewSpecialUseHandlers returns get/set for the mailbox record's
// special-use string (spec §4.4 "get_special_use / set_special_use").
func NewSpecialUseHandlers() (GetFunc, SetFunc) {
	get := func(cursor *annotate.ScopeCursor, namePattern *annotate.Pattern, attribs annotate.AttribMask, fctx *FetchContext) error {
		class := attribs & annotate.AttribValueShared
		if class == annotate.AttribNone {
			return nil
		}
		use, err := fctx.Mailboxes.SpecialUse(cursor.Meta.MailboxID)
		if err != nil {
			return annotate.NewError(annotate.StatusIoError, "get_special_use: %v", err)
		}
		if use == "" {
			return nil
		}
		fctx.Emit(namePattern.String(), Result{Attrib: class, Value: []byte(use)})
		return nil
	}

	set := func(cursor *annotate.ScopeCursor, entryName string, values []AttribValue, sctx *StoreContext) error {
		for _, av := range values {
			if av.Attrib != annotate.AttribValueShared {
				return annotate.NewError(annotate.StatusInternal, "set_special_use: unexpected attribute class %v", av.Attrib)
			}
			if annotate.IsAbsent(av.Value) {
				if err := sctx.Mailboxes.SetSpecialUse(cursor.Meta.MailboxID, ""); err != nil {
					return annotate.NewError(annotate.StatusIoError, "set_special_use clear: %v", err)
				}
				continue
			}
			canon, ok := canonicalSpecialUse(string(av.Value))
			if !ok {
				return annotate.NewError(annotate.StatusBadValue, "set_special_use: %q is not a recognised special-use", av.Value)
			}
			if err := sctx.Mailboxes.SetSpecialUse(cursor.Meta.MailboxID, canon); err != nil {
				return annotate.NewError(annotate.StatusIoError, "set_special_use: %v", err)
			}
		}
		if sctx.SyncLog != nil {
			sctx.SyncLog(cursor.InternalMailbox)
		}
		return nil
	}

	return get, set
}
