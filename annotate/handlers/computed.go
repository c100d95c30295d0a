package handlers

import (
	"strconv"
	"time"

	"vault.ink/annotate"
)

// NewComputedHandler returns the read-only getter for one of the
// derived entries of spec §4.4 "Computed getters". There is no
// setter: computed entries are get-only.
func NewComputedHandler(kind ComputedKind) GetFunc {
	return func(cursor *annotate.ScopeCursor, namePattern *annotate.Pattern, attribs annotate.AttribMask, fctx *FetchContext) error {
		class := attribs & annotate.AttribValueShared
		if class == annotate.AttribNone {
			return nil
		}
		var text string
		switch kind {
		case KindFreespace:
			n, err := fctx.Mailboxes.FreeSpaceBytes(cursor.Meta.MailboxID)
			if err != nil {
				return annotate.NewError(annotate.StatusIoError, "freespace: %v", err)
			}
			text = strconv.FormatUint(n, 10)
		case KindServer:
			if !cursor.Meta.IsRemote() {
				return nil
			}
			text = cursor.Meta.RemoteServer
		case KindPartition:
			if cursor.Meta.IsRemote() {
				return nil
			}
			text = cursor.Meta.Partition
		case KindSize:
			n, err := fctx.Mailboxes.SizeBytes(cursor.Meta.MailboxID)
			if err != nil {
				return annotate.NewError(annotate.StatusIoError, "size: %v", err)
			}
			text = strconv.FormatUint(n, 10)
		case KindLastUpdate:
			sec, err := fctx.Mailboxes.LastUpdate(cursor.Meta.MailboxID)
			if err != nil {
				return annotate.NewError(annotate.StatusIoError, "lastupdate: %v", err)
			}
			text = time.Unix(sec, 0).UTC().Format(rfc3501DateTime)
		case KindLastPop:
			sec, ok, err := fctx.Mailboxes.LastPopLogin(cursor.Meta.MailboxID)
			if err != nil {
				return annotate.NewError(annotate.StatusIoError, "lastpop: %v", err)
			}
			if !ok {
				return nil
			}
			text = time.Unix(sec, 0).UTC().Format(rfc3501DateTime)
		default:
			return annotate.NewError(annotate.StatusInternal, "unknown computed kind %d", kind)
		}
		fctx.Emit(namePattern.String(), Result{Attrib: class, Value: []byte(text)})
		return nil
	}
}

// ComputedKind mirrors registry.ComputedKind without importing the
// registry package (handlers must stay below registry in the import
// graph, since the dispatch glue that does import registry lives in
// the engine package).
type ComputedKind int

const (
	KindFreespace ComputedKind = iota
	KindServer
	KindPartition
	KindSize
	KindLastUpdate
	KindLastPop
)
