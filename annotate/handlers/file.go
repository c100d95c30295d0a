package handlers

import (
	"os"
	"path/filepath"
	"strings"

	"vault.ink/annotate"
)

// NewFileHandlers returns get_from_file/set_to_file (spec §4.4) bound
// to fileName, a name relative to FetchContext.Dir/StoreContext.Dir
// (e.g. "motd", "shutdown"). Only server scope ever registers a
// FileBacked entry.
func NewFileHandlers(fileName string) (GetFunc, SetFunc) {
	get := func(cursor *annotate.ScopeCursor, namePattern *annotate.Pattern, attribs annotate.AttribMask, fctx *FetchContext) error {
		class := attribs & annotate.AttribValueShared
		if class == annotate.AttribNone {
			return nil
		}
		data, err := os.ReadFile(filepath.Join(fctx.Dir, fileName))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return annotate.NewError(annotate.StatusIoError, "get_from_file %s: %v", fileName, err)
		}
		line := data
		if idx := strings.IndexByte(string(data), '\n'); idx >= 0 {
			line = data[:idx]
		}
		line = []byte(strings.TrimSuffix(string(line), "\r"))
		fctx.Emit(namePattern.String(), Result{Attrib: class, Value: line})
		return nil
	}

	set := func(cursor *annotate.ScopeCursor, entryName string, values []AttribValue, sctx *StoreContext) error {
		path := filepath.Join(sctx.Dir, fileName)
		for _, av := range values {
			if av.Attrib != annotate.AttribValueShared {
				return annotate.NewError(annotate.StatusInternal, "set_to_file: unexpected attribute class %v", av.Attrib)
			}
			if annotate.IsAbsent(av.Value) {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return annotate.NewError(annotate.StatusIoError, "set_to_file %s remove: %v", fileName, err)
				}
				continue
			}
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return annotate.NewError(annotate.StatusIoError, "set_to_file %s open: %v", fileName, err)
			}
			_, werr := f.Write(append(av.Value, '\n'))
			cerr := f.Close()
			if werr != nil {
				return annotate.NewError(annotate.StatusIoError, "set_to_file %s write: %v", fileName, werr)
			}
			if cerr != nil {
				return annotate.NewError(annotate.StatusIoError, "set_to_file %s close: %v", fileName, cerr)
			}
		}
		if sctx.SyncLog != nil {
			sctx.SyncLog("")
		}
		return nil
	}

	return get, set
}
