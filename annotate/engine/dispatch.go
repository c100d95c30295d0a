// Package engine wires the registry (C3) and handlers (C4) together
// into the fetch engine (C6), store engine (C7), rewriter (C8), and
// process lifecycle (C9) of the annotation store.
package engine

import (
	"vault.ink/annotate/handlers"
	"vault.ink/annotate/registry"
)

// dispatch resolves an entry's tagged HandlerKind (spec §9 "Polymorphic
// handler table") to the concrete get/set closures, the one place the
// tagged-variant match happens. File-backed handlers read their
// directory from the FetchContext/StoreContext at call time, not here.
func dispatch(e *registry.Entry) (handlers.GetFunc, handlers.SetFunc) {
	switch k := e.Handler.(type) {
	case registry.DbBacked:
		return handlers.GetFromDB, handlers.SetToDB
	case registry.FileBacked:
		return handlers.NewFileHandlers(k.FileName)
	case registry.MailboxOption:
		return handlers.NewMailboxOptionHandlers(k.Bit)
	case registry.Pop3ShowAfter:
		return handlers.NewPop3ShowAfterHandlers()
	case registry.SpecialUse:
		return handlers.NewSpecialUseHandlers()
	case registry.Computed:
		return handlers.NewComputedHandler(handlers.ComputedKind(k.Kind)), nil
	default:
		panic("engine: unknown handler kind")
	}
}
