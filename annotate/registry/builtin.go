package registry

import (
	"log"

	"vault.ink/annotate"
)

// vendorPrefix is the vendor-internal namespace built-ins live under
// and configuration-file entries may never claim (spec §4.3 step 2).
const vendorPrefix = "/vendor/cmu/cyrus-imapd/"

const allAttribs = annotate.AttribValueShared | annotate.AttribValuePriv |
	annotate.AttribSizeShared | annotate.AttribSizePriv

// New builds the registry from the compiled-in server, mailbox, and
// message tables of spec §6. configLines, if non-nil, is parsed as an
// optional configuration file per §4.3 step 2; pass nil to skip it.
// logf receives deprecated-bit and comparable warnings; a nil logf
// defaults to the standard logger.
func New(configLines []string, logf func(format string, v ...interface{})) (*Registry, error) {
	if logf == nil {
		logf = log.Printf
	}
	r := &Registry{
		server:  newScopeTable(annotate.ScopeServer, allAttribs),
		mailbox: newScopeTable(annotate.ScopeMailbox, allAttribs),
		message: newScopeTable(annotate.ScopeMessage, allAttribs),
	}
	seedServer(r.server)
	seedMailbox(r.mailbox)
	seedMessage(r.message)

	if configLines != nil {
		if err := loadConfig(r, configLines, logf); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func seedServer(t *scopeTable) {
	db := func(name string) *Entry {
		return &Entry{Name: name, Scope: annotate.ScopeServer, ValueType: annotate.ValueString,
			ProxyKind: annotate.ProxyAndBackend, AllowedAttribs: allAttribs, Handler: DbBacked{}}
	}
	admin := db("/admin")
	comment := db("/comment")
	t.add(admin)
	t.add(comment)
	t.add(&Entry{Name: "/motd", Scope: annotate.ScopeServer, ValueType: annotate.ValueString,
		ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
		Handler: FileBacked{FileName: "motd"}})
	t.add(db(vendorPrefix + "expire"))
	t.add(&Entry{Name: vendorPrefix + "freespace", Scope: annotate.ScopeServer, ValueType: annotate.ValueUint,
		ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
		Handler: Computed{Kind: ComputedFreespace}})
	t.add(&Entry{Name: vendorPrefix + "shutdown", Scope: annotate.ScopeServer, ValueType: annotate.ValueString,
		ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
		Handler: FileBacked{FileName: "shutdown"}})
	t.add(db(vendorPrefix + "squat"))
}

func seedMailbox(t *scopeTable) {
	db := func(name string) *Entry {
		return &Entry{Name: name, Scope: annotate.ScopeMailbox, ValueType: annotate.ValueString,
			ProxyKind: annotate.ProxyAndBackend, AllowedAttribs: allAttribs, Handler: DbBacked{}}
	}
	t.add(db("/check"))
	t.add(db("/checkperiod"))
	t.add(db("/comment"))
	t.add(db("/sort"))
	t.add(&Entry{Name: "/specialuse", Scope: annotate.ScopeMailbox, ValueType: annotate.ValueString,
		ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
		Handler: SpecialUse{}})
	t.add(db("/thread"))

	optionBit := func(name string, bit uint64) *Entry {
		return &Entry{Name: vendorPrefix + name, Scope: annotate.ScopeMailbox, ValueType: annotate.ValueBoolean,
			ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
			ExtraACL: annotate.ACLLookup | annotate.ACLWrite,
			Handler:  MailboxOption{Bit: bit}}
	}
	t.add(optionBit("duplicatedeliver", 1<<0))
	t.add(db(vendorPrefix + "expire"))
	t.add(&Entry{Name: vendorPrefix + "lastpop", Scope: annotate.ScopeMailbox, ValueType: annotate.ValueString,
		ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
		Handler: Computed{Kind: ComputedLastPop}})
	t.add(&Entry{Name: vendorPrefix + "lastupdate", Scope: annotate.ScopeMailbox, ValueType: annotate.ValueString,
		ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
		Handler: Computed{Kind: ComputedLastUpdate}})
	t.add(optionBit("news2mail", 1<<1))
	t.add(&Entry{Name: vendorPrefix + "partition", Scope: annotate.ScopeMailbox, ValueType: annotate.ValueString,
		ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
		Handler: Computed{Kind: ComputedPartition}})
	t.add(optionBit("pop3newuidl", 1<<2))
	t.add(&Entry{Name: vendorPrefix + "pop3showafter", Scope: annotate.ScopeMailbox, ValueType: annotate.ValueString,
		ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
		ExtraACL: annotate.ACLLookup | annotate.ACLWrite,
		Handler:  Pop3ShowAfter{}})
	t.add(&Entry{Name: vendorPrefix + "server", Scope: annotate.ScopeMailbox, ValueType: annotate.ValueString,
		ProxyKind: annotate.ProxyOnly, AllowedAttribs: annotate.AttribValueShared,
		Handler: Computed{Kind: ComputedServer}})
	t.add(optionBit("sharedseen", 1<<3))
	t.add(db(vendorPrefix + "sieve"))
	t.add(&Entry{Name: vendorPrefix + "size", Scope: annotate.ScopeMailbox, ValueType: annotate.ValueUint,
		ProxyKind: annotate.BackendOnly, AllowedAttribs: annotate.AttribValueShared,
		Handler: Computed{Kind: ComputedSize}})
	t.add(db(vendorPrefix + "squat"))
}

func seedMessage(t *scopeTable) {
	db := func(name string) *Entry {
		return &Entry{Name: name, Scope: annotate.ScopeMessage, ValueType: annotate.ValueString,
			ProxyKind: annotate.ProxyAndBackend, AllowedAttribs: allAttribs, Handler: DbBacked{}}
	}
	t.add(db("/altsubject"))
	t.add(db("/comment"))
}
