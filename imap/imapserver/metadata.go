package imapserver

import (
	"strings"

	"vault.ink/annotate/engine"
)

// RFC 5464 entries live under one of two top-level namespaces; this
// repo's engine instead tracks shared/private as a bit of AttribMask
// against a single entry name, so the wire layer splits the prefix
// off here and puts it back on the way out.
const (
	metadataSharedNamespace  = "/shared"
	metadataPrivateNamespace = "/private"
)

func splitMetadataEntry(wire string) (base string, attrib string, ok bool) {
	if strings.HasPrefix(wire, metadataSharedNamespace+"/") {
		return strings.TrimPrefix(wire, metadataSharedNamespace), "value.shared", true
	}
	if strings.HasPrefix(wire, metadataPrivateNamespace+"/") {
		return strings.TrimPrefix(wire, metadataPrivateNamespace), "value.priv", true
	}
	return "", "", false
}

func (c *Conn) cmdGetMetadata() {
	cmd := &c.p.Command

	type want struct {
		base   string
		prefix string
		attrib string
	}
	var wants []want
	for _, wire := range cmd.Metadata.Entries {
		base, attrib, ok := splitMetadataEntry(wire)
		if !ok {
			c.respondln("BAD GETMETADATA entry %q must start with /shared/ or /private/", wire)
			return
		}
		prefix := metadataSharedNamespace
		if attrib == "value.priv" {
			prefix = metadataPrivateNamespace
		}
		wants = append(wants, want{base: base, prefix: prefix, attrib: attrib})
	}

	maxSize := 0
	if cmd.Metadata.MaxSize > 0 {
		maxSize = int(cmd.Metadata.MaxSize)
	}

	type pair struct {
		entry string
		value []byte
	}
	var pairs []pair
	var largestOversize int
	for _, attrib := range []string{"value.shared", "value.priv"} {
		var patterns []string
		var prefix string
		for _, w := range wants {
			if w.attrib != attrib {
				continue
			}
			patterns = append(patterns, w.base)
			prefix = w.prefix
		}
		if len(patterns) == 0 {
			continue
		}
		oversize, err := c.session.GetMetadata(string(cmd.Mailbox), patterns, []string{attrib}, maxSize, func(o engine.Output) {
			for _, v := range o.Values {
				pairs = append(pairs, pair{entry: prefix + o.Entry, value: v.Value})
			}
		})
		if err != nil {
			c.respondln("NO GETMETADATA %v", err)
			return
		}
		if oversize > largestOversize {
			largestOversize = oversize
		}
	}

	c.writef("* METADATA ")
	c.writeStringBytes(cmd.Mailbox)
	c.writef(" (")
	for i, p := range pairs {
		if i > 0 {
			c.writef(" ")
		}
		c.writeString(p.entry)
		c.writef(" ")
		if p.value == nil {
			c.writef("NIL")
		} else {
			c.writeStringBytes(p.value)
		}
	}
	c.writef(")\r\n")

	if largestOversize > 0 {
		c.respondln("OK [METADATA LONGENTRIES %d] GETMETADATA completed", largestOversize)
	} else {
		c.respondln("OK GETMETADATA completed")
	}
}

func (c *Conn) cmdSetMetadata() {
	cmd := &c.p.Command

	order := make([]string, 0, len(cmd.Metadata.Entries))
	byEntry := make(map[string]*engine.StoreEntry)
	for i, wire := range cmd.Metadata.Entries {
		base, attrib, ok := splitMetadataEntry(wire)
		if !ok {
			c.respondln("BAD SETMETADATA entry %q must start with /shared/ or /private/", wire)
			return
		}
		se, found := byEntry[base]
		if !found {
			se = &engine.StoreEntry{Name: base}
			byEntry[base] = se
			order = append(order, base)
		}
		se.Attribs = append(se.Attribs, engine.StoreAttrib{Name: attrib, Value: cmd.Metadata.Values[i]})
	}

	entries := make([]engine.StoreEntry, 0, len(order))
	for _, base := range order {
		entries = append(entries, *byEntry[base])
	}

	if err := c.session.SetMetadata(string(cmd.Mailbox), entries); err != nil {
		c.respondln("NO SETMETADATA %v", err)
		return
	}
	c.respondln("OK SETMETADATA completed")
}
