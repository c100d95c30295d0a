package registry

import (
	"fmt"
	"strings"

	"vault.ink/annotate"
)

var valueTypeTokens = map[string]annotate.ValueType{
	"string":  annotate.ValueString,
	"boolean": annotate.ValueBoolean,
	"uint":    annotate.ValueUint,
	"int":     annotate.ValueInt,
}

var proxyKindTokens = map[string]annotate.ProxyKind{
	"proxy_only":        annotate.ProxyOnly,
	"backend_only":      annotate.BackendOnly,
	"proxy_and_backend": annotate.ProxyAndBackend,
}

var attribTokens = map[string]annotate.AttribMask{
	"value.shared": annotate.AttribValueShared,
	"value.priv":   annotate.AttribValuePriv,
	"size.shared":  annotate.AttribSizeShared,
	"size.priv":    annotate.AttribSizePriv,
	"deprecated":   annotate.AttribDeprecated,
}

var scopeTokens = map[string]annotate.Scope{
	"server":  annotate.ScopeServer,
	"mailbox": annotate.ScopeMailbox,
	"message": annotate.ScopeMessage,
}

var aclTokens = map[string]annotate.ACLRight{
	"lookup": annotate.ACLLookup,
	"read":   annotate.ACLRead,
	"seen":   annotate.ACLSeen,
	"write":  annotate.ACLWrite,
	"insert": annotate.ACLInsert,
	"post":   annotate.ACLPost,
	"create": annotate.ACLCreate,
	"delete": annotate.ACLDeleteMailbox,
	"admin":  annotate.ACLAdmin,
}

// loadConfig parses the configuration file format of spec §4.3 step 2
// and §6 "Configuration file": one entry per line, comma-separated
// `name, scope, value_type, proxy_kind_list, attribute_list,
// acl_mask_text`. Blank lines and lines starting with '#' are
// comments. Unknown tokens are a fatal configuration error.
func loadConfig(r *Registry, lines []string, logf func(format string, v ...interface{})) error {
	warnedDeprecated := false
	for lineNo, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) != 6 {
			return fmt.Errorf("annotation config line %d: want 6 comma-separated fields, got %d", lineNo+1, len(fields))
		}
		name, scopeTok, valueTypeTok, proxyTok, attribsTok, aclTok := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]

		scope, ok := scopeTokens[scopeTok]
		if !ok {
			return fmt.Errorf("annotation config line %d: unknown scope %q", lineNo+1, scopeTok)
		}

		if strings.HasPrefix(name, vendorPrefix) {
			logf("annotation config line %d: ignoring vendor-internal name %q", lineNo+1, name)
			continue
		}
		if scope == annotate.ScopeMessage && strings.HasPrefix(name, "/flags/") {
			logf("annotation config line %d: ignoring reserved message flag name %q", lineNo+1, name)
			continue
		}

		valueType, ok := valueTypeTokens[valueTypeTok]
		if !ok {
			return fmt.Errorf("annotation config line %d: unknown value type %q", lineNo+1, valueTypeTok)
		}

		proxyKind, err := parseProxyKind(proxyTok)
		if err != nil {
			return fmt.Errorf("annotation config line %d: %v", lineNo+1, err)
		}

		attribs, deprecated, err := parseAttribs(attribsTok)
		if err != nil {
			return fmt.Errorf("annotation config line %d: %v", lineNo+1, err)
		}
		if deprecated {
			if !warnedDeprecated {
				logf("annotation config line %d: entry %q requests a deprecated attribute bit, stripping", lineNo+1, name)
				warnedDeprecated = true
			}
		}

		acl, err := parseACL(aclTok)
		if err != nil {
			return fmt.Errorf("annotation config line %d: %v", lineNo+1, err)
		}

		t := scopeTableFor(r, scope)
		t.add(&Entry{
			Name:           name,
			Scope:          scope,
			ValueType:      valueType,
			ProxyKind:      proxyKind,
			AllowedAttribs: attribs,
			ExtraACL:       acl,
			Handler:        DbBacked{},
		})
	}
	return nil
}

func parseProxyKind(tok string) (annotate.ProxyKind, error) {
	k, ok := proxyKindTokens[tok]
	if !ok {
		return 0, fmt.Errorf("unknown proxy kind %q", tok)
	}
	return k, nil
}

func parseAttribs(tok string) (mask annotate.AttribMask, sawDeprecated bool, err error) {
	if tok == "" {
		return annotate.AttribNone, false, nil
	}
	for _, part := range strings.Split(tok, "|") {
		part = strings.TrimSpace(part)
		bit, ok := attribTokens[part]
		if !ok {
			return 0, false, fmt.Errorf("unknown attribute token %q", part)
		}
		if bit == annotate.AttribDeprecated {
			sawDeprecated = true
			continue
		}
		mask |= bit
	}
	return mask, sawDeprecated, nil
}

func parseACL(tok string) (annotate.ACLRight, error) {
	var mask annotate.ACLRight
	if tok == "" {
		return mask, nil
	}
	for _, part := range strings.Split(tok, "|") {
		part = strings.TrimSpace(part)
		bit, ok := aclTokens[part]
		if !ok {
			return 0, fmt.Errorf("unknown ACL token %q", part)
		}
		mask |= bit
	}
	return mask, nil
}
