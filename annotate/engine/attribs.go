package engine

import "vault.ink/annotate"

var canonicalAttribTokens = map[string]annotate.AttribMask{
	"value":        annotate.AttribValueShared | annotate.AttribValuePriv,
	"value.shared": annotate.AttribValueShared,
	"value.priv":   annotate.AttribValuePriv,
	"size":         annotate.AttribSizeShared | annotate.AttribSizePriv,
	"size.shared":  annotate.AttribSizeShared,
	"size.priv":    annotate.AttribSizePriv,
}

var deprecatedAttribPrefixes = []string{
	"modifiedsince", "modifiedsince.shared", "modifiedsince.priv",
	"content-type", "content-type.shared", "content-type.priv",
}

func isDeprecatedAttrib(tok string) bool {
	for _, d := range deprecatedAttribPrefixes {
		if tok == d {
			return true
		}
	}
	return false
}

// compileAttribMask implements spec §4.6 step 1: canonical attribute
// names resolve to their mask bits; deprecated names log a one-shot
// warning and are dropped; anything else is a protocol error.
func compileAttribMask(attribNames []string, logf func(format string, v ...interface{})) (annotate.AttribMask, error) {
	var mask annotate.AttribMask
	warned := false
	for _, name := range attribNames {
		if bit, ok := canonicalAttribTokens[name]; ok {
			mask |= bit
			continue
		}
		if isDeprecatedAttrib(name) {
			if !warned {
				logf("fetch: attribute %q is deprecated, ignoring", name)
				warned = true
			}
			continue
		}
		return 0, annotate.NewError(annotate.StatusProtocolBad, "unknown attribute name %q", name)
	}
	return mask, nil
}
