package engine

import (
	"strconv"
	"strings"

	"vault.ink/annotate"
)

// canonicalizeValue implements spec §4.7 step 3. string passes
// through unchanged; boolean/uint/int canonicalise or fail BadValue.
func canonicalizeValue(vt annotate.ValueType, raw []byte) ([]byte, error) {
	switch vt {
	case annotate.ValueString:
		return raw, nil

	case annotate.ValueBoolean:
		switch strings.ToLower(string(raw)) {
		case "true":
			return []byte("true"), nil
		case "false":
			return []byte("false"), nil
		default:
			return nil, annotate.NewError(annotate.StatusBadValue, "%q is not a boolean", raw)
		}

	case annotate.ValueUint:
		s := string(raw)
		if s == "" || strings.ContainsAny(s, "-") {
			return nil, annotate.NewError(annotate.StatusBadValue, "%q is not an unsigned integer", raw)
		}
		for _, c := range s {
			if c < '0' || c > '9' {
				return nil, annotate.NewError(annotate.StatusBadValue, "%q is not an unsigned integer", raw)
			}
		}
		if _, err := strconv.ParseUint(s, 10, 64); err != nil {
			return nil, annotate.NewError(annotate.StatusBadValue, "%q overflows uint64: %v", raw, err)
		}
		return []byte(s), nil

	case annotate.ValueInt:
		s := string(raw)
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return nil, annotate.NewError(annotate.StatusBadValue, "%q is not a valid int64: %v", raw, err)
		}
		return []byte(s), nil

	default:
		return nil, annotate.NewError(annotate.StatusInternal, "canonicalizeValue: unknown value type %v", vt)
	}
}
