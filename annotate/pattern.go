package annotate

import "strings"

// Pattern is a compiled hierarchical glob: '*' matches any substring,
// '%' matches any substring that does not cross the hierarchy
// separator. Entry-name patterns use '/' as separator; mailbox-name
// patterns use whatever namespace separator the host configures.
type Pattern struct {
	raw    string
	sep    byte
	prefix string // fixed prefix before the first wildcard
	parts  []patPart
}

type patPart struct {
	wild    bool
	any     bool // '*' (may cross separator) vs '%' (may not)
	literal string
}

// Compile compiles pattern using sep as the hierarchy separator.
func Compile(pattern string, sep byte) *Pattern {
	p := &Pattern{raw: pattern, sep: sep}

	var lit strings.Builder
	fixedDone := false
	flushLiteral := func() {
		if lit.Len() == 0 {
			return
		}
		p.parts = append(p.parts, patPart{literal: lit.String()})
		lit.Reset()
	}

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '*' || c == '%' {
			if !fixedDone {
				p.prefix = lit.String()
				fixedDone = true
			}
			flushLiteral()
			p.parts = append(p.parts, patPart{wild: true, any: c == '*'})
			continue
		}
		lit.WriteByte(c)
	}
	flushLiteral()
	if !fixedDone {
		p.prefix = pattern
	}
	return p
}

// HasWildcard reports whether pattern contains '*' or '%'.
func (p *Pattern) HasWildcard() bool {
	for _, part := range p.parts {
		if part.wild {
			return true
		}
	}
	return false
}

// FixedPrefix returns the literal characters of the pattern before its
// first wildcard; used to narrow a database scan to a literal prefix
// range (spec §3 invariant 4).
func (p *Pattern) FixedPrefix() string { return p.prefix }

// String returns the original, uncompiled pattern text.
func (p *Pattern) String() string { return p.raw }

// Match reports whether s matches the compiled pattern.
func (p *Pattern) Match(s string) bool {
	return matchParts(p.parts, 0, s, p.sep)
}

func matchParts(parts []patPart, pi int, s string, sep byte) bool {
	for pi < len(parts) {
		part := parts[pi]
		if !part.wild {
			if !strings.HasPrefix(s, part.literal) {
				return false
			}
			s = s[len(part.literal):]
			pi++
			continue
		}
		// Wildcard: try every split point greedily from the front.
		// Collect the run of literal text (if any) immediately
		// following this wildcard so matches can be anchored.
		if pi+1 == len(parts) {
			if part.any {
				return true
			}
			return !strings.Contains(s, string(sep))
		}
		next := parts[pi+1]
		if next.wild {
			// Two wildcards in a row; the first is redundant once we
			// recurse, since trying all splits of the next will cover
			// every substring already.
			return matchParts(parts[pi+1:], 0, s, sep)
		}
		// next must be literal: find every occurrence of it in s and
		// try matching the remainder from there, respecting the
		// separator-crossing rule for this wildcard.
		for start := 0; start <= len(s); start++ {
			idx := strings.Index(s[start:], next.literal)
			if idx < 0 {
				return false
			}
			idx += start
			skipped := s[:idx]
			if !part.any && strings.Contains(skipped, string(sep)) {
				// '%' cannot absorb a separator; once the candidate
				// skip region contains one, no later split point can
				// un-contain it, so stop.
				return false
			}
			if matchParts(parts[pi+1:], 0, s[idx:], sep) {
				return true
			}
			start = idx
		}
		return false
	}
	return s == ""
}
