// Package rules holds the compiled carving rules: for each file type a
// header pattern, an optional footer pattern, size bounds, and the pairing
// policy that turns matched offsets into carve extents.  Patterns are
// either literals with single-byte wildcards or regular expressions.
package rules

const (
	// MaxLiteral bounds the translated byte length of a literal pattern.
	MaxLiteral = 20
	// MaxSuffix bounds the length of an output filename extension.
	MaxSuffix = 8
	// MaxRules bounds the number of rules in one set.
	MaxRules = 100
	// RegexpOverlap is the assumed span of a regular expression needle.  It
	// bounds how far a regexp match may straddle a window boundary and so
	// sizes the overlap re-read in the dig pass.
	RegexpOverlap = 1024
	// DefaultWildcard is the literal-pattern byte that matches any input
	// byte, unless the configuration overrides it.
	DefaultWildcard = '?'
	// NoExtensionToken is the suffix token that suppresses the extension.
	NoExtensionToken = "NONE"
)

// Pairing selects which footer, if any, terminates a given header.
type Pairing int

const (
	// Forward pairs each header with the nearest following footer and
	// includes the footer bytes in the carve.
	Forward Pairing = iota
	// ForwardNext pairs like Forward but excludes the footer bytes, and
	// falls back to a truncated carve when no footer is in range.
	ForwardNext
	// Reverse pairs each header with the farthest footer within the
	// maximum carve size, footer bytes included.
	Reverse
)

func (p Pairing) String() string {
	switch p {
	case ForwardNext:
		return "NEXT"
	case Reverse:
		return "REVERSE"
	}
	return "FORWARD"
}

// Rule describes one file type to carve.  Rules are immutable after
// Parse returns.
type Rule struct {
	// Suffix is the output filename extension, without the dot.  It is
	// empty when NoExtension is set.
	Suffix      string
	NoExtension bool
	// CaseSensitive applies to both literal comparison and regexps.
	CaseSensitive bool
	// MinLength and MaxLength bound the size of a carve in bytes.
	// MinLength <= MaxLength, and MaxLength caps every carve.
	MinLength int64
	MaxLength int64
	// Header marks the start of a file.  Never nil.
	Header *Pattern
	// Footer marks the end of a file.  A nil footer means every header
	// yields a MaxLength carve, flagged as chopped.
	Footer  *Pattern
	Pairing Pairing
}

// HasFooter reports whether the rule defines a footer.
func (r *Rule) HasFooter() bool { return r.Footer != nil }

// Label returns the name used for the rule in diagnostics and in output
// subdirectory names.
func (r *Rule) Label() string {
	if r.NoExtension {
		return NoExtensionToken
	}
	return r.Suffix
}

// Set is an ordered collection of rules.
type Set struct {
	// Wildcard is the wildcard byte in effect at the end of the
	// configuration.  Each literal pattern keeps the wildcard that was in
	// effect when its rule was parsed.
	Wildcard byte
	rules    []*Rule
}

// Len returns the number of rules.
func (s *Set) Len() int { return len(s.rules) }

// Rule returns the i'th rule.
func (s *Set) Rule(i int) *Rule { return s.rules[i] }

// Rules returns the rules in configuration order.  The caller must not
// modify the returned slice.
func (s *Set) Rules() []*Rule { return s.rules }

// LongestNeedle returns the maximum effective length over all header and
// footer patterns.  Regexps contribute RegexpOverlap.  The streaming
// reader re-reads LongestNeedle-1 bytes at every window boundary so that
// no straddling match is missed.
func (s *Set) LongestNeedle() int {
	longest := 0
	for _, r := range s.rules {
		if n := r.Header.EffectiveLen(); n > longest {
			longest = n
		}
		if r.Footer != nil {
			if n := r.Footer.EffectiveLen(); n > longest {
				longest = n
			}
		}
	}
	return longest
}
