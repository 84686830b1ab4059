package rules

import (
	"regexp"
	"strings"

	"github.com/grailbio/base/errors"
)

// Pattern is a compiled needle: either a translated literal with a
// Boyer-Moore skip table, or a regular expression.  A literal supports a
// single-byte wildcard and optional ASCII-letter case folding.
type Pattern struct {
	// Text is the pattern as written in the configuration, for humans.
	Text string

	lit           []byte
	wildcard      byte
	caseSensitive bool
	// skip is the Boyer-Moore bad-character table.  Wildcard positions
	// lower every entry that would skip across them.
	skip [256]int

	re *regexp.Regexp
}

// IsRegexpText reports whether a configuration token denotes a regular
// expression, i.e. is delimited by slashes.
func IsRegexpText(s string) bool {
	return len(s) >= 2 && s[0] == '/' && s[len(s)-1] == '/'
}

func newLiteral(text string, lit []byte, wildcard byte, caseSensitive bool) (*Pattern, error) {
	if len(lit) > MaxLiteral {
		return nil, errors.New("literal pattern longer than the supported maximum")
	}
	p := &Pattern{Text: text, lit: lit, wildcard: wildcard, caseSensitive: caseSensitive}
	n := len(lit)
	for i := range p.skip {
		p.skip[i] = n
	}
	for i, c := range lit {
		current := n - i - 1 // count from the back of the pattern
		if c == wildcard {
			// No entry may advance the scan past a wildcard.
			for j := range p.skip {
				p.skip[j] = current
			}
		}
		p.skip[c] = current
		if !caseSensitive {
			if 'A' <= c && c <= 'Z' {
				p.skip[c|0x20] = current
			} else if 'a' <= c && c <= 'z' {
				p.skip[c&^0x20] = current
			}
		}
	}
	return p, nil
}

func newRegexp(text string, caseSensitive bool) (*Pattern, error) {
	expr := strings.TrimSuffix(strings.TrimPrefix(text, "/"), "/")
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &Pattern{Text: text, re: re}, nil
}

// IsRegexp reports whether p is a compiled regular expression.
func (p *Pattern) IsRegexp() bool { return p.re != nil }

// Len returns the byte length of a literal pattern, or 0 for a regexp,
// whose match length is only known per match.
func (p *Pattern) Len() int { return len(p.lit) }

// EffectiveLen is the pattern length used for overlap sizing: the literal
// length, or RegexpOverlap for a regexp.
func (p *Pattern) EffectiveLen() int {
	if p.re != nil {
		return RegexpOverlap
	}
	return len(p.lit)
}

func (p *Pattern) bytesMatch(a, b byte) bool {
	if a == p.wildcard || a == b {
		return true
	}
	if p.caseSensitive {
		return false
	}
	// Case folding applies to ASCII letters only.
	return isLetter(a) && isLetter(b) && a|0x20 == b|0x20
}

func isLetter(c byte) bool {
	return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z')
}

func (p *Pattern) matchAt(window []byte, start int) bool {
	for i, c := range p.lit {
		if !p.bytesMatch(c, window[start+i]) {
			return false
		}
	}
	return true
}

// find returns the position of the next literal match at or after from,
// or -1.
func (p *Pattern) find(window []byte, from int) int {
	n := len(p.lit)
	if n == 0 || from+n > len(window) {
		return -1
	}
	pos := from + n - 1
	for pos < len(window) {
		shift := p.skip[window[pos]]
		for shift > 0 {
			pos += shift
			if pos >= len(window) {
				return -1
			}
			shift = p.skip[window[pos]]
		}
		if start := pos - n + 1; p.matchAt(window, start) {
			return start
		}
		pos++
	}
	return -1
}

// FindAll calls fn once per match of p in window, in scan order, with the
// match position and length.  When allowOverlap is false the scan resumes
// past the whole match; otherwise one byte after the match start.
func (p *Pattern) FindAll(window []byte, allowOverlap bool, fn func(pos, length int)) {
	if p.re != nil {
		from := 0
		for from < len(window) {
			loc := p.re.FindIndex(window[from:])
			if loc == nil {
				return
			}
			pos, length := from+loc[0], loc[1]-loc[0]
			fn(pos, length)
			if allowOverlap || length == 0 {
				from = pos + 1
			} else {
				from = pos + length
			}
		}
		return
	}
	from := 0
	for {
		pos := p.find(window, from)
		if pos < 0 {
			return
		}
		fn(pos, len(p.lit))
		if allowOverlap {
			from = pos + 1
		} else {
			from = pos + len(p.lit)
		}
	}
}
