package rules

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// ErrTooManyRules is returned when a configuration defines more than
// MaxRules file types.
var ErrTooManyRules = errors.New("configuration defines too many file types")

// ParseFile reads and parses a rules configuration.  It returns the
// compiled set together with the raw configuration text, which callers
// echo into the audit log.
func ParseFile(ctx context.Context, path string) (set *Set, text []byte, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, "open rules file", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	text, err = ioutil.ReadAll(in.Reader(ctx))
	if err != nil {
		return nil, nil, errors.E(err, "read rules file", path)
	}
	set, err = Parse(bytes.NewReader(text))
	if err == ErrTooManyRules {
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, errors.E(err, path)
	}
	return set, text, nil
}

// Parse reads a rules configuration.  One rule per non-blank, non-comment
// line:
//
//	suffix  (y|n)  [min:]max  header  [footer  [FORWARD|NEXT|REVERSE]]
//
// A "wildcard C" directive changes the wildcard byte for subsequent
// literal patterns.  Headers and footers delimited by slashes are regular
// expressions; everything else is a literal with escape sequences decoded
// by Translate.
func Parse(r io.Reader) (*Set, error) {
	set := &Set{Wildcard: DefaultWildcard}
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		fields := strings.Fields(strings.TrimRight(scanner.Text(), "\r"))
		if len(fields) == 0 || fields[0][0] == '#' {
			continue
		}
		if strings.EqualFold(fields[0], "wildcard") {
			if len(fields) < 2 {
				log.Printf("line %d: empty wildcard directive ignored", lineno)
				continue
			}
			w := Translate(fields[1])
			if len(w) == 0 {
				log.Printf("line %d: empty wildcard directive ignored", lineno)
				continue
			}
			if len(w) > 1 {
				log.Printf("line %d: wildcard is a single character, using %q", lineno, w[0])
			}
			set.Wildcard = w[0]
			continue
		}
		if set.Len() >= MaxRules {
			return nil, ErrTooManyRules
		}
		rule, err := parseRule(fields, set.Wildcard)
		if err != nil {
			return nil, errors.E(err, fmt.Sprintf("line %d", lineno))
		}
		set.rules = append(set.rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

func parseRule(fields []string, wildcard byte) (*Rule, error) {
	if len(fields) < 4 || len(fields) > 6 {
		return nil, errors.New("expected 4 to 6 fields")
	}
	rule := &Rule{}

	if strings.EqualFold(fields[0], NoExtensionToken) {
		rule.NoExtension = true
	} else {
		if len(fields[0]) > MaxSuffix {
			return nil, errors.New("suffix longer than " + strconv.Itoa(MaxSuffix) + " characters")
		}
		rule.Suffix = fields[0]
	}

	rule.CaseSensitive = strings.HasPrefix(strings.ToLower(fields[1]), "y")

	var err error
	if rule.MinLength, rule.MaxLength, err = parseSizes(fields[2]); err != nil {
		return nil, err
	}

	if rule.Header, err = compilePattern(fields[3], wildcard, rule.CaseSensitive); err != nil {
		return nil, errors.E(err, "bad header pattern")
	}
	if rule.Header == nil {
		return nil, errors.New("empty header pattern")
	}

	if len(fields) >= 5 {
		if rule.Footer, err = compilePattern(fields[4], wildcard, rule.CaseSensitive); err != nil {
			return nil, errors.E(err, "bad footer pattern")
		}
	}

	if len(fields) == 6 {
		switch token := strings.ToUpper(fields[5]); {
		case strings.HasPrefix(token, "REVERSE"):
			rule.Pairing = Reverse
		case strings.HasPrefix(token, "NEXT"):
			rule.Pairing = ForwardNext
		default:
			// FORWARD, or anything unrecognized, means forward search.
			rule.Pairing = Forward
		}
	}
	if rule.Footer == nil {
		// A footerless rule always carves MaxLength bytes forward.
		rule.Pairing = Forward
	}
	return rule, nil
}

// parseSizes parses "max" or "min:max".
func parseSizes(s string) (min, max int64, err error) {
	minText, maxText := "", s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		minText, maxText = s[:i], s[i+1:]
	}
	if minText != "" {
		umin, err := strconv.ParseUint(minText, 10, 63)
		if err != nil {
			return 0, 0, errors.New("bad minimum carve size " + minText)
		}
		min = int64(umin)
	}
	umax, err2 := strconv.ParseUint(maxText, 10, 63)
	if err2 != nil || umax == 0 {
		return 0, 0, errors.New("bad maximum carve size " + maxText)
	}
	max = int64(umax)
	if min > max {
		return 0, 0, errors.New("minimum carve size exceeds maximum")
	}
	return min, max, nil
}

// compilePattern compiles one header or footer token.  It returns nil for
// an empty pattern, which for footers means "no footer defined".
func compilePattern(token string, wildcard byte, caseSensitive bool) (*Pattern, error) {
	if IsRegexpText(token) {
		return newRegexp(token, caseSensitive)
	}
	lit := Translate(token)
	if len(lit) == 0 {
		return nil, nil
	}
	return newLiteral(token, lit, wildcard, caseSensitive)
}

// Translate decodes the escape sequences of a literal configuration
// pattern: \\ \a \s \n \r \t \v, hexadecimal \xNN, and octal \0NN..\3NN.
// An unrecognized or malformed escape keeps its characters, minus the
// backslash for malformed numeric forms, matching the historical parser.
func Translate(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		if s[i] != '\\' || i+1 >= len(s) {
			out = append(out, s[i])
			i++
			continue
		}
		switch c := s[i+1]; c {
		case '\\':
			out = append(out, '\\')
			i += 2
		case 'a':
			out = append(out, '\a')
			i += 2
		case 's':
			out = append(out, ' ')
			i += 2
		case 'n':
			out = append(out, '\n')
			i += 2
		case 'r':
			out = append(out, '\r')
			i += 2
		case 't':
			out = append(out, '\t')
			i += 2
		case 'v':
			out = append(out, '\v')
			i += 2
		case 'x', '0', '1', '2', '3':
			if i+3 < len(s) && isHexDigit(s[i+2]) && isHexDigit(s[i+3]) {
				// "0x41" parses as hex, "0101" as octal.
				if v, err := strconv.ParseUint("0"+s[i+1:i+4], 0, 16); err == nil {
					out = append(out, byte(v))
					i += 4
					continue
				}
			}
			// Malformed numeric escape: drop the backslash, keep the rest.
			i++
		default:
			out = append(out, '\\')
			i++
		}
	}
	return out
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
