package rules

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func mustLiteral(t *testing.T, text string, wildcard byte, caseSensitive bool) *Pattern {
	p, err := newLiteral(text, Translate(text), wildcard, caseSensitive)
	assert.NoError(t, err)
	return p
}

func findAll(p *Pattern, window []byte, allowOverlap bool) []int {
	positions := []int{}
	p.FindAll(window, allowOverlap, func(pos, length int) {
		positions = append(positions, pos)
	})
	return positions
}

func TestLiteralFindAll(t *testing.T) {
	tests := []struct {
		pattern string
		window  string
		overlap bool
		want    []int
	}{
		{"abc", "xxabcxabc", true, []int{2, 6}},
		{"abc", "xyzzy", true, []int{}},
		{"aa", "aaaa", true, []int{0, 1, 2}},
		{"aa", "aaaa", false, []int{0, 2}},
		{"a?c", "abc axc adc ac", true, []int{0, 4, 8}},
		{"?bc", "abc xbczbc", true, []int{0, 4, 7}},
		{"ab", "xab", true, []int{1}},
		{"ab", "ab", true, []int{0}},
	}
	for _, test := range tests {
		p := mustLiteral(t, test.pattern, '?', true)
		expect.EQ(t, findAll(p, []byte(test.window), test.overlap), test.want, "pattern %q in %q", test.pattern, test.window)
	}
}

func TestLiteralCaseFolding(t *testing.T) {
	p := mustLiteral(t, "AbC", '?', false)
	expect.EQ(t, findAll(p, []byte("abc ABC aBc"), true), []int{0, 4, 8})

	// Folding applies to ASCII letters only: '[' (0x5b) and '{' (0x7b)
	// differ by 0x20 but must not match.
	p = mustLiteral(t, "[", '?', false)
	expect.EQ(t, findAll(p, []byte("{"), true), []int{})

	p = mustLiteral(t, "AbC", '?', true)
	expect.EQ(t, findAll(p, []byte("abc AbC"), true), []int{4})
}

func TestLiteralWildcardByte(t *testing.T) {
	// A non-default wildcard byte, including one that is not printable.
	lit := []byte{0xff, 0x00, 0xd8}
	p, err := newLiteral("h", lit, 0x00, true)
	assert.NoError(t, err)
	window := []byte{0xff, 0x42, 0xd8, 0xff, 0xff, 0xd8}
	expect.EQ(t, findAll(p, window, true), []int{0, 3})
}

func TestLiteralTooLong(t *testing.T) {
	long := make([]byte, MaxLiteral+1)
	_, err := newLiteral("x", long, '?', true)
	expect.True(t, err != nil)
}

// TestLiteralAgainstReferenceScan cross-checks the Boyer-Moore scan with
// a naive matcher over random data, for several patterns with and
// without wildcards.
func TestLiteralAgainstReferenceScan(t *testing.T) {
	rnd := rand.New(rand.NewSource(12345))
	window := make([]byte, 1<<16)
	for i := range window {
		window[i] = byte(rnd.Intn(4)) + 'a' // small alphabet forces matches
	}
	for _, text := range []string{"ab", "aba", "a?b", "?ab?", "abab"} {
		p := mustLiteral(t, text, '?', true)
		want := []int{}
		lit := Translate(text)
	scan:
		for i := 0; i+len(lit) <= len(window); i++ {
			for j, c := range lit {
				if c != '?' && c != window[i+j] {
					continue scan
				}
			}
			want = append(want, i)
		}
		expect.EQ(t, findAll(p, window, true), want, "pattern %q", text)
	}
}

func TestRegexpFindAll(t *testing.T) {
	p, err := newRegexp("/ab+/", true)
	assert.NoError(t, err)
	expect.EQ(t, findAll(p, []byte("ab abb xb"), true), []int{0, 3})

	var lengths []int
	p.FindAll([]byte("abbb"), false, func(pos, length int) {
		lengths = append(lengths, length)
	})
	expect.EQ(t, lengths, []int{4})

	p, err = newRegexp("/AB/", false)
	assert.NoError(t, err)
	expect.EQ(t, findAll(p, []byte("ab AB aB"), true), []int{0, 3, 6})

	_, err = newRegexp("/(/", true)
	expect.True(t, err != nil)
}

func TestEffectiveLen(t *testing.T) {
	p := mustLiteral(t, "abcd", '?', true)
	expect.EQ(t, p.Len(), 4)
	expect.EQ(t, p.EffectiveLen(), 4)
	re, err := newRegexp("/a+/", true)
	assert.NoError(t, err)
	expect.EQ(t, re.Len(), 0)
	expect.EQ(t, re.EffectiveLen(), RegexpOverlap)
}
