package pair_test

import (
	"strings"
	"testing"

	"github.com/grailbio/carve/dig"
	"github.com/grailbio/carve/pair"
	"github.com/grailbio/carve/rules"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const bigImage = int64(1) << 40

func mustRules(t *testing.T, conf string) *rules.Set {
	rs, err := rules.Parse(strings.NewReader(conf))
	assert.NoError(t, err)
	return rs
}

func store(rs *rules.Set, headers, footers []dig.Match) *dig.Store {
	s := dig.NewStore(rs.Len())
	for _, m := range headers {
		s.Rule(0).AddHeader(m)
	}
	for _, m := range footers {
		s.Rule(0).AddFooter(m)
	}
	return s
}

func matches(lens int, positions ...int64) []dig.Match {
	out := make([]dig.Match, len(positions))
	for i, p := range positions {
		out[i] = dig.Match{Pos: p, Len: lens}
	}
	return out
}

func ranges(extents []pair.Extent) [][2]int64 {
	out := [][2]int64{}
	for _, e := range extents {
		out = append(out, [2]int64{e.Start, e.Stop})
	}
	return out
}

func TestForward(t *testing.T) {
	rs := mustRules(t, `jpg y 100000 \xff\xd8\xff\xe0 \xff\xd9`)
	// One 512-byte file: header at 0, footer at 510 with length 2.
	s := store(rs, matches(4, 0), matches(2, 510))
	extents := pair.Extents(rs, s, pair.Options{ImageSize: 512})
	assert.EQ(t, len(extents), 1)
	expect.EQ(t, extents[0].Start, int64(0))
	expect.EQ(t, extents[0].Stop, int64(511))
	expect.False(t, extents[0].Truncated)
}

func TestForwardSkipsWithoutFooter(t *testing.T) {
	rs := mustRules(t, "bin y 1024 HDRA FTRA")
	s := store(rs, matches(4, 100), nil)
	expect.EQ(t, len(pair.Extents(rs, s, pair.Options{ImageSize: bigImage})), 0)

	// With MissingFooters the header still carves MaxLength bytes.
	extents := pair.Extents(rs, s, pair.Options{MissingFooters: true, ImageSize: bigImage})
	assert.EQ(t, len(extents), 1)
	expect.EQ(t, ranges(extents), [][2]int64{{100, 1123}})
	expect.True(t, extents[0].Truncated)
}

func TestForwardFooterTooFar(t *testing.T) {
	rs := mustRules(t, "bin y 100 HDRA FT")
	s := store(rs, matches(4, 0), matches(2, 500))
	expect.EQ(t, len(pair.Extents(rs, s, pair.Options{ImageSize: bigImage})), 0)
	extents := pair.Extents(rs, s, pair.Options{MissingFooters: true, ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{0, 99}})
	expect.True(t, extents[0].Truncated)
}

// A footer whose inclusion ends the carve exactly at start+max-1 is in
// range and not truncated.
func TestForwardBoundaryFooter(t *testing.T) {
	rs := mustRules(t, "bin y 100 HDRA FT")
	s := store(rs, matches(4, 0), matches(2, 98))
	extents := pair.Extents(rs, s, pair.Options{ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{0, 99}})
	expect.False(t, extents[0].Truncated)
}

func TestForwardNext(t *testing.T) {
	rs := mustRules(t, "htm n 1000 <html </html> NEXT")
	s := store(rs, matches(5, 10), matches(7, 200))
	// The footer bytes are excluded.
	extents := pair.Extents(rs, s, pair.Options{ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{10, 199}})
	expect.False(t, extents[0].Truncated)

	// Without any footer, ForwardNext truncates at MaxLength.
	s = store(rs, matches(5, 10), nil)
	extents = pair.Extents(rs, s, pair.Options{ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{10, 1009}})
	expect.True(t, extents[0].Truncated)
}

// Reverse mode: overlapping files share the farthest footer in range.
func TestReverse(t *testing.T) {
	rs := mustRules(t, "pdf y 30000 %PDF %EOF REVERSE")
	s := store(rs, matches(4, 0, 10), matches(4, 500, 20000))
	extents := pair.Extents(rs, s, pair.Options{ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{0, 20003}, {10, 20003}})
}

func TestNoFooterRule(t *testing.T) {
	rs := mustRules(t, "bin y 1024 HDRA")
	s := store(rs, matches(4, 0, 5000), nil)
	extents := pair.Extents(rs, s, pair.Options{ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{0, 1023}, {5000, 6023}})
	expect.True(t, extents[0].Truncated)
	expect.True(t, extents[1].Truncated)
}

// Embedded matching: a nested header/footer pair must not steal the
// outer file's footer.
func TestEmbedded(t *testing.T) {
	rs := mustRules(t, "zip y 100000 PK\\x03\\x04 PKEND")
	s := store(rs, matches(4, 0, 100), matches(5, 200, 400))

	extents := pair.Extents(rs, s, pair.Options{Embedded: true, ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{0, 404}, {100, 204}})

	// Without embedded handling the outer file ends at the first footer.
	extents = pair.Extents(rs, s, pair.Options{ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{0, 204}, {100, 204}})
}

// An unbalanced header (depth never returns to zero) is discarded.
func TestEmbeddedUnbalanced(t *testing.T) {
	rs := mustRules(t, "zip y 100000 PK\\x03\\x04 PKEND")
	s := store(rs, matches(4, 0, 10), matches(5, 20))
	extents := pair.Extents(rs, s, pair.Options{Embedded: true, ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{10, 24}})
}

func TestMinLengthFilter(t *testing.T) {
	rs := mustRules(t, "bin y 100:1000 HDRA FT")
	s := store(rs, matches(4, 0, 500), matches(2, 50, 700))
	// [0, 51] is 52 bytes, below the minimum; [500, 701] passes.
	extents := pair.Extents(rs, s, pair.Options{ImageSize: bigImage})
	expect.EQ(t, ranges(extents), [][2]int64{{500, 701}})
}

func TestClipToImageSize(t *testing.T) {
	rs := mustRules(t, "bin y 1024 HDRA")
	s := store(rs, matches(4, 100), nil)
	extents := pair.Extents(rs, s, pair.Options{ImageSize: 512})
	expect.EQ(t, ranges(extents), [][2]int64{{100, 511}})
}

func TestBlockAligned(t *testing.T) {
	rs := mustRules(t, "bin y 1024 HDRA")
	s := store(rs, matches(4, 100, 512, 1024), nil)
	extents := pair.Extents(rs, s, pair.Options{
		AlignedOnly:      true,
		AlignedBlockSize: 512,
		ImageSize:        bigImage,
	})
	expect.EQ(t, ranges(extents), [][2]int64{{512, 1535}, {1024, 2047}})
}
