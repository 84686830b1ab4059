package extract_test

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/carve/coverage"
	"github.com/grailbio/carve/extract"
	"github.com/grailbio/carve/pair"
	"github.com/grailbio/carve/rules"
	"github.com/grailbio/carve/source"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func mustRules(t *testing.T, conf string) *rules.Set {
	rs, err := rules.Parse(strings.NewReader(conf))
	assert.NoError(t, err)
	return rs
}

func extent(rs *rules.Set, rule int, start, stop int64) pair.Extent {
	return pair.Extent{RuleIndex: rule, Rule: rs.Rule(rule), Start: start, Stop: stop}
}

func TestPlanNames(t *testing.T) {
	rs := mustRules(t, "jpg y 1000 HDRA FTRA\nNONE y 1000 XYZQ\n")
	opts := &extract.Options{
		OutDir:            "/out",
		Organize:          true,
		MaxFilesPerSubdir: 2,
		Preview:           true, // no directories are created
		ImageSize:         1 << 20,
	}
	extents := []pair.Extent{
		extent(rs, 0, 0, 9),
		extent(rs, 0, 20, 29),
		extent(rs, 0, 40, 49),
		extent(rs, 1, 60, 69),
	}
	plan, err := extract.BuildPlan(extents, rs.Len(), opts)
	assert.NoError(t, err)
	expect.EQ(t, plan.Names(), []string{
		"/out/jpg-0-0/00000000.jpg",
		"/out/jpg-0-0/00000001.jpg",
		"/out/jpg-0-1/00000002.jpg", // per-rule rollover after 2 files
		"/out/NONE-1-0/00000003",
	})

	opts.Organize = false
	opts.NoSuffix = true
	plan, err = extract.BuildPlan(extents[:1], rs.Len(), opts)
	assert.NoError(t, err)
	expect.EQ(t, plan.Names(), []string{"/out/00000000"})
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func runPlan(t *testing.T, data []byte, extents []pair.Extent, nrules int, opts *extract.Options) string {
	ctx := vcontext.Background()
	assert.NoError(t, os.MkdirAll(opts.OutDir, 0777))
	input := filepath.Join(opts.OutDir, "..", "input.img")
	assert.NoError(t, ioutil.WriteFile(input, data, 0666))
	plan, err := extract.BuildPlan(extents, nrules, opts)
	assert.NoError(t, err)
	auditPath := filepath.Join(opts.OutDir, "audit.txt")
	aud, err := extract.NewAuditor(ctx, auditPath, "1.0", "test", opts.OutDir, "conf", nil)
	assert.NoError(t, err)
	src := source.NewFile(input)
	assert.NoError(t, src.Open())
	defer src.Close() // nolint: errcheck
	rd := coverage.NewReader(src, nil)
	assert.NoError(t, extract.Run(rd, plan, opts, aud, nil, nil, "input.img"))
	assert.NoError(t, aud.Close())
	audit, err := ioutil.ReadFile(auditPath)
	assert.NoError(t, err)
	return string(audit)
}

func TestRunSingleWindow(t *testing.T) {
	tmp, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	out := filepath.Join(tmp, "out")
	rs := mustRules(t, "jpg y 1000 HDRA FTRA\n")
	data := testData(512)
	opts := &extract.Options{OutDir: out, ImageSize: int64(len(data))}
	extents := []pair.Extent{
		extent(rs, 0, 0, 511),
		extent(rs, 0, 10, 19),
	}
	audit := runPlan(t, data, extents, rs.Len(), opts)

	got, err := ioutil.ReadFile(filepath.Join(out, "00000000.jpg"))
	assert.NoError(t, err)
	expect.True(t, bytes.Equal(got, data))
	got, err = ioutil.ReadFile(filepath.Join(out, "00000001.jpg"))
	assert.NoError(t, err)
	expect.True(t, bytes.Equal(got, data[10:20]))

	expect.True(t, strings.Contains(audit, "00000000.jpg\t0\tNO\t512\tinput.img"))
	expect.True(t, strings.Contains(audit, "00000001.jpg\t10\tNO\t10\tinput.img"))
}

// TestRunMultiWindow carves files spanning several 10 MiB windows, with
// the open-file cap forcing close-and-reopen cycles in between.
func TestRunMultiWindow(t *testing.T) {
	tmp, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	out := filepath.Join(tmp, "out")
	rs := mustRules(t, "bin y 100000000 HDRA FTRA\n")
	const mib = 1 << 20
	data := testData(21 * mib)
	opts := &extract.Options{
		OutDir:       out,
		ImageSize:    int64(len(data)),
		MaxOpenFiles: 1,
	}
	extents := []pair.Extent{
		extent(rs, 0, 100, 10*mib+50),   // Start in window 0, Stop in window 1
		extent(rs, 0, 10, 20*mib+10),    // Start, Continue, Stop
		extent(rs, 0, 11*mib, 11*mib+9), // StartStop in window 1
	}
	runPlan(t, data, extents, rs.Len(), opts)

	for i, ext := range extents {
		got, err := ioutil.ReadFile(plan0Name(out, i))
		assert.NoError(t, err)
		expect.True(t, bytes.Equal(got, data[ext.Start:ext.Stop+1]), "extent %d", i)
	}
}

func plan0Name(out string, i int) string {
	return filepath.Join(out, []string{"00000000.bin", "00000001.bin", "00000002.bin"}[i])
}

func TestPreview(t *testing.T) {
	tmp, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	out := filepath.Join(tmp, "out")
	rs := mustRules(t, "jpg y 1000 HDRA FTRA\n")
	data := testData(4096)
	opts := &extract.Options{OutDir: out, ImageSize: int64(len(data)), Preview: true}
	audit := runPlan(t, data, []pair.Extent{extent(rs, 0, 5, 100)}, rs.Len(), opts)

	// The audit is produced, but no carved file is written.
	expect.True(t, strings.Contains(audit, "00000000.jpg\t5\tNO\t96\tinput.img"))
	entries, err := ioutil.ReadDir(out)
	assert.NoError(t, err)
	assert.EQ(t, len(entries), 1)
	expect.EQ(t, entries[0].Name(), "audit.txt")
}
