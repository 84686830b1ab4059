package extract

import (
	"fmt"
	"path/filepath"

	"github.com/grailbio/carve/rules"
)

// namer generates output paths for carved files.  A single monotonic
// counter numbers all files, so names are deterministic given the rule
// firing order; each rule additionally gets its own subdirectory series
// that rolls over after MaxFilesPerSubdir files.
type namer struct {
	opts    *Options
	written int64
	perRule []ruleDir
}

type ruleDir struct {
	carved int64
	dir    int64
}

func newNamer(opts *Options, nrules int) *namer {
	return &namer{opts: opts, perRule: make([]ruleDir, nrules)}
}

// next returns the output path for the next carve of the given rule,
// together with its directory.
func (n *namer) next(ruleIndex int, r *rules.Rule) (path, dir string) {
	dir = n.opts.OutDir
	if n.opts.Organize {
		dir = filepath.Join(dir, fmt.Sprintf("%s-%d-%d", r.Label(), ruleIndex, n.perRule[ruleIndex].dir))
	}
	name := fmt.Sprintf("%08d", n.written)
	if !n.opts.NoSuffix && !r.NoExtension {
		name += "." + r.Suffix
	}
	n.written++
	rd := &n.perRule[ruleIndex]
	rd.carved++
	if n.opts.MaxFilesPerSubdir > 0 && rd.carved%n.opts.MaxFilesPerSubdir == 0 {
		rd.dir++
	}
	return filepath.Join(dir, name), dir
}
