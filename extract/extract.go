// Package extract implements the second carving pass: a single
// sequential walk over the input that streams bytes from the planned
// extents into output files.  Many output files may be live at once;
// whenever the open-descriptor count exceeds its cap, the file just
// written is closed and reopened on its next use, which is safe because
// every write is an append at the stream's current end.
package extract

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/carve/coverage"
	"github.com/grailbio/carve/dig"
	"github.com/grailbio/carve/pair"
)

// Options configure planning and extraction.
type Options struct {
	// OutDir receives the carved files.
	OutDir string
	// Preview skips all opens and writes but still produces the audit.
	Preview bool
	// NoSuffix suppresses filename extensions for every rule.
	NoSuffix bool
	// Organize places each rule's files in rolling subdirectories.
	Organize bool
	// MaxFilesPerSubdir is the subdirectory rollover point.
	MaxFilesPerSubdir int64
	// MaxOpenFiles caps simultaneously open output files; 0 means the
	// platform default.
	MaxOpenFiles int
	// ImageSize is the input's logical size.
	ImageSize int64
	// Skip is the number of input bytes skipped before position zero.
	Skip int64
	// Interrupted, if non-nil, is polled once per window.
	Interrupted func() error
}

func (o *Options) interrupted() error {
	if o.Interrupted == nil {
		return nil
	}
	return o.Interrupted()
}

// DefaultMaxOpenFiles returns the platform's output-descriptor cap.
func DefaultMaxOpenFiles() int {
	if runtime.GOOS == "windows" {
		return 20
	}
	return 512
}

// WriteError reports a failed open, write, or close of an output file.
// It usually means the output disk is full and is fatal to the whole
// batch.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return "output " + e.Path + ": " + e.Err.Error() }

// A carve's appearance in one window takes one of four roles.  The
// numeric order is the drain priority within a window.
type role int

const (
	roleStart     role = iota + 1 // starts here, stops in a later window
	roleStop                      // stops here, started earlier
	roleStartStop                 // starts and stops in this window
	roleContinue                  // the whole window is interior bytes
)

// carveFile tracks one output file across the windows it spans.
type carveFile struct {
	name      string
	f         *os.File
	open      bool // counted against MaxOpenFiles (also in preview)
	start     int64
	stop      int64
	truncated bool
}

type item struct {
	c *carveFile
	r role
}

// Plan is the per-window work schedule for one extraction pass.
type Plan struct {
	queues [][]item
	names  []string // one per extent, in extent order
}

// Names returns the output path assigned to each extent, in order.
func (p *Plan) Names() []string { return p.names }

func (p *Plan) empty(window int64) bool {
	return window < 0 || window >= int64(len(p.queues)) || len(p.queues[window]) == 0
}

// BuildPlan assigns an output name to every extent and buckets each one
// into the window queues that the sequential pass will drain.  Output
// directories are created here, unless previewing.
func BuildPlan(extents []pair.Extent, nrules int, opts *Options) (*Plan, error) {
	plan := &Plan{queues: make([][]item, 2+opts.ImageSize/dig.WindowSize)}
	nm := newNamer(opts, nrules)
	madeDirs := map[string]bool{}
	for _, ext := range extents {
		name, dir := nm.next(ext.RuleIndex, ext.Rule)
		if !opts.Preview && !madeDirs[dir] {
			if err := os.MkdirAll(dir, 0777); err != nil {
				return nil, &WriteError{Path: dir, Err: err}
			}
			madeDirs[dir] = true
		}
		plan.names = append(plan.names, name)
		c := &carveFile{name: name, start: ext.Start, stop: ext.Stop, truncated: ext.Truncated}
		first := ext.Start / dig.WindowSize
		last := ext.Stop / dig.WindowSize
		if first == last {
			plan.queues[first] = append(plan.queues[first], item{c, roleStartStop})
			continue
		}
		plan.queues[first] = append(plan.queues[first], item{c, roleStart})
		plan.queues[last] = append(plan.queues[last], item{c, roleStop})
		for w := first + 1; w < last; w++ {
			plan.queues[w] = append(plan.queues[w], item{c, roleContinue})
		}
	}
	for _, q := range plan.queues {
		sort.SliceStable(q, func(i, j int) bool { return q[i].r < q[j].r })
	}
	return plan, nil
}

// Run walks the input once more and executes the plan.  rd must be
// positioned at logical zero (that is, just past any skipped prefix).
// Carved-file fragments are appended to the audit as each file closes
// for the last time, and, when cv is non-nil, its blocks are marked
// covered.
func Run(rd *coverage.Reader, plan *Plan, opts *Options, aud *Auditor, cv *coverage.Map, view *coverage.View, inputID string) error {
	maxOpen := opts.MaxOpenFiles
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenFiles()
	}
	buf := make([]byte, dig.WindowSize)
	openCount := 0
	for {
		if err := opts.interrupted(); err != nil {
			return err
		}
		pos := rd.Tell() - opts.Skip
		// Batch consecutive workless windows into one big seek.
		var big int64
		for plan.empty(pos / dig.WindowSize) {
			big += dig.WindowSize
			pos += dig.WindowSize
			if pos > opts.ImageSize {
				return nil // input exhausted
			}
		}
		if big > 0 {
			if err := rd.SeekRel(big); err != nil {
				return errors.E(err, "seek", inputID)
			}
		}
		winBegin := rd.Tell() - opts.Skip
		var n int
		if opts.Preview {
			// Seeks stand in for reads; nothing is written in preview.
			if err := rd.SeekRel(dig.WindowSize); err != nil {
				return errors.E(err, "seek", inputID)
			}
			n = dig.WindowSize
			if left := opts.ImageSize - winBegin; left < int64(n) {
				n = int(left)
			}
		} else {
			var err error
			n, err = rd.Read(buf)
			if err != nil && err != io.EOF {
				return errors.E(err, "read", inputID)
			}
		}
		if n <= 0 {
			return nil
		}
		for _, it := range plan.queues[winBegin/dig.WindowSize] {
			c := it.c
			if !c.open {
				if !opts.Preview {
					f, err := os.OpenFile(c.name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
					if err != nil {
						return &WriteError{Path: c.name, Err: err}
					}
					c.f = f
				}
				c.open = true
				openCount++
			}
			var off, length int64
			switch it.r {
			case roleStartStop:
				off = c.start - winBegin
				length = c.stop - c.start + 1
			case roleStart:
				off = c.start - winBegin
				length = int64(n) - off
			case roleContinue:
				length = int64(n)
			case roleStop:
				length = c.stop - winBegin + 1
			}
			if !opts.Preview {
				if _, err := c.f.Write(buf[off : off+length]); err != nil {
					return &WriteError{Path: c.name, Err: err}
				}
			}
			final := it.r == roleStop || it.r == roleStartStop
			if final || openCount > maxOpen {
				if !opts.Preview {
					if err := c.f.Close(); err != nil {
						return &WriteError{Path: c.name, Err: err}
					}
					c.f = nil
				}
				c.open = false
				openCount--
				if final {
					log.Debug.Printf("carved %s [%d, %d]", c.name, c.start, c.stop)
					frags := fragments(view, c.start, c.stop)
					if err := aud.CarvedFile(filepath.Base(c.name), frags, c.truncated, filepath.Base(inputID)); err != nil {
						return err
					}
					if cv != nil {
						cv.Cover(frags)
					}
				}
			}
		}
	}
}

func fragments(view *coverage.View, start, stop int64) []coverage.Fragment {
	if view == nil {
		return []coverage.Fragment{{Start: start, Stop: stop}}
	}
	return view.Fragments(start, stop)
}
