// Package carve drives the two-pass carving engine: dig the input for
// header and footer offsets, pair them into extents, then stream the
// extents into carved output files, with an audit log mapping every file
// back to its source offsets.
package carve

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/carve/coverage"
	"github.com/grailbio/carve/dig"
	"github.com/grailbio/carve/extract"
	"github.com/grailbio/carve/pair"
	"github.com/grailbio/carve/rules"
	"github.com/grailbio/carve/source"
)

// Version identifies the engine in the audit log header.
const Version = "1.0"

// AuditName is the audit log's filename within the output directory.
const AuditName = "audit.txt"

// Options configure a Carver.  The zero value is not usable; RulesPath
// and OutputDir are required.
type Options struct {
	RulesPath string
	OutputDir string
	// Skip ignores the first Skip bytes of every input.
	Skip int64
	// PreviewMode produces the audit log but writes no carved files.
	PreviewMode bool
	// HandleEmbedded enables balanced header/footer matching.
	HandleEmbedded bool
	// MissingFooters carves to MaxLength when a Forward rule's footer is
	// not found.
	MissingFooters bool
	// NoSearchOverlap suppresses overlapping needle matches.
	NoSearchOverlap bool
	// NoSuffix drops filename extensions from carved files.
	NoSuffix bool
	// BlockAlignedOnly carves only headers aligned to AlignedBlockSize.
	BlockAlignedOnly bool
	AlignedBlockSize int64
	// Organize spreads each rule's output over rolling subdirectories.
	Organize bool
	// MaxFilesPerSubdir is the subdirectory rollover point; 0 means 1000.
	MaxFilesPerSubdir int64
	// GenerateDatabase writes <input>.hfd next to the carved files.
	GenerateDatabase bool
	// CoveragePath names the coverage blockmap file; empty disables
	// coverage entirely.
	CoveragePath string
	// CoverageBlockSize overrides the block size for a new blockmap.
	CoverageBlockSize uint32
	// CoverageGuide skips already-covered blocks while carving.
	CoverageGuide bool
	// CoverageUpdate marks carved blocks in the blockmap.
	CoverageUpdate bool
	// MaxOpenFiles caps simultaneously open outputs; 0 means the
	// platform default.
	MaxOpenFiles int
	// Invocation is echoed into the audit log header.
	Invocation string
}

// Carver carves one or more inputs with a fixed rule set, sharing one
// audit log.
type Carver struct {
	ctx   context.Context
	opts  Options
	rules *rules.Set
	aud   *extract.Auditor
}

// InputError marks a failure confined to a single input; a batch logs it
// and moves on to the next input.
type InputError struct {
	ID  string
	Err error
}

func (e *InputError) Error() string { return e.ID + ": " + e.Err.Error() }

// New parses the rules, verifies the output directory is empty, and
// opens the audit log.  Any error here is an initialization failure and
// fatal.
func New(ctx context.Context, opts Options) (*Carver, error) {
	if opts.MaxFilesPerSubdir <= 0 {
		opts.MaxFilesPerSubdir = 1000
	}
	rs, text, err := rules.ParseFile(ctx, opts.RulesPath)
	if err != nil {
		return nil, err
	}
	if rs.Len() == 0 {
		return nil, errors.New("the configuration file defines no file types to carve")
	}
	if err := ensureEmptyDir(opts.OutputDir); err != nil {
		return nil, err
	}
	aud, err := extract.NewAuditor(ctx, filepath.Join(opts.OutputDir, AuditName),
		Version, opts.Invocation, opts.OutputDir, opts.RulesPath, text)
	if err != nil {
		return nil, err
	}
	return &Carver{ctx: ctx, opts: opts, rules: rs, aud: aud}, nil
}

// Rules returns the compiled rule set.
func (c *Carver) Rules() *rules.Set { return c.rules }

// Close flushes and finishes the audit log.
func (c *Carver) Close() error { return c.aud.Close() }

// Carve runs both passes over one input.  It returns an *InputError for
// failures confined to this input, an *extract.WriteError for output
// failures (fatal to the batch), and ErrCancelled after a terminate
// request.
func (c *Carver) Carve(src source.Reader) (err error) {
	id := src.ID()
	if err := src.Open(); err != nil {
		return &InputError{ID: id, Err: err}
	}
	defer func() {
		if e := src.Close(); e != nil && err == nil {
			err = e
		}
	}()
	size := src.Size()
	if size < 0 {
		return &InputError{ID: id, Err: errors.New("cannot measure input size")}
	}
	longest := int64(c.rules.LongestNeedle())
	if size <= longest*2 {
		return &InputError{ID: id, Err: errors.New("input is smaller than twice the longest header/footer")}
	}
	if c.opts.Skip > 0 {
		if err := src.Seek(c.opts.Skip, source.Set); err != nil {
			return &InputError{ID: id, Err: err}
		}
		log.Printf("%s: skipped the first %d bytes", id, c.opts.Skip)
	}

	var cvmap *coverage.Map
	var view *coverage.View
	if c.opts.CoveragePath != "" && (c.opts.CoverageGuide || c.opts.CoverageUpdate) {
		cvmap, err = coverage.Open(c.opts.CoveragePath, c.opts.CoverageBlockSize, size, c.opts.CoverageUpdate)
		if err != nil {
			return err
		}
		defer func() {
			if e := cvmap.Close(); e != nil && err == nil {
				err = e
			}
		}()
		if c.opts.CoverageGuide {
			view = cvmap.View()
		}
	}

	log.Printf("%s: pass 1 of 2", id)
	rd := coverage.NewReader(src, view)
	store, err := dig.Dig(rd, c.rules, dig.Options{
		GenerateDatabase: c.opts.GenerateDatabase,
		NoOverlap:        c.opts.NoSearchOverlap,
		Skip:             c.opts.Skip,
		Interrupted:      interrupted,
	})
	if err != nil {
		if err == ErrCancelled {
			return err
		}
		return &InputError{ID: id, Err: err}
	}
	logicalSize := rd.Size() - c.opts.Skip

	extents := pair.Extents(c.rules, store, pair.Options{
		Embedded:         c.opts.HandleEmbedded,
		MissingFooters:   c.opts.MissingFooters,
		AlignedOnly:      c.opts.BlockAlignedOnly,
		AlignedBlockSize: c.opts.AlignedBlockSize,
		ImageSize:        logicalSize,
	})
	exOpts := &extract.Options{
		OutDir:            c.opts.OutputDir,
		Preview:           c.opts.PreviewMode,
		NoSuffix:          c.opts.NoSuffix,
		Organize:          c.opts.Organize,
		MaxFilesPerSubdir: c.opts.MaxFilesPerSubdir,
		MaxOpenFiles:      c.opts.MaxOpenFiles,
		ImageSize:         logicalSize,
		Skip:              c.opts.Skip,
		Interrupted:       interrupted,
	}
	plan, err := extract.BuildPlan(extents, c.rules.Len(), exOpts)
	if err != nil {
		return err
	}
	log.Printf("%s: %d files to carve, pass 2 of 2", id, len(plan.Names()))
	if c.opts.PreviewMode {
		log.Printf("%s: preview mode, no carved files will be written", id)
	}

	// The second pass re-opens and re-positions the input.
	if err := src.Close(); err != nil {
		return &InputError{ID: id, Err: err}
	}
	if err := src.Open(); err != nil {
		return &InputError{ID: id, Err: err}
	}
	if c.opts.Skip > 0 {
		if err := src.Seek(c.opts.Skip, source.Set); err != nil {
			return &InputError{ID: id, Err: err}
		}
	}
	rd = coverage.NewReader(src, view)
	if err := extract.Run(rd, plan, exOpts, c.aud, cvmap, view, id); err != nil {
		if _, ok := err.(*extract.WriteError); ok || err == ErrCancelled {
			return err
		}
		return &InputError{ID: id, Err: err}
	}

	if c.opts.GenerateDatabase {
		path := filepath.Join(c.opts.OutputDir, filepath.Base(id)+".hfd")
		if err := dig.WriteDatabase(c.ctx, path, c.rules, store, view); err != nil {
			return err
		}
	}
	return nil
}

// CarveAll carves a batch of inputs.  Failures confined to one input are
// logged to the audit and skipped; output failures and cancellation stop
// the batch.
func (c *Carver) CarveAll(paths []string) error {
	for _, path := range paths {
		src, err := source.Open(path)
		if err != nil {
			c.reportSkip(path, err)
			continue
		}
		err = c.Carve(src)
		if err == nil {
			continue
		}
		if _, ok := err.(*InputError); ok {
			c.reportSkip(path, err)
			continue
		}
		c.aud.Logf("Fatal error while processing %s: %v.", path, err)
		return err
	}
	return nil
}

func (c *Carver) reportSkip(id string, err error) {
	log.Error.Printf("%s: %v, skipping", id, err)
	c.aud.Logf("Unable to process input %s: %v. Skipping.", id, err)
}

func ensureEmptyDir(dir string) error {
	entries, err := ioutil.ReadDir(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0777)
	}
	if err != nil {
		return errors.E(err, "output directory", dir)
	}
	if len(entries) > 0 {
		return errors.New("output directory " + dir + " is not empty")
	}
	return nil
}
