// Package dig implements the first carving pass: a streaming scan of the
// input that records the offset of every header and footer match, per
// rule.  A single reader goroutine hands fixed-size windows through a
// bounded queue to the controller, which fans the needle searches out
// across the rules; buffers return to a free pool for reuse.
package dig

import (
	"io"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/syncqueue"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/carve/bqueue"
	"github.com/grailbio/carve/coverage"
	"github.com/grailbio/carve/rules"
)

const (
	// WindowSize is the number of input bytes scanned as one unit, in
	// both carving passes.
	WindowSize = 10 << 20
	// poolDepth is the number of window buffers cycling through the
	// pipeline, bounding its memory use.
	poolDepth = 20
)

// Options configure a dig pass.
type Options struct {
	// GenerateDatabase forces footer searches in every window, so that
	// the complete header/footer database can be written afterwards.
	// Without it footers are only searched while a recent enough header
	// makes them usable.
	GenerateDatabase bool
	// NoOverlap resumes needle searches past each whole match instead of
	// one byte after the match start, suppressing overlapping matches.
	NoOverlap bool
	// Skip is the number of input bytes skipped before the pass started;
	// it is subtracted from every recorded offset.
	Skip int64
	// Interrupted, if non-nil, is polled at window and rule boundaries.
	// A non-nil result aborts the pass with that error.
	Interrupted func() error
}

func (o *Options) interrupted() error {
	if o.Interrupted == nil {
		return nil
	}
	return o.Interrupted()
}

// window is one buffer's trip through the pipeline.  A window with n == 0
// is the reader's end-of-input sentinel.
type window struct {
	data  []byte
	n     int
	begin int64 // logical offset of data[0], with Skip subtracted
}

// Dig scans rd and returns the per-rule header and footer offsets.  The
// caller must have opened and positioned rd (including any skip) before
// the call.  On return the input has been read to its end but is left
// open.
//
// After every window the reader seeks back LongestNeedle-1 bytes so that
// a match straddling a window boundary is seen whole by the next window;
// the offset store drops the resulting boundary duplicates.
func Dig(rd *coverage.Reader, rs *rules.Set, opts Options) (*Store, error) {
	longest := rs.LongestNeedle()
	store := NewStore(rs.Len())
	pool := syncqueue.NewLIFO()
	for i := 0; i < poolDepth; i++ {
		pool.Put(&window{data: make([]byte, WindowSize)})
	}
	full := bqueue.New(poolDepth)
	e := errors.Once{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e.Err() == nil {
			if err := opts.interrupted(); err != nil {
				e.Set(err)
				break
			}
			wi, ok := pool.Get()
			if !ok {
				break
			}
			w := wi.(*window)
			n, err := rd.Read(w.data)
			if err != nil && err != io.EOF {
				e.Set(errors.E(err, "read", rd.Source().ID()))
				break
			}
			if n < longest {
				// The tail cannot hold any needle.
				break
			}
			w.n = n
			w.begin = rd.Tell() - int64(n) - opts.Skip
			full.Put(w)
			if err := rd.SeekRel(-int64(longest - 1)); err != nil {
				e.Set(errors.E(err, "overlap seek", rd.Source().ID()))
				break
			}
		}
		full.Put(&window{}) // end-of-input sentinel
	}()

	for {
		w := full.Get().(*window)
		if w.n == 0 {
			break
		}
		if e.Err() == nil {
			log.Debug.Printf("%s: searching window at %d, %d bytes",
				rd.Source().ID(), w.begin, w.n)
			err := traverse.Each(rs.Len(), func(i int) error {
				return digWindow(store.Rule(i), rs.Rule(i), w, &opts)
			})
			if err != nil {
				e.Set(err)
			}
		}
		pool.Put(w)
	}
	wg.Wait()
	return store, e.Err()
}

// digWindow searches one window for one rule's header and, when useful,
// its footer.  It is the body of a search worker; each rule's Offsets is
// touched only by its own worker.
func digWindow(off *Offsets, rule *rules.Rule, w *window, opts *Options) error {
	if err := opts.interrupted(); err != nil {
		return err
	}
	buf := w.data[:w.n]
	rule.Header.FindAll(buf, !opts.NoOverlap, func(pos, length int) {
		off.AddHeader(Match{Pos: w.begin + int64(pos), Len: length})
	})
	if !rule.HasFooter() {
		return nil
	}
	// A footer search only pays off while some header is close enough that
	// a carve could reach into this window, unless a complete database was
	// requested.
	search := opts.GenerateDatabase
	if !search && len(off.Headers) > 0 {
		last := off.Headers[len(off.Headers)-1].Pos
		search = last > w.begin || w.begin-last < rule.MaxLength
	}
	if !search {
		return nil
	}
	rule.Footer.FindAll(buf, !opts.NoOverlap, func(pos, length int) {
		off.AddFooter(Match{Pos: w.begin + int64(pos), Len: length})
	})
	return nil
}
