package source

import (
	"io"
	"sync"

	"github.com/grailbio/base/errors"
)

// streamReader adapts an arbitrary io.ReadSeeker.  Every method acquires an
// internal lock so the reader may be handed to code that does not otherwise
// serialize access.
type streamReader struct {
	mu   sync.Mutex
	id   string
	rs   io.ReadSeeker
	open bool
	size int64
}

// NewStream returns a Reader over rs.  The stream is measured once, on the
// first Open, by seeking to its end and back.
func NewStream(id string, rs io.ReadSeeker) Reader {
	return &streamReader{id: id, rs: rs, size: -1}
}

func (r *streamReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		return nil
	}
	// Rewind: a reopened stream starts over from position zero.
	if _, err := r.rs.Seek(0, io.SeekStart); err != nil {
		return errors.E(err, "open stream", r.id)
	}
	if r.size < 0 {
		end, err := r.rs.Seek(0, io.SeekEnd)
		if err == nil {
			r.size = end
			_, err = r.rs.Seek(0, io.SeekStart)
		}
		if err != nil {
			return errors.E(err, "measure stream", r.id)
		}
	}
	r.open = true
	return nil
}

func (r *streamReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}

func (r *streamReader) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *streamReader) Position() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, err := r.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos
}

func (r *streamReader) Seek(offset int64, whence Whence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return errors.New("seek on closed stream " + r.id)
	}
	var w int
	switch whence {
	case Set:
		w = io.SeekStart
	case Cur:
		w = io.SeekCurrent
	case End:
		w = io.SeekEnd
	default:
		return errors.New("bad seek whence")
	}
	if _, err := r.rs.Seek(offset, w); err != nil {
		return errors.E(err, "seek stream", r.id)
	}
	return nil
}

func (r *streamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return 0, errors.New("read on closed stream " + r.id)
	}
	return r.rs.Read(p)
}

func (r *streamReader) ID() string { return r.id }
