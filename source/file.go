package source

import (
	"io"
	"os"

	"github.com/grailbio/base/errors"
)

type fileReader struct {
	id   string // identifier reported to audit, typically the path
	gzip bool   // decompress id into a spill file on Open
	// spill is the temporary decompressed copy backing a gzip input; it
	// lives while the reader is open and is removed on Close.
	spill string
	f     *os.File
}

// NewFile returns a Reader over a regular file or device node.
func NewFile(path string) Reader {
	return &fileReader{id: path}
}

func (r *fileReader) Open() error {
	if r.f != nil {
		return nil
	}
	path := r.id
	if r.gzip {
		spill, err := decompress(r.id)
		if err != nil {
			return err
		}
		r.spill = spill
		path = spill
	}
	f, err := os.Open(path)
	if err != nil {
		r.removeSpill()
		return errors.E(err, "open input", r.id)
	}
	r.f = f
	return nil
}

func (r *fileReader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	if e := r.removeSpill(); e != nil && err == nil {
		err = e
	}
	return err
}

func (r *fileReader) removeSpill() error {
	if r.spill == "" {
		return nil
	}
	err := os.Remove(r.spill)
	r.spill = ""
	return err
}

func (r *fileReader) Size() int64 {
	if r.f == nil {
		return -1
	}
	info, err := r.f.Stat()
	if err != nil {
		return -1
	}
	return info.Size()
}

func (r *fileReader) Position() int64 {
	if r.f == nil {
		return 0
	}
	pos, err := r.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos
}

func (r *fileReader) Seek(offset int64, whence Whence) error {
	if r.f == nil {
		return errors.New("seek on closed input " + r.id)
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
	if _, err := r.f.Seek(offset, w); err != nil {
		return errors.E(err, "seek input", r.id)
	}
	return nil
}

func (r *fileReader) Read(p []byte) (int, error) {
	if r.f == nil {
		return 0, errors.New("read on closed input " + r.id)
	}
	return r.f.Read(p)
}

func (r *fileReader) ID() string { return r.id }
