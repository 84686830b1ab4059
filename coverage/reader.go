package coverage

import (
	"io"

	"github.com/grailbio/carve/source"
)

// Reader reads an input through a coverage snapshot, so that positions,
// reads, and relative seeks all operate on logical offsets that silently
// exclude covered blocks.  With a nil view it is a plain pass-through,
// which lets the engines treat the two cases uniformly.
type Reader struct {
	src  source.Reader
	view *View
}

// NewReader wraps src.  view may be nil.
func NewReader(src source.Reader, view *View) *Reader {
	return &Reader{src: src, view: view}
}

// Source returns the wrapped input.
func (r *Reader) Source() source.Reader { return r.src }

// Read fills p with logical bytes.  It returns the number of bytes read,
// which is less than len(p) only when the input is exhausted; at end of
// input it returns 0, io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	if r.view == nil {
		return readFull(r.src, p)
	}
	pos := r.src.Position()
	total := 0
	var rerr error
	r.view.walk(pos, int64(len(p)), func(start, n int64) bool {
		if start != pos {
			if err := r.src.Seek(start, source.Set); err != nil {
				rerr = err
				return false
			}
		}
		m, err := readFull(r.src, p[total:total+int(n)])
		total += m
		pos = start + int64(m)
		if err != nil && err != io.EOF {
			rerr = err
			return false
		}
		return int64(m) == n // a short read means the input is exhausted
	})
	if rerr != nil {
		return total, rerr
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

// SeekRel moves the position by delta logical bytes, in either direction,
// skipping covered blocks.
func (r *Reader) SeekRel(delta int64) error {
	if r.view == nil {
		return r.src.Seek(delta, source.Cur)
	}
	pos := r.src.Position()
	var target int64
	if delta >= 0 {
		target = r.view.walk(pos, delta, nil)
	} else {
		target = r.view.walkBack(pos, -delta)
	}
	return r.src.Seek(target, source.Set)
}

// Tell returns the current logical position.
func (r *Reader) Tell() int64 {
	pos := r.src.Position()
	if r.view == nil {
		return pos
	}
	return r.view.Logical(pos)
}

// Size returns the logical size of the input, or -1 when the input's
// size cannot be measured.
func (r *Reader) Size() int64 {
	sz := r.src.Size()
	if sz < 0 || r.view == nil {
		return sz
	}
	return r.view.Logical(sz)
}

// readFull reads until p is full or the input is exhausted.  It returns
// 0, io.EOF only when nothing could be read.
func readFull(src source.Reader, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := src.Read(p[total:])
		total += n
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return total, err
		}
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}
