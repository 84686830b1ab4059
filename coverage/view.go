package coverage

import "github.com/grailbio/base/bitset"

// View is an immutable snapshot of a coverage bitmap.  All logical
// offsets exclude covered bytes; physical offsets address the raw image.
// A nil *View is accepted by Reader and means no translation at all.
type View struct {
	blockSize int64
	nblocks   int64
	bits      []uintptr
}

// BlockSize returns the snapshot's block size.
func (v *View) BlockSize() int64 { return v.blockSize }

func (v *View) covered(b int64) bool {
	return b < v.nblocks && bitset.Test(v.bits, int(b))
}

// walk starts at physical offset pos and consumes want logical bytes,
// skipping covered blocks.  emit, if non-nil, is called once per
// contiguous uncovered run and may return false to stop early.  walk
// returns the physical offset just past the last byte consumed.
//
// This is the one forward block-skipping routine behind Physical,
// Fragments, and the coverage-aware reads and forward seeks in Reader.
// Backward seeks use walkBack, and Reader.Tell uses Logical.
func (v *View) walk(pos, want int64, emit func(start, length int64) bool) int64 {
	for want > 0 {
		// Skip covered blocks.
		for b := pos / v.blockSize; v.covered(b); b = pos / v.blockSize {
			pos = (b + 1) * v.blockSize
		}
		// Size the uncovered run starting at pos.
		start := pos
		var run int64
		for run < want {
			b := (start + run) / v.blockSize
			if b >= v.nblocks {
				// Everything past the mapped region is uncovered.
				run = want
				break
			}
			if v.covered(b) {
				break
			}
			room := v.blockSize - (start+run)%v.blockSize
			if run+room >= want {
				run = want
			} else {
				run += room
			}
		}
		if emit != nil && !emit(start, run) {
			return start + run
		}
		pos = start + run
		want -= run
	}
	return pos
}

// walkBack moves backward want logical bytes from physical offset pos,
// skipping covered blocks, and returns the new physical offset.
func (v *View) walkBack(pos, want int64) int64 {
	for want > 0 && pos > 0 {
		b := (pos - 1) / v.blockSize
		if v.covered(b) {
			pos = b * v.blockSize
			continue
		}
		avail := pos - b*v.blockSize
		if avail > want {
			avail = want
		}
		pos -= avail
		want -= avail
	}
	return pos
}

// Physical maps a logical offset to its physical image offset.  A
// logical offset that lands on the edge of a covered run resolves to the
// next uncovered byte, so Logical(Physical(x)) == x for every valid
// logical offset.
func (v *View) Physical(logical int64) int64 {
	pos := v.walk(0, logical, nil)
	for b := pos / v.blockSize; v.covered(b); b = pos / v.blockSize {
		pos = (b + 1) * v.blockSize
	}
	return pos
}

// Logical maps a physical offset to the logical offset that excludes all
// covered bytes preceding it.
//
// TODO: precompute a cumulative covered-bytes table if this walk ever
// shows up in profiles; it is linear in the block count.
func (v *View) Logical(phys int64) int64 {
	end := phys / v.blockSize
	var covered int64
	full := end
	if full > v.nblocks {
		full = v.nblocks
	}
	for b := int64(0); b < full; b++ {
		if v.covered(b) {
			covered += v.blockSize
		}
	}
	if v.covered(end) {
		covered += phys % v.blockSize
	}
	return phys - covered
}

// Fragments expands the logical extent [start, stop] into the ordered
// physical fragments it occupies.
func (v *View) Fragments(start, stop int64) []Fragment {
	frags := make([]Fragment, 0, 1)
	v.walk(v.Physical(start), stop-start+1, func(s, n int64) bool {
		frags = append(frags, Fragment{Start: s, Stop: s + n - 1})
		return true
	})
	return frags
}
