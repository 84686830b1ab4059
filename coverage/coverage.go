// Package coverage tracks which blocks of an image are already claimed by
// previously carved files, so that later carves can skip them.  It layers
// an in-memory bitmap over a persistent count-per-block file and provides
// the logical/physical address translation used by both carving passes.
package coverage

import (
	"encoding/binary"
	"io/ioutil"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/grailbio/base/bitset"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// DefaultBlockSize is used when a new blockmap is created and the caller
// does not specify a block size.
const DefaultBlockSize = 512

// checksumLen is the length of the xxhash64 trailer on the blockmap file.
const checksumLen = 8

// Fragment is a [Start, Stop] byte range in the physical image.  An
// extent expands to more than one fragment only when covered blocks fall
// inside it.
type Fragment struct {
	Start int64
	Stop  int64
}

// Length returns the fragment's byte count.
func (f Fragment) Length() int64 { return f.Stop - f.Start + 1 }

// Map is the coverage state for one image: per-block carve counts backed
// by a file, and the derived bitmap (bit set iff count > 0).  The block
// size is fixed when the file is first created and stored in its header.
type Map struct {
	path      string
	blockSize int64
	nblocks   int64
	counts    []uint32
	bits      []uintptr
	update    bool
	dirty     bool
}

// Open loads the blockmap at path, or creates a fresh zeroed one when the
// file does not exist and update is true.  blockSize zero means "use the
// file's block size, or DefaultBlockSize for a new map"; a nonzero value
// must agree with an existing file.  imageSize fixes the number of
// blocks.
func Open(path string, blockSize uint32, imageSize int64, update bool) (*Map, error) {
	m := &Map{path: path, update: update}
	data, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if !update {
			return nil, errors.E(err, "coverage blockmap must already exist", path)
		}
		if blockSize == 0 {
			blockSize = DefaultBlockSize
		}
		m.blockSize = int64(blockSize)
		m.dirty = true
	case err != nil:
		return nil, errors.E(err, "read coverage blockmap", path)
	default:
		fileBS, counts, err := decode(data)
		if err != nil {
			return nil, errors.E(err, path)
		}
		if blockSize != 0 && fileBS != blockSize {
			return nil, errors.New("coverage blockmap " + path + " has a different block size")
		}
		m.blockSize = int64(fileBS)
		m.counts = counts
	}

	m.nblocks = (imageSize + m.blockSize - 1) / m.blockSize
	if int64(len(m.counts)) < m.nblocks {
		if !m.dirty && len(m.counts) > 0 {
			return nil, errors.New("coverage blockmap " + path + " is shorter than the image")
		}
		m.counts = append(m.counts, make([]uint32, m.nblocks-int64(len(m.counts)))...)
	}
	m.counts = m.counts[:m.nblocks]
	m.bits = make([]uintptr, (int(m.nblocks)+bitset.BitsPerWord-1)/bitset.BitsPerWord)
	for b, c := range m.counts {
		if c > 0 {
			bitset.Set(m.bits, b)
		}
	}
	log.Debug.Printf("coverage blockmap %s: blocksize %d, %d blocks", path, m.blockSize, m.nblocks)
	return m, nil
}

func decode(data []byte) (uint32, []uint32, error) {
	if len(data) < 4+checksumLen {
		return 0, nil, errors.New("coverage blockmap is truncated")
	}
	payload, trailer := data[:len(data)-checksumLen], data[len(data)-checksumLen:]
	if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(trailer) {
		return 0, nil, errors.New("coverage blockmap checksum mismatch")
	}
	blockSize := binary.LittleEndian.Uint32(payload)
	if blockSize == 0 {
		return 0, nil, errors.New("coverage blockmap has zero block size")
	}
	counts := make([]uint32, (len(payload)-4)/4)
	for i := range counts {
		counts[i] = binary.LittleEndian.Uint32(payload[4+4*i:])
	}
	return blockSize, counts, nil
}

// BlockSize returns the map's block size in bytes.
func (m *Map) BlockSize() int64 { return m.blockSize }

// Cover records that a carved file occupies frags: the count of every
// spanned block is incremented and the bitmap bit is set on the 0 to 1
// transition.  Cover is a no-op when the map was opened read-only.
func (m *Map) Cover(frags []Fragment) {
	if !m.update {
		return
	}
	for _, frag := range frags {
		last := frag.Stop / m.blockSize
		if last >= m.nblocks {
			last = m.nblocks - 1
		}
		for b := frag.Start / m.blockSize; b <= last; b++ {
			m.counts[b]++
			if m.counts[b] == 1 {
				bitset.Set(m.bits, int(b))
			}
		}
	}
	m.dirty = true
}

// Close persists the counts when updates are enabled.  The file layout is
// the 32-bit little-endian block size, one 32-bit count per block, and an
// xxhash64 trailer over the preceding bytes.
func (m *Map) Close() error {
	if !m.update || !m.dirty {
		return nil
	}
	buf := make([]byte, 4+4*len(m.counts)+checksumLen)
	binary.LittleEndian.PutUint32(buf, uint32(m.blockSize))
	for i, c := range m.counts {
		binary.LittleEndian.PutUint32(buf[4+4*i:], c)
	}
	sum := xxhash.Sum64(buf[:len(buf)-checksumLen])
	binary.LittleEndian.PutUint64(buf[len(buf)-checksumLen:], sum)
	if err := ioutil.WriteFile(m.path, buf, 0666); err != nil {
		return errors.E(err, "write coverage blockmap", m.path)
	}
	m.dirty = false
	return nil
}

// View returns a frozen snapshot of the bitmap for address translation.
// Both carving passes of one run must share a single snapshot: extents
// are planned in the snapshot's logical address space, so bits set by
// Cover during extraction must not shift later translations.
func (m *Map) View() *View {
	bits := make([]uintptr, len(m.bits))
	copy(bits, m.bits)
	return &View{blockSize: m.blockSize, nblocks: m.nblocks, bits: bits}
}
