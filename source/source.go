// Package source abstracts the byte source being carved: a raw image file,
// a block device, or an arbitrary seekable stream.  All offsets are byte
// offsets from the start of the source.
package source

// Whence selects the reference point for Seek.
type Whence int

const (
	// Set seeks relative to the start of the source.
	Set Whence = iota
	// Cur seeks relative to the current position.
	Cur
	// End seeks relative to the end; the new position is size + offset.
	End
)

// Reader provides random access to the bytes being carved.
//
// Open is idempotent; reopening a previously used reader rewinds it to
// position zero.  Close is idempotent.  Reads and seeks are serialized by
// the caller; an implementation that is shared between goroutines must
// lock internally (see NewStream).
type Reader interface {
	Open() error
	Close() error
	// Size returns the total byte count, or -1 if it cannot be measured.
	Size() int64
	// Position returns the current offset.
	Position() int64
	Seek(offset int64, whence Whence) error
	// Read reads up to len(p) bytes.  It returns the number of bytes read;
	// at end of input it returns 0, io.EOF.
	Read(p []byte) (int, error)
	// ID returns a stable identifier for audit records, typically the
	// source path.
	ID() string
}
