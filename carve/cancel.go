package carve

import (
	"sync/atomic"

	"github.com/grailbio/base/errors"
)

// ErrCancelled is returned by carving operations after RequestCancel.
var ErrCancelled = errors.New("carving terminated by signal")

// cancelFlag is process-wide because it is set from a signal handler.
var cancelFlag int32

// RequestCancel asks the engine to stop at the next safe point: the
// reader stops after its current window and the search and extract loops
// stop at their next rule or window boundary.  The audit log is still
// flushed; partially carved files are left in place.
func RequestCancel() { atomic.StoreInt32(&cancelFlag, 1) }

// resetCancel clears the flag, for tests.
func resetCancel() { atomic.StoreInt32(&cancelFlag, 0) }

func interrupted() error {
	if atomic.LoadInt32(&cancelFlag) != 0 {
		return ErrCancelled
	}
	return nil
}
