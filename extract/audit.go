package extract

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/carve/coverage"
)

// Auditor appends structured records to the audit log.  The log opens
// with a free-form header (version, start time, invocation, and an echo
// of the configuration), carries one tab-separated row per carved
// fragment, and ends with a completion timestamp.  It is written from a
// single goroutine at a time.
type Auditor struct {
	ctx context.Context
	f   file.File
	out io.Writer
	w   *tsv.Writer
}

// NewAuditor creates the audit log at path and writes its header.
func NewAuditor(ctx context.Context, path, version, invocation, outDir, confPath string, confText []byte) (*Auditor, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create audit log", path)
	}
	a := &Auditor{ctx: ctx, f: f, out: f.Writer(ctx)}
	a.w = tsv.NewWriter(a.out)
	fmt.Fprintf(a.out, "carve version %s audit file\nStarted at %s\nCommand line:\n%s\n\n",
		version, time.Now().Format(time.ANSIC), invocation)
	fmt.Fprintf(a.out, "Output directory: %s\nConfiguration file: %s\n", outDir, confPath)
	fmt.Fprintf(a.out, "\n------ BEGIN COPY OF CONFIG FILE USED ------\n")
	a.out.Write(confText) // nolint: errcheck
	fmt.Fprintf(a.out, "------ END COPY OF CONFIG FILE USED ------\n\n")
	return a, nil
}

// CarvedFile writes one row per fragment of a carved file.
func (a *Auditor) CarvedFile(base string, frags []coverage.Fragment, chopped bool, input string) error {
	for _, frag := range frags {
		a.w.WriteString(base)
		a.w.WriteInt64(frag.Start)
		if chopped {
			a.w.WriteString("YES")
		} else {
			a.w.WriteString("NO")
		}
		a.w.WriteInt64(frag.Length())
		a.w.WriteString(input)
		if err := a.w.EndLine(); err != nil {
			return errors.E(err, "write audit log")
		}
	}
	return a.w.Flush()
}

// Logf appends a free-form line, for error notes and per-input progress.
func (a *Auditor) Logf(format string, args ...interface{}) {
	a.w.Flush() // nolint: errcheck
	fmt.Fprintf(a.out, format+"\n", args...)
}

// Close writes the completion timestamp and closes the log.
func (a *Auditor) Close() error {
	if err := a.w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n\nCompleted at %s\n", time.Now().Format(time.ANSIC))
	return a.f.Close(a.ctx)
}
