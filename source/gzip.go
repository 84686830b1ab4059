package source

import (
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
)

// Open returns a Reader for path.  Raw images are served directly.  A
// gzip-compressed image (".gz" suffix) is decompressed into a temporary
// spill file when the reader opens, which then backs random access; the
// spill is removed again on Close.  The reader's ID stays the original
// path.
func Open(path string) (Reader, error) {
	if !strings.HasSuffix(path, ".gz") {
		return NewFile(path), nil
	}
	return &fileReader{id: path, gzip: true}, nil
}

// decompress writes the gunzipped contents of path to a fresh temp file
// and returns its name.
func decompress(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", errors.E(err, "open input", path)
	}
	defer in.Close() // nolint: errcheck
	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", errors.E(err, "gzip input", path)
	}
	spill, err := ioutil.TempFile("", "carve-spill-")
	if err != nil {
		return "", errors.E(err, "spill for", path)
	}
	n, err := io.Copy(spill, gz)
	if err == nil {
		err = gz.Close()
	}
	if e := spill.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		os.Remove(spill.Name()) // nolint: errcheck
		return "", errors.E(err, "decompress input", path)
	}
	log.Debug.Printf("%s: decompressed %d bytes to %s", path, n, spill.Name())
	return spill.Name(), nil
}
