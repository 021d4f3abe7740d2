package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/onnwee/vod-chat/format"
)

const writeBufferSize = 64 << 10

// staleAfter is how long a pending file must go unmodified before a later run
// treats it as left behind by a killed process. Running jobs flush after
// every page, so their pending files stay fresh.
const staleAfter = time.Hour

// isComplete reports whether path holds a finished archive for spec: the file
// exists and, when the format has a static footer, ends with it. Files only
// ever appear at their final path through an atomic rename, so presence alone
// is sufficient for footer-less formats.
func isComplete(path string, spec *format.Spec) (bool, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !fi.Mode().IsRegular() {
		return false, fmt.Errorf("%s exists and is not a regular file", path)
	}
	footer, ok := spec.StaticFooter()
	if !ok {
		return true, nil
	}
	if fi.Size() < int64(len(footer)) {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	tail := make([]byte, len(footer))
	if _, err := f.ReadAt(tail, fi.Size()-int64(len(footer))); err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return bytes.Equal(tail, []byte(footer)), nil
}

// output is one format's pending file. Nothing is visible at path until
// commit succeeds.
type output struct {
	spec *format.Spec
	path string
	pf   *renameio.PendingFile
	w    *bufio.Writer
}

func openOutput(spec *format.Spec, path string) (*output, error) {
	pf, err := renameio.NewPendingFile(path, renameio.WithTempDir(filepath.Dir(path)), renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("create pending file for %s: %w", path, err)
	}
	return &output{spec: spec, path: path, pf: pf, w: bufio.NewWriterSize(pf, writeBufferSize)}, nil
}

func (o *output) WriteString(s string) error {
	_, err := o.w.WriteString(s)
	return err
}

// flush pushes buffered lines to the pending file.
func (o *output) flush() error {
	return o.w.Flush()
}

// commit flushes, syncs and renames the pending file into place.
func (o *output) commit() error {
	if err := o.w.Flush(); err != nil {
		return err
	}
	return o.pf.CloseAtomicallyReplace()
}

// discard removes the pending file. It is a no-op after a successful commit.
func (o *output) discard() error {
	return o.pf.Cleanup()
}

// sweepPending removes pending files for path that a killed run left behind:
// hidden files named "."+base+<random digits> in the same directory, not
// modified for staleAfter. It returns the removed paths.
func sweepPending(path string, now time.Time) ([]string, error) {
	dir := filepath.Dir(path)
	prefix := "." + filepath.Base(path)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok || !isDigits(rest) || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < staleAfter {
			continue
		}
		name := filepath.Join(dir, e.Name())
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
