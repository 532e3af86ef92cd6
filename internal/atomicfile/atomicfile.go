// Package atomicfile rewrites small text files all-or-nothing: content goes
// to a sibling temporary file which is renamed over the target only after it
// has been fully written and closed.
package atomicfile

import (
	"bufio"
	"io"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/mmcdole/nntpsync/internal/domain"
)

// WriteFile replaces path with whatever write produces. On any error the
// temporary file is removed and path is left untouched.
func WriteFile(path string, write func(w io.Writer) error) error {
	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithPermissions(0o644),
		renameio.WithExistingPermissions(),
	)
	if err != nil {
		return &domain.IOError{Op: "create temp for", Path: path, Err: err}
	}
	defer pf.Cleanup()

	bw := bufio.NewWriter(pf)
	if err := write(bw); err != nil {
		return &domain.IOError{Op: "write", Path: pf.Name(), Err: err}
	}
	if err := bw.Flush(); err != nil {
		return &domain.IOError{Op: "write", Path: pf.Name(), Err: err}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return &domain.IOError{Op: "replace", Path: path, Err: err}
	}
	return nil
}
