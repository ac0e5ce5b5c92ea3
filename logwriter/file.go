package logwriter

import (
	"fmt"
	"os"
	"path/filepath"
)

// syncDir fsyncs dir itself, the only way a rename or a new directory entry
// inside it is made durable against a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %q for sync: %w", dir, err)
	}
	defer d.Close() // nolint:errcheck

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %q: %w", dir, err)
	}
	return nil
}

// writeFileAtomic replaces stale's contents with data without ever exposing
// a partially-written file at its path: data is written to a sibling temp
// file, fsynced, and renamed over the old path, after which the containing
// directory is fsynced so the rename itself survives a crash. stale is
// closed; the returned handle is freshly reopened at the same path.
func writeFileAtomic(stale *os.File, data []byte) (*os.File, error) {
	path := stale.Name()
	tmpPath := path + ".tmp"

	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp file %q: %w", tmpPath, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("write temp file %q: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("sync temp file %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("close temp file %q: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("rename %q over %q: %w", tmpPath, path, err)
	}
	if err := stale.Close(); err != nil {
		return nil, fmt.Errorf("close stale handle for %q: %w", path, err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	fresh, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("reopen %q: %w", path, err)
	}
	return fresh, nil
}

// createFileDurable opens (creating if needed) name under dir and fsyncs
// both the file and dir, so a freshly created empty file is guaranteed to
// survive a crash before anything is ever written to it.
func createFileDurable(dir, name string) (*os.File, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync %q: %w", path, err)
	}
	if err := syncDir(dir); err != nil {
		return nil, err
	}
	return f, nil
}
