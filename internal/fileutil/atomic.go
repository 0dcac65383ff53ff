// Package fileutil holds crash-safe file writers shared by the checkpoint
// store and the corpus rewriter.
package fileutil

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/rotisserie/eris"
)

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers see either the old or the new content.
// The directory is synced after the rename so the new entry survives a crash.
func WriteFileAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "fileutil: create dir %s", dir)
	}

	if err := renameio.WriteFile(path, data, mode, renameio.WithTempDir(dir)); err != nil {
		return eris.Wrapf(err, "fileutil: replace %s", path)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return eris.Wrapf(err, "fileutil: open dir %s", dir)
	}
	defer d.Close() //nolint:errcheck

	if err := d.Sync(); err != nil {
		return eris.Wrapf(err, "fileutil: sync dir %s", dir)
	}
	return nil
}

// MarshalJSON encodes v with two-space indentation, leaving HTML characters
// and non-ASCII text unescaped.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, eris.Wrap(err, "fileutil: encode json")
	}
	return buf.Bytes(), nil
}

// WriteJSONAtomic encodes v with MarshalJSON and writes it with WriteFileAtomic.
func WriteJSONAtomic(path string, v any) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o644)
}
