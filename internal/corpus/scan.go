// Package corpus discovers conversation files, reads them into records, and
// renders them as prompt text.
package corpus

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ScanOptions selects which files under Root belong to the corpus.
type ScanOptions struct {
	Root string
	// DirFilter keeps only files whose directory path contains it. Empty
	// keeps everything.
	DirFilter string
	// ExcludeSuffix skips generated files such as "_analysis.json".
	ExcludeSuffix string
}

// Scan walks Root and returns the sorted, corpus-relative slash paths of
// every matching .json file.
func Scan(opts ScanOptions) ([]string, error) {
	root := filepath.Clean(opts.Root)

	var ids []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if !strings.HasSuffix(name, ".json") {
			return nil
		}
		if opts.ExcludeSuffix != "" && strings.HasSuffix(name, opts.ExcludeSuffix) {
			return nil
		}
		if opts.DirFilter != "" && !strings.Contains(filepath.Dir(path), opts.DirFilter) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "corpus: scan %s", root)
	}

	sort.Strings(ids)
	return ids, nil
}
