package ingest

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// fileEntry is one candidate file found under the corpus root. ID is
// the path relative to the root, which is the document's identity
// across runs.
type fileEntry struct {
	ID      string
	Path    string
	Name    string
	ModTime time.Time
}

// collectFiles snapshots the tree before processing starts, so the
// progress total is fixed for the whole run. Hidden files and
// directories are skipped; an unreadable subtree is skipped rather
// than aborting the walk.
func collectFiles(root string) ([]fileEntry, error) {
	var files []fileEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A nil entry means the root itself is unreadable.
			if d == nil {
				return err
			}
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		files = append(files, fileEntry{
			ID:      filepath.ToSlash(rel),
			Path:    path,
			Name:    d.Name(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
