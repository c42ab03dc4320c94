package rebuild

import (
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/mitchellh/hashstructure"
	"github.com/pkg/errors"
)

// Fingerprint summarizes the build context. Two equal fingerprints mean no
// file was added, removed, resized, re-moded or touched in between.
type Fingerprint uint64

type entry struct {
	Path    string
	Size    int64
	Mode    os.FileMode
	ModTime int64
}

// directories that never feed an image build
var skipDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// Compute walks dir and hashes the metadata of everything below it.
func Compute(dir string) (Fingerprint, error) {
	var entries []entry
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() && skipDirs[de.Name()] {
				return godirwalk.SkipThis
			}
			info, err := os.Lstat(path)
			if err != nil {
				if os.IsNotExist(err) {
					// removed while walking, the next tick sees the result
					return nil
				}
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			e := entry{Path: filepath.ToSlash(rel), Mode: info.Mode()}
			if !info.IsDir() {
				e.Size = info.Size()
				e.ModTime = info.ModTime().UnixNano()
			}
			entries = append(entries, e)
			return nil
		},
	})
	if err != nil {
		return 0, errors.Wrapf(err, "walking %v", dir)
	}
	hash, err := hashstructure.Hash(entries, nil)
	if err != nil {
		return 0, errors.Wrap(err, "hashing build context")
	}
	return Fingerprint(hash), nil
}
