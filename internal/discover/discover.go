package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidInput is returned when the root passed to Discover is not a directory.
var ErrInvalidInput = errors.New("the path was not a directory")

// Discover returns every regular file below root whose extension equals ext
// (case-sensitive, without the leading dot).
//
// Without recursive only the direct children of root are listed. With
// recursive the whole tree is walked; followSymlinks decides whether
// symlinked directories are descended into. Directory cycles through
// symlinks are not detected, so followSymlinks on a tree containing one
// never returns.
//
// Paths come back depth-first, lexically ordered within each directory.
// Dangling symlinks are skipped; any other read or stat error during the
// walk aborts discovery.
func Discover(root string, recursive, followSymlinks bool, ext string) ([]string, error) {
	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrInvalidInput)
	}
	w := walker{recursive: recursive, follow: followSymlinks, ext: ext}
	if err := w.walk(root); err != nil {
		return nil, err
	}
	return w.found, nil
}

type walker struct {
	recursive bool
	follow    bool
	ext       string
	found     []string
}

func (w *walker) walk(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		mode := e.Type()

		if mode&os.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if errors.Is(err, fs.ErrNotExist) {
				// dangling link: neither a file nor a directory
				continue
			}
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if target.IsDir() {
				if w.recursive && w.follow {
					if err := w.walk(path); err != nil {
						return err
					}
				}
				continue
			}
			if target.Mode().IsRegular() && w.match(e.Name()) {
				w.found = append(w.found, path)
			}
			continue
		}

		if e.IsDir() {
			if w.recursive {
				if err := w.walk(path); err != nil {
					return err
				}
			}
			continue
		}
		if mode.IsRegular() && w.match(e.Name()) {
			w.found = append(w.found, path)
		}
	}
	return nil
}

func (w *walker) match(name string) bool {
	return Extension(name) == w.ext
}

// Extension returns the part of name after its last dot. Dotfiles without a
// further dot (".eml") have no extension.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return ""
	}
	return name[i+1:]
}
