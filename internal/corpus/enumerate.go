// Package corpus discovers and reads the documents under a corpus root.
package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrRootNotDir is returned when the corpus root exists but is not a directory.
var ErrRootNotDir = errors.New("corpus root is not a directory")

// Enumerate walks root and returns the slash-separated relative names of the regular
// files whose extension is in extensions (case-insensitive, any file when empty).
// Directories whose base name is in ignoreDirs are not descended into. Unreadable
// subdirectories are skipped. The result is sorted.
func Enumerate(root string, ignoreDirs, extensions []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDir, root)
	}

	ignore := make(map[string]struct{}, len(ignoreDirs))
	for _, d := range ignoreDirs {
		ignore[d] = struct{}{}
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[normalizeExt(e)] = struct{}{}
	}

	var names []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, skip := ignore[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if len(exts) > 0 {
			if _, ok := exts[normalizeExt(filepath.Ext(path))]; !ok {
				return nil
			}
		}
		// Symlinks are followed; only regular targets count.
		fi, statErr := os.Stat(path)
		if statErr != nil || !fi.Mode().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// IsIgnored reports whether the slash-separated relative name lies under an ignored directory.
func IsIgnored(name string, ignoreDirs []string) bool {
	parts := strings.Split(name, "/")
	for _, part := range parts[:len(parts)-1] {
		for _, d := range ignoreDirs {
			if part == d {
				return true
			}
		}
	}
	return false
}

// HasExtension reports whether name has one of extensions (any name when empty).
func HasExtension(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := normalizeExt(filepath.Ext(name))
	for _, e := range extensions {
		if normalizeExt(e) == ext {
			return true
		}
	}
	return false
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
