package util

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AnnotationPattern matches PASCAL VOC annotation files.
const AnnotationPattern = "*.xml"

// FindFiles returns the regular files in dir whose base name matches pattern.
//
// A missing directory is not an error: it simply yields no files, the same as a
// directory with no matches. Hidden files (leading dot) only match a pattern that
// itself starts with a dot.
//
// Arguments:
// - dir: Directory to search (not recursive).
// - pattern: A filepath.Match pattern applied to file names, e.g. "*.xml".
//
// Returns:
// - []string: The matching paths, joined with dir, sorted.
// - error: Error if the pattern is malformed.
func FindFiles(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}

	hidden := strings.HasPrefix(pattern, ".")
	files := make([]string, 0, len(matches))
	for _, match := range matches {
		if !hidden && strings.HasPrefix(filepath.Base(match), ".") {
			continue
		}
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, match)
	}

	sort.Strings(files)

	return files, nil
}

// Exists reports whether a file or directory exists at path.
//
// An empty path never exists.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
