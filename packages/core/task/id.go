package task

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf16"
)

// GenerateHash folds s into a signed 32-bit rolling hash (h = h*31 + c
// over UTF-16 code units) and renders it in decimal.
func GenerateHash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return strconv.FormatInt(int64(h), 10)
}

// FileID derives the root ID of a file from its path relative to the
// project root and the project name.
func FileID(relPath, projectName string) string {
	return GenerateHash(filepath.ToSlash(relPath) + projectName)
}

// RelativePath returns path relative to root, falling back to path when
// it cannot be made relative.
func RelativePath(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// ComputeID returns the ID of the task found by following position (one
// sibling index per nesting level) down from the file root.
func ComputeID(relPath, projectName string, position []int) string {
	var b strings.Builder
	b.WriteString(FileID(relPath, projectName))
	for _, idx := range position {
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}

// AssignIDs gives every descendant of s without an ID the ID
// "<parent id>_<index>". Existing IDs are never regenerated.
func AssignIDs(s *Suite) {
	for i, child := range s.Tasks {
		b := child.Common()
		if b.ID == "" {
			b.ID = s.ID + "_" + strconv.Itoa(i)
		}
		if sub, ok := child.(*Suite); ok {
			AssignIDs(sub)
		}
	}
}
