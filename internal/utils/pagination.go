// Package utils provides small helpers with no domain knowledge.
package utils

import "strconv"

// AtoiDefault parses s, returning def when s is empty or not an integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads 1-based page and page size query values. page is at least
// 1; size falls back to defSize and is clamped to [1, maxSize].
func ParsePage(pageStr, sizeStr string, defSize, maxSize int) (page, size int) {
	page = max(AtoiDefault(pageStr, 1), 1)
	size = min(max(AtoiDefault(sizeStr, defSize), 1), maxSize)
	return page, size
}

// Offset converts a 1-based page into a row offset.
func Offset(page, size int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * size
}
