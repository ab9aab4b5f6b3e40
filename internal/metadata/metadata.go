// Package metadata carries opaque pointers to externally stored documents.
//
// The engine never interprets metadata content; it stores a protocol tag and
// a pointer string and hands them back to indexers and reviewers as-is.
package metadata

import "strings"

// Metadata references an externally stored document.
type Metadata struct {
	Protocol uint64
	Pointer  string
}

// Normalize trims the pointer string.
func Normalize(m Metadata) Metadata {
	m.Pointer = strings.TrimSpace(m.Pointer)
	return m
}

// Empty reports whether the metadata carries no document reference.
func (m Metadata) Empty() bool {
	return m.Protocol == 0 && strings.TrimSpace(m.Pointer) == ""
}
