// Package validator checks upload requests before any bytes are stored and
// returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const maxFilenameLength = 255

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateUpload checks the filename and declared size of an upload. A
// maxSize of zero disables the size ceiling.
func ValidateUpload(filename string, size, maxSize int64) error {
	errs := make(map[string]string)

	name := strings.TrimSpace(filename)
	switch {
	case name == "":
		errs["filename"] = "filename is required"
	case utf8.RuneCountInString(name) > maxFilenameLength:
		errs["filename"] = fmt.Sprintf("filename must be at most %d characters", maxFilenameLength)
	case strings.ContainsAny(name, `/\`) || name == "." || name == "..":
		errs["filename"] = "filename must not contain path separators"
	case strings.ContainsRune(name, 0):
		errs["filename"] = "filename contains invalid characters"
	}

	switch {
	case size <= 0:
		errs["file"] = "file is required and must not be empty"
	case maxSize > 0 && size > maxSize:
		errs["file"] = fmt.Sprintf("file must be at most %d bytes", maxSize)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateStatusFilter accepts an empty filter or a known session status.
func ValidateStatusFilter(status string, known []string) error {
	if status == "" {
		return nil
	}
	for _, k := range known {
		if status == k {
			return nil
		}
	}
	return &ValidationError{Fields: map[string]string{
		"status": fmt.Sprintf("status must be one of %s", strings.Join(known, ", ")),
	}}
}
