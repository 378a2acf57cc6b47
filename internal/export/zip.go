// Package export packs generated files into zip archives.
package export

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/jonathan/design2code/internal/types"
)

// DefaultFilename is used when a caller-supplied archive has no usable name.
const DefaultFilename = "design2code.zip"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PathError reports a file path that cannot be placed in an archive.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid file path %q: %s", e.Path, e.Reason)
}

// BundleFilename is the archive name of a stored generation.
func BundleFilename(b *types.Bundle) string {
	return fmt.Sprintf("design2code_%s_%s.zip", b.Project.ID, b.Generation.ID)
}

// SanitizeFilename reduces name to a safe archive filename ending in .zip.
func SanitizeFilename(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".zip")
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return DefaultFilename
	}
	return name + ".zip"
}

// cleanPath normalizes p to a relative slash path that stays inside the
// archive root.
func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "", &PathError{Path: p, Reason: "empty"}
	}
	cleaned := path.Clean("/" + p)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(p, "/") || strings.HasPrefix(p, "../") {
		return "", &PathError{Path: p, Reason: "must be a relative path without '..'"}
	}
	return cleaned, nil
}

// Zip writes files into an in-memory archive. Binary files carry base64
// content and are decoded; every entry gets modTime.
func Zip(files []types.GeneratedFile, modTime time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		name, err := cleanPath(f.Path)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, &PathError{Path: f.Path, Reason: "duplicate"}
		}
		seen[name] = true

		content := []byte(f.Content)
		if f.Kind == types.FileKindBinary {
			content, err = base64.StdEncoding.DecodeString(f.Content)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", name, err)
			}
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Bundle archives a stored generation's files.
func Bundle(b *types.Bundle) ([]byte, error) {
	modTime := b.Generation.UpdatedAt
	if b.Generation.FinishedAt != nil {
		modTime = *b.Generation.FinishedAt
	}
	return Zip(b.Files, modTime)
}
