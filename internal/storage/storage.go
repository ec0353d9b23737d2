// Package storage persists derived image assets. Asset identity is the filename:
// every upload owns three files sharing one base name and differing by variant suffix.
package storage

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"
	"time"
)

// Variant identifies one of the three derivatives of an upload.
type Variant string

const (
	Original  Variant = "original"
	Thumbnail Variant = "thumb"
	Optimized Variant = "optimized"
)

// Extension is shared by every variant file.
const Extension = ".webp"

// ErrInvalidName is returned for names that could escape the store or do not follow the naming scheme.
var ErrInvalidName = errors.New("invalid asset name")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Variants lists every variant in a stable order.
func Variants() []Variant {
	return []Variant{Original, Thumbnail, Optimized}
}

func (v Variant) Suffix() string { return "_" + string(v) }

// FileName is the stored name of variant v of base.
func FileName(base string, v Variant) string {
	return base + v.Suffix() + Extension
}

// ParseFileName splits a stored name into its base and variant by suffix substitution.
func ParseFileName(name string) (string, Variant, bool) {
	if !strings.HasSuffix(name, Extension) {
		return "", "", false
	}
	stem := strings.TrimSuffix(name, Extension)
	for _, v := range Variants() {
		if base, ok := strings.CutSuffix(stem, v.Suffix()); ok && base != "" {
			return base, v, true
		}
	}
	return "", "", false
}

// ValidName reports whether name is a flat, safe filename.
func ValidName(name string) bool {
	return name != "" && name == path.Base(name) && validName.MatchString(name) && !strings.Contains(name, "..")
}

// FileInfo is one stored file as seen by a listing.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// FileMetadata answers a metadata lookup. Exists is false for missing files; the
// remaining fields are only set when it is true.
type FileMetadata struct {
	Exists  bool
	Name    string
	Size    int64
	Width   int
	Height  int
	Format  string
	ModTime time.Time
}

// Store is the asset persistence contract used by the upload service and the retention sweeper.
type Store interface {
	// Write stores data as variant v of base, returning the stored location. Existing files are overwritten.
	Write(ctx context.Context, base string, v Variant, data []byte) (string, error)
	Exists(ctx context.Context, name string) (bool, error)
	// ReadMetadata reports size and decoded dimensions; a missing file is not an error.
	ReadMetadata(ctx context.Context, name string) (FileMetadata, error)
	// Delete removes every variant of base and returns how many files existed. Missing files are not errors.
	Delete(ctx context.Context, base string) (int, error)
	// Remove deletes a single file, reporting whether it existed.
	Remove(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]FileInfo, error)
	// Ping checks that the backend is reachable and writable.
	Ping(ctx context.Context) error
}
