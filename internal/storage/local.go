package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/petermazzocco/recipe-media/internal/mediaerr"
	"github.com/petermazzocco/recipe-media/internal/transcode"
)

// Local keeps assets in a single flat directory, created again on every write
// if it has gone missing.
type Local struct {
	dir string
}

func NewLocal(dir string) *Local {
	return &Local{dir: dir}
}

// Dir is the directory assets are written to.
func (l *Local) Dir() string { return l.dir }

func (l *Local) ensureDir() error {
	return os.MkdirAll(l.dir, 0o755)
}

func (l *Local) path(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(l.dir, name), nil
}

func (l *Local) Write(_ context.Context, base string, v Variant, data []byte) (string, error) {
	const op = "storage.write"

	p, err := l.path(FileName(base, v))
	if err != nil {
		return "", err
	}
	if err := l.ensureDir(); err != nil {
		return "", classifyWrite(op, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", classifyWrite(op, err)
	}
	return p, nil
}

func (l *Local) Exists(_ context.Context, name string) (bool, error) {
	p, err := l.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) ReadMetadata(_ context.Context, name string) (FileMetadata, error) {
	p, err := l.path(name)
	if err != nil {
		return FileMetadata{}, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return FileMetadata{Name: name}, nil
	}
	if err != nil {
		return FileMetadata{}, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return FileMetadata{}, err
	}
	return describe(name, info.Size(), info.ModTime(), data), nil
}

func (l *Local) Delete(ctx context.Context, base string) (int, error) {
	deleted := 0
	var errs []error
	for _, v := range Variants() {
		ok, err := l.Remove(ctx, FileName(base, v))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted, errors.Join(errs...)
}

func (l *Local) Remove(_ context.Context, name string) (bool, error) {
	p, err := l.path(name)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) List(_ context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !ValidName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, FileInfo{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return files, nil
}

func (l *Local) Ping(_ context.Context) error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	f, err := os.CreateTemp(l.dir, ".ping-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// classifyWrite tags capacity failures. Everything else stays untagged and
// reaches clients as an internal error.
func classifyWrite(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return mediaerr.New(mediaerr.InsufficientStorage, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func describe(name string, size int64, modTime time.Time, data []byte) FileMetadata {
	meta := FileMetadata{Exists: true, Name: name, Size: size, ModTime: modTime, Format: transcode.OutputFormat}
	if w, h, err := transcode.Dimensions(data); err == nil {
		meta.Width, meta.Height = w, h
	}
	return meta
}
