package datfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// OSDirectory a folder on the local file system.
type OSDirectory struct {
	path string
}

// NewOSDirectory opens path, which must be an existing directory.
func NewOSDirectory(path string) (*OSDirectory, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open folder %s: %w", abs, mapErr(err))
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a folder", abs)
	}
	return &OSDirectory{path: abs}, nil
}

// Name returns the absolute folder path.
func (d *OSDirectory) Name() string { return d.path }

// List returns the .dat files of the folder, newest first. Sub-folders are ignored.
func (d *OSDirectory) List(ctx context.Context) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.path, mapErr(err))
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsDatName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sortNewestFirst(files)
	return files, nil
}

// Read returns the content of name.
func (d *OSDirectory) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.path, name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, mapErr(err))
	}
	return data, nil
}

// Write stores data under name. The file is written to a temporary name and
// renamed so readers never see a half-written record.
func (d *OSDirectory) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.path, ".autoref-*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, mapErr(err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, mapErr(err))
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, mapErr(err))
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, mapErr(err))
	}
	if err := os.Rename(tmpName, filepath.Join(d.path, name)); err != nil {
		return fmt.Errorf("write %s: %w", name, mapErr(err))
	}
	return nil
}

// QueryPermission probes the folder: listing it for read, creating and
// removing a scratch file for readwrite.
func (d *OSDirectory) QueryPermission(ctx context.Context, mode Mode) (PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(d.path)
	if err != nil {
		return deniedOr(err)
	}
	_, err = f.Readdirnames(1)
	f.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return deniedOr(err)
	}

	if mode == ModeReadWrite {
		probe, err := os.CreateTemp(d.path, ".autoref-probe-*")
		if err != nil {
			return deniedOr(err)
		}
		probe.Close()
		os.Remove(probe.Name())
	}
	return PermissionGranted, nil
}

// RequestPermission cannot prompt on a local folder; it re-checks access.
func (d *OSDirectory) RequestPermission(ctx context.Context, mode Mode) (PermissionState, error) {
	return d.QueryPermission(ctx, mode)
}

func deniedOr(err error) (PermissionState, error) {
	if errors.Is(err, fs.ErrPermission) {
		return PermissionDenied, nil
	}
	return "", mapErr(err)
}

// mapErr translates OS errors to the package sentinels.
func mapErr(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return err
}
