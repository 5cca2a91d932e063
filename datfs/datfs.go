// Package datfs gives the parser access to folders of instrument .dat files
// through a small capability interface, so callers can swap a local folder
// for an in-memory fixture.
package datfs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Mode access level asked for on a directory.
type Mode string

const (
	ModeRead      Mode = "read"
	ModeReadWrite Mode = "readwrite"
)

// PermissionState answer to a permission query.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt" // not decided yet, a request may grant it
)

var (
	ErrNotFound    = errors.New("datfs: file not found")
	ErrPermission  = errors.New("datfs: permission denied")
	ErrInvalidName = errors.New("datfs: invalid file name")
)

// DatExt extension of instrument files, matched case-insensitively.
const DatExt = ".dat"

// FileInfo one .dat entry of a directory listing.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"lastModified"`
}

// Directory a folder holding .dat files.
type Directory interface {
	// Name returns a display name for the folder.
	Name() string

	// List returns the .dat files, newest first.
	List(ctx context.Context) ([]FileInfo, error)

	// Read returns the raw bytes of a file.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write creates or replaces a file.
	Write(ctx context.Context, name string, data []byte) error

	// QueryPermission reports the current permission without asking the user.
	QueryPermission(ctx context.Context, mode Mode) (PermissionState, error)

	// RequestPermission asks for the permission when it is still undecided.
	RequestPermission(ctx context.Context, mode Mode) (PermissionState, error)
}

// Latest returns the newest .dat file of dir and its content.
func Latest(ctx context.Context, dir Directory) (FileInfo, []byte, error) {
	files, err := dir.List(ctx)
	if err != nil {
		return FileInfo{}, nil, err
	}
	if len(files) == 0 {
		return FileInfo{}, nil, fmt.Errorf("no %s files in %s: %w", DatExt, dir.Name(), ErrNotFound)
	}
	data, err := dir.Read(ctx, files[0].Name)
	if err != nil {
		return FileInfo{}, nil, err
	}
	return files[0], data, nil
}

// EnsurePermission queries mode and requests it when undecided. It returns
// ErrPermission unless the permission ends up granted.
func EnsurePermission(ctx context.Context, dir Directory, mode Mode) error {
	state, err := dir.QueryPermission(ctx, mode)
	if err != nil {
		return err
	}
	if state == PermissionPrompt {
		if state, err = dir.RequestPermission(ctx, mode); err != nil {
			return err
		}
	}
	if state != PermissionGranted {
		return fmt.Errorf("%s access to %s: %w", mode, dir.Name(), ErrPermission)
	}
	return nil
}

// IsDatName reports whether name has the .dat extension.
func IsDatName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), DatExt)
}

// validateName rejects names that would escape the directory.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// sortNewestFirst orders by modification time, newest first, then by name.
func sortNewestFirst(files []FileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.After(files[j].ModTime)
		}
		return files[i].Name < files[j].Name
	})
}
