package datfs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memFile struct {
	data    []byte
	modTime time.Time
}

// MemDirectory an in-memory Directory, safe for concurrent use. Permissions
// start granted and can be changed with SetPermission.
type MemDirectory struct {
	mu    sync.RWMutex
	name  string
	files map[string]memFile
	perms map[Mode]PermissionState

	// GrantOnRequest decides what RequestPermission turns a prompt into.
	GrantOnRequest bool

	now func() time.Time
}

// NewMemDirectory returns an empty directory called name.
func NewMemDirectory(name string) *MemDirectory {
	return &MemDirectory{
		name:  name,
		files: make(map[string]memFile),
		perms: map[Mode]PermissionState{
			ModeRead:      PermissionGranted,
			ModeReadWrite: PermissionGranted,
		},
		GrantOnRequest: true,
		now:            time.Now,
	}
}

func (d *MemDirectory) Name() string { return d.name }

// Put stores a file with an explicit modification time, bypassing permissions.
func (d *MemDirectory) Put(name string, data []byte, modTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[name] = memFile{data: append([]byte(nil), data...), modTime: modTime}
}

// SetPermission forces the state reported for mode.
func (d *MemDirectory) SetPermission(mode Mode, state PermissionState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.perms[mode] = state
}

func (d *MemDirectory) List(ctx context.Context) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ModeRead); err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(d.files))
	for name, f := range d.files {
		if !IsDatName(name) {
			continue
		}
		files = append(files, FileInfo{Name: name, Size: int64(len(f.data)), ModTime: f.modTime})
	}
	sortNewestFirst(files)
	return files, nil
}

func (d *MemDirectory) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.check(ModeRead); err != nil {
		return nil, err
	}

	f, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", name, ErrNotFound)
	}
	return append([]byte(nil), f.data...), nil
}

func (d *MemDirectory) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ModeReadWrite); err != nil {
		return err
	}

	d.files[name] = memFile{data: append([]byte(nil), data...), modTime: d.now()}
	return nil
}

func (d *MemDirectory) QueryPermission(ctx context.Context, mode Mode) (PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state(mode), nil
}

func (d *MemDirectory) RequestPermission(ctx context.Context, mode Mode) (PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state(mode) == PermissionPrompt {
		next := PermissionDenied
		if d.GrantOnRequest {
			next = PermissionGranted
		}
		d.perms[mode] = next
	}
	return d.state(mode), nil
}

func (d *MemDirectory) state(mode Mode) PermissionState {
	if s, ok := d.perms[mode]; ok {
		return s
	}
	return PermissionPrompt
}

func (d *MemDirectory) check(mode Mode) error {
	if d.state(mode) != PermissionGranted {
		return fmt.Errorf("%s access to %s: %w", mode, d.name, ErrPermission)
	}
	return nil
}
