package datfs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Links folders remembered between sessions: where instrument files are read
// from and where edited records are saved.
type Links struct {
	ReadDir   string    `json:"readDir,omitempty"`
	SaveDir   string    `json:"saveDir,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// LinkStore keeps Links in a JSON file.
type LinkStore struct {
	mu       sync.Mutex
	filePath string
}

// NewLinkStore returns a store backed by filePath. The file is created on first save.
func NewLinkStore(filePath string) *LinkStore {
	return &LinkStore{filePath: filePath}
}

// DefaultLinkPath returns the links file under the user config directory.
func DefaultLinkPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "autoref", "folders.json")
}

// Load returns the stored links. A missing file yields zero Links.
func (s *LinkStore) Load() (Links, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// SetReadDir remembers dir as the folder to read from.
func (s *LinkStore) SetReadDir(dir string) (Links, error) {
	return s.update(func(l *Links) { l.ReadDir = dir })
}

// SetSaveDir remembers dir as the folder to save into.
func (s *LinkStore) SetSaveDir(dir string) (Links, error) {
	return s.update(func(l *Links) { l.SaveDir = dir })
}

// Forget clears both folders.
func (s *LinkStore) Forget() error {
	_, err := s.update(func(l *Links) { *l = Links{} })
	return err
}

// OpenRead opens the remembered read folder.
func (s *LinkStore) OpenRead() (*OSDirectory, error) {
	return s.open(func(l Links) string { return l.ReadDir }, "read")
}

// OpenSave opens the remembered save folder, falling back to the read folder.
func (s *LinkStore) OpenSave() (*OSDirectory, error) {
	return s.open(func(l Links) string {
		if l.SaveDir != "" {
			return l.SaveDir
		}
		return l.ReadDir
	}, "save")
}

func (s *LinkStore) open(pick func(Links) string, what string) (*OSDirectory, error) {
	links, err := s.Load()
	if err != nil {
		return nil, err
	}
	dir := pick(links)
	if dir == "" {
		return nil, fmt.Errorf("no %s folder linked: %w", what, ErrNotFound)
	}
	return NewOSDirectory(dir)
}

func (s *LinkStore) update(fn func(*Links)) (Links, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	links, err := s.load()
	if err != nil {
		return Links{}, err
	}
	fn(&links)
	links.UpdatedAt = time.Now().UTC()
	if err := s.save(links); err != nil {
		return Links{}, err
	}
	return links, nil
}

// load and save expect s.mu to be held.
func (s *LinkStore) load() (Links, error) {
	var links Links
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return links, nil
		}
		return links, fmt.Errorf("read folder links: %w", err)
	}
	if err := json.Unmarshal(data, &links); err != nil {
		return Links{}, fmt.Errorf("parse folder links %s: %w", s.filePath, err)
	}
	return links, nil
}

func (s *LinkStore) save(links Links) error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create config folder: %w", err)
	}
	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return fmt.Errorf("encode folder links: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0o644); err != nil {
		return fmt.Errorf("write folder links: %w", err)
	}
	return nil
}
