package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores artifacts under a directory on disk. Locators are absolute
// file paths.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir, creating the directory and
// the received/ and sent/ subdirectories.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	for _, sub := range []string{ReceivedDir, SentDir} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute store directory.
func (l *Local) Root() string { return l.root }

func (l *Local) resolve(p string) (string, error) {
	c, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(c)), nil
}

// Put writes data to a temporary file and renames it into place, so readers
// never observe a partial artifact.
func (l *Local) Put(_ context.Context, p, _ string, data []byte) (string, error) {
	full, err := l.resolve(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: put %s: %w", p, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", p, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: put %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: put %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: put %s: %w", p, err)
	}
	return full, nil
}

func (l *Local) Exists(_ context.Context, p string) (bool, error) {
	full, err := l.resolve(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("storage: stat %s: %w", p, err)
	}
}

// Locate returns the absolute file path for p. Invalid paths yield "".
func (l *Local) Locate(p string) string {
	full, err := l.resolve(p)
	if err != nil {
		return ""
	}
	return full
}

var _ Store = (*Local)(nil)
