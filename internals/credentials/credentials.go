// Package credentials keeps caller-supplied cookie jars on disk for the
// lifetime of a single fetch.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("credentials dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credentials dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Path(taskID string) string {
	return filepath.Join(s.dir, "cookies_"+taskID+".txt")
}

// Write stores the cookie jar for taskID and returns its path.
func (s *Store) Write(taskID string, cookies string) (string, error) {
	path := s.Path(taskID)
	if err := os.WriteFile(path, []byte(cookies), 0o600); err != nil {
		return "", fmt.Errorf("failed to write cookies for task %s: %w", taskID, err)
	}
	return path, nil
}

// Remove deletes the cookie jar for taskID. A missing file is not an error.
func (s *Store) Remove(taskID string) error {
	err := os.Remove(s.Path(taskID))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
