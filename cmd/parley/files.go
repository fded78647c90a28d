package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/elee1766/parley/src/agent"
)

// exportSession writes the session's conversation to path.
func exportSession(fs afero.Fs, s *agent.Session, path string) error {
	data, err := s.Export()
	if err != nil {
		return fmt.Errorf("failed to export conversation: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := afero.WriteFile(fs, path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// importSession replaces the session's conversation with the export at path.
func importSession(fs afero.Fs, s *agent.Session, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := s.Import(data); err != nil {
		return fmt.Errorf("failed to import %s: %w", path, err)
	}
	return nil
}
