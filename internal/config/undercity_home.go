package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetUndercityHome returns the state directory undercity uses for its
// database, JSON side-files, logs, and lockfiles.
//
// Priority order:
//  1. UNDERCITY_HOME environment variable, if set
//  2. The repository root (detected by walking up for a .undercity-root
//     marker or a go.mod declaring this module)
//  3. The current working directory, as a fallback
//
// The directory is created if it does not already exist.
func GetUndercityHome() (string, error) {
	if home := os.Getenv("UNDERCITY_HOME"); home != "" {
		return ensureDir(home)
	}

	if root, err := findRepoRoot(); err == nil && root != "" {
		return ensureDir(filepath.Join(root, ".undercity"))
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return ensureDir(filepath.Join(cwd, ".undercity"))
}

func ensureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create undercity home directory: %w", err)
	}
	return path, nil
}

// findRepoRoot walks up from the working directory looking for a
// .undercity-root marker file or a go.mod declaring this module.
func findRepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	current := cwd
	for {
		if _, err := os.Stat(filepath.Join(current, ".undercity-root")); err == nil {
			return current, nil
		}
		if data, err := os.ReadFile(filepath.Join(current, "go.mod")); err == nil {
			if strings.Contains(string(data), "github.com/undercity-dev/undercity") {
				return current, nil
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return "", fmt.Errorf("repository root not found")
}

// PersistenceDBPath returns the absolute path to the embedded SQLite store.
func PersistenceDBPath() (string, error) {
	home, err := GetUndercityHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "learning", "undercity.db"), nil
}

// LearningDir returns (and creates) the directory holding persisted
// learning/side-file state.
func LearningDir() (string, error) {
	home, err := GetUndercityHome()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "learning")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create learning directory: %w", err)
	}
	return dir, nil
}

// VisualizationsDir returns (and creates) the directory holding rendered
// HTML session reports.
func VisualizationsDir() (string, error) {
	home, err := GetUndercityHome()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "visualizations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create visualizations directory: %w", err)
	}
	return dir, nil
}
