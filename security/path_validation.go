// Package security validates externally supplied identifiers and paths
// before they touch the filesystem.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxSessionIDLength = 64

// ValidateSessionID rejects ids that could escape the workspace base
// directory or collide with scaffold files. Interview ids come straight
// from the URL path and are used as directory names.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	if len(id) > maxSessionIDLength {
		return fmt.Errorf("session id exceeds %d characters", maxSessionIDLength)
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("session id contains invalid character %q", r)
		}
	}

	return nil
}

// IsWithinBase reports whether path resolves to a location inside
// baseDir. Parent directories never count as "within" their children.
func IsWithinBase(path, baseDir string) bool {
	absBase, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return false
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}

	if absPath == absBase {
		return true
	}

	return strings.HasPrefix(absPath, absBase+string(filepath.Separator))
}

// WorkspacePath joins a validated session id onto the base workspace
// directory and confirms the result stays inside it.
func WorkspacePath(baseDir, sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}

	path := filepath.Join(baseDir, sessionID)
	if !IsWithinBase(path, baseDir) {
		return "", fmt.Errorf("workspace path %s escapes base directory %s", path, baseDir)
	}

	return path, nil
}
