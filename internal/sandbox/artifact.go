package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"codeguard/internal/logging"

	"github.com/google/uuid"
)

const (
	artifactPrefix = "snippet-"
	artifactSuffix = ".py"
)

// Artifact is the on-disk copy of one snippet, owned by a single execution.
type Artifact struct {
	path string
}

// AllocateArtifact writes source verbatim to a new file in dir.
//
// The name carries a random v4 UUID and the file is opened with O_EXCL, so two
// calls can never share a path: a collision fails the create instead of
// aliasing another run's file.
func AllocateArtifact(dir, source string) (*Artifact, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, artifactPrefix+uuid.NewString()+artifactSuffix)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create snippet file: %w", err)
	}

	if _, err := f.WriteString(source); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write snippet file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close snippet file: %w", err)
	}

	return &Artifact{path: path}, nil
}

// Path returns the file location.
func (a *Artifact) Path() string {
	return a.path
}

// Remove deletes the file. A file that is already gone is not an error.
func (a *Artifact) Remove() error {
	err := os.Remove(a.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to remove snippet file: %w", err)
}

// IsArtifactName reports whether a base file name looks like a snippet file.
func IsArtifactName(name string) bool {
	if len(name) != len(artifactPrefix)+36+len(artifactSuffix) {
		return false
	}
	if name[:len(artifactPrefix)] != artifactPrefix || name[len(name)-len(artifactSuffix):] != artifactSuffix {
		return false
	}
	_, err := uuid.Parse(name[len(artifactPrefix) : len(name)-len(artifactSuffix)])
	return err == nil
}

// SweepArtifacts removes snippet files in dir last modified before cutoff.
// Executions clean up after themselves; this only catches files orphaned when
// the host process itself was killed mid-run.
func SweepArtifacts(dir string, cutoff time.Time) (int, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !IsArtifactName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		a := &Artifact{path: filepath.Join(dir, entry.Name())}
		if err := a.Remove(); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logging.Sandbox("swept %d orphaned snippet files from %s", removed, dir)
	}
	return removed, errors.Join(errs...)
}
