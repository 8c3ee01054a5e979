package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateArtifact(t *testing.T) {
	dir := t.TempDir()
	source := "print('hi')\n# trailing comment without newline"

	a, err := AllocateArtifact(dir, source)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(a.Path()))
	assert.True(t, IsArtifactName(filepath.Base(a.Path())))

	data, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	assert.Equal(t, source, string(data))

	info, err := os.Stat(a.Path())
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	require.NoError(t, a.Remove())
	assert.NoFileExists(t, a.Path())

	// Second removal is a no-op.
	assert.NoError(t, a.Remove())
}

func TestAllocateArtifact_UniqueNames(t *testing.T) {
	dir := t.TempDir()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		a, err := AllocateArtifact(dir, "x = 1\n")
		require.NoError(t, err)
		require.False(t, seen[a.Path()], "duplicate artifact path %s", a.Path())
		seen[a.Path()] = true
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 100)
}

func TestAllocateArtifact_MissingDir(t *testing.T) {
	_, err := AllocateArtifact(filepath.Join(t.TempDir(), "does-not-exist"), "x = 1\n")
	assert.Error(t, err)
}

func TestIsArtifactName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"snippet-0b5c5a9e-4a8f-4b39-9d8e-3c1f0b6a2d71.py", true},
		{"snippet-not-a-uuid-at-all-but-same-length-xx.py", false},
		{"snippet-0b5c5a9e-4a8f-4b39-9d8e-3c1f0b6a2d71.txt", false},
		{"other-0b5c5a9e-4a8f-4b39-9d8e-3c1f0b6a2d71.py", false},
		{"main.py", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsArtifactName(tt.name), tt.name)
	}
}

func TestSweepArtifacts(t *testing.T) {
	dir := t.TempDir()

	stale, err := AllocateArtifact(dir, "x = 1\n")
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Path(), old, old))

	fresh, err := AllocateArtifact(dir, "x = 2\n")
	require.NoError(t, err)

	unrelated := filepath.Join(dir, "notes.py")
	require.NoError(t, os.WriteFile(unrelated, []byte("x = 3\n"), 0o600))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	removed, err := SweepArtifacts(dir, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale.Path())
	assert.FileExists(t, fresh.Path())
	assert.FileExists(t, unrelated)
}
