package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files (slash-separated names) under a temp root.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func TestEnumerate(t *testing.T) {
	root := writeTree(t, map[string]string{
		"b.md":                   "b",
		"a.md":                   "a",
		"notes/c.MD":             "c",
		"notes/d.txt":            "d",
		".git/HEAD.md":           "x",
		"deep/node_modules/e.md": "x",
		"deep/f.md":              "f",
	})

	names, err := Enumerate(root, []string{".git", "node_modules"}, []string{".md"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md", "deep/f.md", "notes/c.MD"}, names)
}

func TestEnumerate_noExtensionFilter(t *testing.T) {
	root := writeTree(t, map[string]string{"a.md": "a", "b.txt": "b"})
	names, err := Enumerate(root, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.txt"}, names)
}

func TestEnumerate_extensionWithoutDot(t *testing.T) {
	root := writeTree(t, map[string]string{"a.md": "a", "b.txt": "b"})
	names, err := Enumerate(root, nil, []string{"txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, names)
}

func TestEnumerate_rootNamedLikeIgnoredDir(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "data")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("a"), 0o600))

	names, err := Enumerate(root, []string{"data"}, []string{".md"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md"}, names)
}

func TestEnumerate_missingRoot(t *testing.T) {
	_, err := Enumerate(filepath.Join(t.TempDir(), "missing"), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEnumerate_rootIsFile(t *testing.T) {
	root := writeTree(t, map[string]string{"a.md": "a"})
	_, err := Enumerate(filepath.Join(root, "a.md"), nil, nil)
	require.ErrorIs(t, err, ErrRootNotDir)
}

func TestEnumerate_emptyRoot(t *testing.T) {
	names, err := Enumerate(t.TempDir(), nil, []string{".md"})
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestIsIgnored(t *testing.T) {
	ignore := []string{".git", "node_modules"}
	assert.True(t, IsIgnored(".git/config", ignore))
	assert.True(t, IsIgnored("a/node_modules/b.md", ignore))
	assert.False(t, IsIgnored("a/b.md", ignore))
	assert.False(t, IsIgnored(".git", ignore), "a file named like an ignored dir is not ignored")
}

func TestHasExtension(t *testing.T) {
	assert.True(t, HasExtension("a/b.MD", []string{".md"}))
	assert.True(t, HasExtension("a/b.txt", nil))
	assert.False(t, HasExtension("a/b.txt", []string{".md", "pdf"}))
}
