package watcher

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnifiedDiffHeadersAndHunks(t *testing.T) {
	diff, err := unifiedDiff([]byte("x = 1\n"), []byte("x = 2\n"), "src/a.py")
	require.NoError(t, err)
	require.Contains(t, diff, "--- a/src/a.py")
	require.Contains(t, diff, "+++ b/src/a.py")
	require.Contains(t, diff, "-x = 1")
	require.Contains(t, diff, "+x = 2")
}

func TestUnifiedDiffCreationAndDeletion(t *testing.T) {
	created, err := unifiedDiff(nil, []byte("fresh\n"), "n.md")
	require.NoError(t, err)
	require.Contains(t, created, "+fresh")
	require.NotContains(t, created, "-fresh")

	removed, err := unifiedDiff([]byte("gone\n"), nil, "n.md")
	require.NoError(t, err)
	require.Contains(t, removed, "-gone")
}

func TestUnifiedDiffIdenticalIsEmpty(t *testing.T) {
	diff, err := unifiedDiff([]byte("same\n"), []byte("same\n"), "s.go")
	require.NoError(t, err)
	require.Empty(t, diff)
}

func TestHashBytes(t *testing.T) {
	a := hashBytes([]byte("content"))
	require.Len(t, a, 64)
	require.Equal(t, a, hashBytes([]byte("content")))
	require.NotEqual(t, a, hashBytes([]byte("Content")))
}

func TestIsText(t *testing.T) {
	require.True(t, isText([]byte("plain text\n")))
	require.True(t, isText([]byte("touché\n")))
	require.False(t, isText([]byte{0x00, 0x01, 0x02}))
	require.False(t, isText([]byte{0xff, 0xfe, 'a'}))
}

func TestReadSnapshotOversizedFileHasNoContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.md")
	big := bytes.Repeat([]byte("0123456789abcdef"), 256)
	require.NoError(t, os.WriteFile(path, big, 0o644))

	snap, err := readSnapshot(path, 64)
	require.NoError(t, err)
	require.Equal(t, int64(len(big)), snap.size)
	require.NotEmpty(t, snap.hash)
	require.Nil(t, snap.content, "oversized files must not be cached or diffed")
	require.Equal(t, hashBytes(big), snap.hash, "streaming hash must match whole-buffer hash")
}

func TestReadSnapshotBinaryFileHasNoContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.py")
	require.NoError(t, os.WriteFile(path, []byte{'a', 0x00, 'b'}, 0o644))

	snap, err := readSnapshot(path, 1<<20)
	require.NoError(t, err)
	require.NotEmpty(t, snap.hash)
	require.Nil(t, snap.content)
}

func TestReadSnapshotTextWithinLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.go")
	content := "package main\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	snap, err := readSnapshot(path, 1<<20)
	require.NoError(t, err)
	require.Equal(t, content, string(snap.content))
	require.True(t, strings.HasPrefix(snap.hash, hashBytes([]byte(content))[:8]))
}
