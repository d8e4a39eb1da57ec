package hashing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("First version content"), 0o600))

	got, err := HashFile(path)
	require.NoError(t, err)
	require.Equal(t, HashBytes([]byte("First version content")), got)
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestHashEventDeterministic(t *testing.T) {
	var device [16]byte
	copy(device[:], "device-0001")
	content := HashBytes([]byte("hello"))
	var prev [32]byte

	a := HashEvent(device, 1000, "/tmp/doc.txt", content, 5, 5, prev)
	b := HashEvent(device, 1000, "/tmp/doc.txt", content, 5, 5, prev)
	require.Equal(t, a, b)

	c := HashEvent(device, 1001, "/tmp/doc.txt", content, 5, 5, prev)
	require.NotEqual(t, a, c)
}
