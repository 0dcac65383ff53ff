package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_CreatesAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file is removed")
	assert.Equal(t, "out.json", entries[0].Name())
}

func TestWriteFileAtomic_Mode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, WriteFileAtomic(path, []byte("x"), 0o600))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteFileAtomic_FailedReplaceLeavesTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.json")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "keep"), 0o755))

	err := WriteFileAtomic(target, []byte("data"), 0o644)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fileutil: replace")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file is removed")
	assert.True(t, entries[0].IsDir())
}

func TestMarshalJSON_NoEscaping(t *testing.T) {
	got, err := MarshalJSON(map[string]string{"content": "<b>你好</b> & bye"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"content\": \"<b>你好</b> & bye\"\n}\n", string(got))
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.json")
	require.NoError(t, WriteJSONAtomic(path, []int{1, 2}))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[1, 2]`, string(got))
}
