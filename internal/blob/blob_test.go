package blob

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	return s
}

func TestPutOpenDelete(t *testing.T) {
	s := newTestStore(t)

	key, n, err := s.Put(strings.NewReader("hello attachments"), 1024)
	require.NoError(t, err)
	assert.EqualValues(t, 17, n)

	_, err = os.Stat(filepath.Join(s.root, key[:2], key))
	require.NoError(t, err, "blob should be sharded by key prefix")

	f, err := s.Open(key)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello attachments", string(data))

	require.NoError(t, s.Delete(key))
	_, err = s.Open(key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(key), "deleting twice is fine")
}

func TestPutTooLarge(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.Put(bytes.NewReader(make([]byte, 11)), 10)
	assert.ErrorIs(t, err, ErrTooLarge)

	// Nothing is left behind, not even temp files.
	var files []string
	filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	assert.Empty(t, files)

	_, n, err := s.Put(bytes.NewReader(make([]byte, 10)), 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)
}

func TestInvalidKeys(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []string{"", "../etc/passwd", "ab/../../x", "not-a-uuid", "6BA7B810-9DAD-11D1-80B4-00C04FD430C8"} {
		_, err := s.Open(key)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
		assert.ErrorIs(t, s.Delete(key), ErrInvalidKey, "key %q", key)
	}
}
