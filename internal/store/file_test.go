package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	st, err := NewFile(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, st)
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFile(dir)
	require.NoError(t, err)

	env := Envelope{Sender: "alice", Recipient: "bob", Body: "Hi Bob\n\nSee you.\n"}
	require.NoError(t, st.Store(context.Background(), env))

	data, err := os.ReadFile(filepath.Join(dir, "bob.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alice\nHi Bob\n\nSee you.\n", string(data))

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mail", "spool")
	st, err := NewFile(dir)
	require.NoError(t, err)

	path, err := st.Path("bob")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bob.txt"), path)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileStoreConcurrentSameRecipient(t *testing.T) {
	st, err := NewFile(t.TempDir())
	require.NoError(t, err)

	bodies := []string{"one\n", "two\n", "three\n", "four\n"}

	var wg sync.WaitGroup
	for _, body := range bodies {
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			assert.NoError(t, st.Store(context.Background(), Envelope{Sender: "alice", Recipient: "bob", Body: body}))
		}(body)
	}
	wg.Wait()

	// Exactly one complete record survives.
	got, err := st.Load(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Sender)
	assert.Contains(t, bodies, got.Body)
}

func TestFileStoreUnwritableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	st, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(dir, 0500))
	defer os.Chmod(dir, 0755)

	err = st.Store(context.Background(), Envelope{Sender: "alice", Recipient: "bob", Body: "x\n"})
	assert.Error(t, err)
}
