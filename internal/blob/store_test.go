package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	loc, err := store.Put("notes.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Contains(t, loc, "notes.txt")

	data, err := store.Get(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, store.Delete(loc))
	_, err = store.Get(loc)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreUniqueLocations(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	a, err := store.Put("same.pdf", []byte("one"))
	require.NoError(t, err)
	b, err := store.Put("same.pdf", []byte("two"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	dataA, err := store.Get(a)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), dataA)
}

func TestLocalStoreDeleteUnknown(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	assert.ErrorIs(t, store.Delete("nope"), ErrNotFound)
}

func TestSanitiseStripsPathComponents(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	loc, err := store.Put("../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.NotContains(t, loc, "/")
	assert.NotContains(t, loc, "..")
	assert.Contains(t, loc, "passwd")
}
