package keyValStore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *KeyValStore {
	t.Helper()
	kv, err := NewKeyValStore(StoreConfig{
		Paths:            []string{t.TempDir()},
		MinimumFreeSpace: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestWriteReadRoundTrip(t *testing.T) {
	kv := newTestStore(t)

	key := []byte("changeset:abc")
	value := bytes.Repeat([]byte("envelope bytes "), 1000)

	require.NoError(t, kv.Write(key, value))

	got, err := kv.Read(key)
	require.NoError(t, err)
	assert.Equal(t, value, got, "compression must be transparent")
}

func TestHas(t *testing.T) {
	kv := newTestStore(t)

	key := []byte("manifest:def")
	ok, err := kv.Has(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Write(key, []byte("content")))

	ok, err = kv.Has(key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReadMissingKeyFails(t *testing.T) {
	kv := newTestStore(t)

	_, err := kv.Read([]byte("never written"))
	assert.Error(t, err)
}

func TestNewKeyValStoreRejectsEmptyConfig(t *testing.T) {
	_, err := NewKeyValStore(StoreConfig{})
	assert.Error(t, err)
}

func TestCompressionRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("abcabcabc"), 500)

	compressed, err := compressWithLzma(data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

	got, err := decompressWithLzma(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
