package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "output/results.csv", "text/csv", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://output/results.csv", uri)

	payload[0] = 'C'
	got, ok := store.Get("output/results.csv")
	require.True(t, ok)
	require.Equal(t, "content", string(got))
	require.Equal(t, "text/csv", store.ContentType("output/results.csv"))

	got[0] = 'X'
	again, _ := store.Get("output/results.csv")
	require.Equal(t, "content", string(again))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b", "a", "c/d"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b", "c/d"}, store.Paths())

	_, ok := store.Get("missing")
	require.False(t, ok)

	_, err := store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
