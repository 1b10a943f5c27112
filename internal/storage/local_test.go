package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestObjectStore(t *testing.T) (*LocalObjectStore, string) {
	t.Helper()
	dir := t.TempDir()
	objectStore, err := NewLocalObjectStore(dir)
	require.NoError(t, err)
	return objectStore, dir
}

func TestLocalObjectStore_PutObject(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	key := "shards/client_0.csv"
	content := []byte("1,world news headline")

	err := objectStore.PutObject(context.Background(), bucket, key, bytes.NewReader(content))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(baseDir, bucket, "shards", "client_0.csv"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalObjectStore_GetObject(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	content := []byte(`{"step": 3}`)
	require.NoError(t, objectStore.PutObject(context.Background(), "models", "job/model.json", bytes.NewReader(content)))

	reader, err := objectStore.GetObject(context.Background(), "models", "job/model.json")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = objectStore.GetObject(context.Background(), "models", "missing.json")
	assert.Error(t, err)
}

func TestLocalObjectStore_DownloadObject(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	content := []byte("artifact data")
	require.NoError(t, objectStore.PutObject(context.Background(), "models", "a/model.json", bytes.NewReader(content)))

	dest := filepath.Join(t.TempDir(), "nested", "model.json")
	require.NoError(t, objectStore.DownloadObject(context.Background(), "models", "a/model.json", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalObjectStore_UploadAndDownloadDir(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(src, "epoch_0.json"), []byte("e0"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "epoch_1.json"), []byte("e1"), 0644))

	require.NoError(t, objectStore.UploadDir(context.Background(), "models", "job/checkpoints", src))

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, objectStore.DownloadDir(context.Background(), "models", "job/checkpoints", dest, false))

	data, err := os.ReadFile(filepath.Join(dest, "epoch_0.json"))
	require.NoError(t, err)
	assert.Equal(t, []byte("e0"), data)

	data, err = os.ReadFile(filepath.Join(dest, "sub", "epoch_1.json"))
	require.NoError(t, err)
	assert.Equal(t, []byte("e1"), data)

	// Existing destination without overwrite is an error.
	assert.Error(t, objectStore.DownloadDir(context.Background(), "models", "job/checkpoints", dest, false))
	assert.NoError(t, objectStore.DownloadDir(context.Background(), "models", "job/checkpoints", dest, true))
}

func TestLocalObjectStore_ListObjects(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	files := []string{"job/shards/client_0.csv", "job/shards/client_1.csv", "other/model.json"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(context.Background(), "datasets", file, bytes.NewReader([]byte("x"))))
	}

	objects, err := objectStore.ListObjects(context.Background(), "datasets", "job/shards/")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	names := []string{objects[0].Name, objects[1].Name}
	assert.ElementsMatch(t, []string{"job/shards/client_0.csv", "job/shards/client_1.csv"}, names)
	assert.Equal(t, int64(1), objects[0].Size)
}

func TestLocalObjectStore_CreateBucket(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	require.NoError(t, objectStore.CreateBucket(context.Background(), "datasets"))

	info, err := os.Stat(filepath.Join(baseDir, "datasets"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
