package storage

import (
	"bytes"
	"context"
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
	key := "test-file.txt"
	content := []byte("Test content")

	err := objectStore.PutObject(context.Background(), bucket, key, bytes.NewReader(content))
	require.NoError(t, err)

	filePath := filepath.Join(baseDir, bucket, key)
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalObjectStore_GetObject(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	bucket := "test-bucket"
	key := "dir/test-file.txt"
	content := []byte("Test content")

	require.NoError(t, objectStore.PutObject(context.Background(), bucket, key, bytes.NewReader(content)))

	data, err := objectStore.GetObject(context.Background(), bucket, key)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = objectStore.GetObject(context.Background(), bucket, "missing.txt")
	assert.Error(t, err)
}

func TestLocalObjectStore_ListObjects(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	bucket := "test-bucket"
	files := []string{"models/a/weights.bin", "models/a/tokenizer.json", "models/b/weights.bin"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(context.Background(), bucket, file, bytes.NewReader([]byte("content"))))
	}

	objects, err := objectStore.ListObjects(context.Background(), bucket, "models/a/")
	require.NoError(t, err)

	var names []string
	for _, obj := range objects {
		names = append(names, obj.Name)
	}
	assert.ElementsMatch(t, []string{"models/a/weights.bin", "models/a/tokenizer.json"}, names)
}

func TestLocalObjectStore_DeleteObjects(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	prefix := "test-dir"

	files := []string{"test-dir/file1.txt", "test-dir/file2.txt", "other-dir/file3.txt"}
	for _, file := range files {
		filePath := filepath.Join(baseDir, bucket, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), os.ModePerm))
		require.NoError(t, os.WriteFile(filePath, []byte("content"), os.ModePerm))
	}

	err := objectStore.DeleteObjects(context.Background(), bucket, prefix)
	require.NoError(t, err)

	for _, file := range []string{"test-dir/file1.txt", "test-dir/file2.txt"} {
		filePath := filepath.Join(baseDir, bucket, file)
		_, err := os.Stat(filePath)
		assert.True(t, os.IsNotExist(err), "File %s should not exist", file)
	}

	otherFilePath := filepath.Join(baseDir, bucket, "other-dir/file3.txt")
	_, err = os.Stat(otherFilePath)
	assert.NoError(t, err, "File outside prefix should still exist")
}

func TestLocalObjectStore_UploadDir(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	prefix := "uploaded"
	srcDir := t.TempDir()

	files := []string{"file1.txt", "file2.txt", "subdir/file3.txt"}
	for _, file := range files {
		filePath := filepath.Join(srcDir, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), os.ModePerm))
		require.NoError(t, os.WriteFile(filePath, []byte("content"), os.ModePerm))
	}

	err := objectStore.UploadDir(context.Background(), bucket, prefix, srcDir)
	require.NoError(t, err)

	for _, file := range files {
		uploadedPath := filepath.Join(baseDir, bucket, prefix, file)
		data, err := os.ReadFile(uploadedPath)
		require.NoError(t, err)
		assert.Equal(t, "content", string(data))
	}
}

func TestLocalObjectStore_DownloadDir(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	prefix := "to-download"
	destDir := filepath.Join(t.TempDir(), "download-target")

	files := []string{"file1.txt", "file2.txt", "subdir/file3.txt"}
	for _, file := range files {
		filePath := filepath.Join(baseDir, bucket, prefix, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), os.ModePerm))
		require.NoError(t, os.WriteFile(filePath, []byte("content"), os.ModePerm))
	}

	err := objectStore.DownloadDir(context.Background(), bucket, prefix, destDir, false)
	require.NoError(t, err)

	for _, file := range files {
		downloadedPath := filepath.Join(destDir, file)
		data, err := os.ReadFile(downloadedPath)
		require.NoError(t, err)
		assert.Equal(t, "content", string(data))
	}
}

func TestLocalObjectStore_DownloadDir_Overwrite(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	prefix := "to-download"
	destDir := t.TempDir()

	destFile := filepath.Join(destDir, "file1.txt")
	require.NoError(t, os.WriteFile(destFile, []byte("original"), os.ModePerm))

	files := []string{"file1.txt", "file2.txt"}
	for _, file := range files {
		filePath := filepath.Join(baseDir, bucket, prefix, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), os.ModePerm))
		require.NoError(t, os.WriteFile(filePath, []byte("new"), os.ModePerm))
	}

	err := objectStore.DownloadDir(context.Background(), bucket, prefix, destDir, false)
	require.Error(t, err)
	data, err := os.ReadFile(destFile)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data), "File should not be overwritten when overwrite=false")

	err = objectStore.DownloadDir(context.Background(), bucket, prefix, destDir, true)
	require.NoError(t, err)
	data, err = os.ReadFile(destFile)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data), "File should be overwritten when overwrite=true")
}
