package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("should create the file and directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "subdir", "test.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("should reject a zero size", func(t *testing.T) {
		_, err := NewRotatingWriter(filepath.Join(t.TempDir(), "test.log"), 0, 7, false)
		assert.Error(t, err)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	rw, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	data := []byte("test log message\n")
	n, err := rw.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "test log message\n", string(content))
}

func TestRotatingWriterRotation(t *testing.T) {
	t.Run("should rotate when a write would overflow", func(t *testing.T) {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "test.log")

		rw, err := NewRotatingWriter(logFile, 1, 7, false)
		require.NoError(t, err)
		rw.maxSize = 100

		first := []byte(strings.Repeat("a", 80))
		second := []byte(strings.Repeat("b", 80))
		_, err = rw.Write(first)
		require.NoError(t, err)
		_, err = rw.Write(second)
		require.NoError(t, err)
		require.NoError(t, rw.Close())

		rotated, err := filepath.Glob(logFile + ".*")
		require.NoError(t, err)
		require.Len(t, rotated, 1)

		old, err := os.ReadFile(rotated[0])
		require.NoError(t, err)
		assert.Equal(t, string(first), string(old))

		current, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, string(second), string(current))
	})

	t.Run("should compress rotated files", func(t *testing.T) {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "test.log")

		rw, err := NewRotatingWriter(logFile, 1, 7, true)
		require.NoError(t, err)
		rw.maxSize = 10

		for i := 0; i < 3; i++ {
			_, err := rw.Write([]byte(fmt.Sprintf("line-%02d\n", i)))
			require.NoError(t, err)
		}
		require.NoError(t, rw.Close())

		gz, err := filepath.Glob(logFile + ".*.gz")
		require.NoError(t, err)
		assert.Len(t, gz, 2)
	})

	t.Run("should serialize concurrent writers", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		rw, err := NewRotatingWriter(logFile, 1, 7, false)
		require.NoError(t, err)
		rw.maxSize = 256

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = rw.Write([]byte(fmt.Sprintf("writer-%02d\n", i)))
			}(i)
		}
		wg.Wait()
		require.NoError(t, rw.Close())

		files, err := filepath.Glob(logFile + "*")
		require.NoError(t, err)

		total := 0
		for _, f := range files {
			content, err := os.ReadFile(f)
			require.NoError(t, err)
			total += strings.Count(string(content), "writer-")
		}
		assert.Equal(t, 20, total)
	})
}

func TestRotatingWriterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "test.log"), 10, 7, false)
	require.NoError(t, err)

	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestCompressFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "test.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("test content"), 0644))

	require.NoError(t, compressFile(testFile))

	_, err := os.Stat(testFile + ".gz")
	assert.NoError(t, err)

	_, err = os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanup(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	oldFile := logFile + ".20200101-120000.000000000"
	recentFile := logFile + ".20990101-120000.000000000"
	require.NoError(t, os.WriteFile(oldFile, []byte("old log"), 0644))
	require.NoError(t, os.WriteFile(recentFile, []byte("recent log"), 0644))

	oldTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer rw.Close()

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(recentFile)
	assert.NoError(t, err)
}
