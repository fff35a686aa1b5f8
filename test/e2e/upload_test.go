//go:build e2e

package e2e

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/marmos91/dittodrive/pkg/adapter/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

// TestUploadAndDownload uploads a multi-chunk file and reads it back whole.
func TestUploadAndDownload(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		data := randomBytes(t, 3*1024*1024+17)
		fileKey := tc.Upload("movie.mp4", data, 1024*1024)

		status, got := tc.Download(fileKey, owner)
		require.Equal(t, http.StatusOK, status)
		assert.True(t, bytes.Equal(data, got), "downloaded content differs")
	})
}

// TestUploadOutOfOrder sends the last chunk first.
func TestUploadOutOfOrder(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		chunks := [][]byte{randomBytes(t, 4096), randomBytes(t, 4096), randomBytes(t, 100)}

		var last *http.Response
		for _, idx := range []int{2, 0, 1} {
			last = tc.UploadChunk(tc.Folder, "shuffled.bin", idx, len(chunks), chunks[idx], owner)
		}
		require.Equal(t, http.StatusCreated, last.StatusCode)

		var out rest.UploadResponse
		require.NoError(t, json.NewDecoder(last.Body).Decode(&out))

		status, got := tc.Download(out.FileKey, owner)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, bytes.Join(chunks, nil), got)
	})
}

// TestConcurrentUploads runs independent sessions in parallel.
func TestConcurrentUploads(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		const files = 8
		payloads := make([][]byte, files)
		for i := range payloads {
			payloads[i] = randomBytes(t, 64*1024+i)
		}

		keys := make([]string, files)
		var wg sync.WaitGroup
		for i := 0; i < files; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				keys[i] = tc.Upload(string(rune('a'+i))+".bin", payloads[i], 16*1024)
			}(i)
		}
		wg.Wait()

		for i, key := range keys {
			status, got := tc.Download(key, owner)
			require.Equal(t, http.StatusOK, status)
			assert.True(t, bytes.Equal(payloads[i], got), "file %d differs", i)
		}
	})
}

// TestUploadPermissions checks that read-only members cannot upload and
// that a new file is visible only to its uploader.
func TestUploadPermissions(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		resp := tc.UploadChunk(tc.Folder, "nope.txt", 0, 1, []byte("x"), viewer)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = tc.UploadChunk(tc.Folder, "anon.txt", 0, 1, []byte("x"), 0)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		fileKey := tc.Upload("private.txt", []byte("secret"), 1024)
		status, _ := tc.Download(fileKey, viewer)
		assert.Equal(t, http.StatusForbidden, status)
	})
}
