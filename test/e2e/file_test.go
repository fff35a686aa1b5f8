//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenameFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		fileKey := tc.Upload("old.txt", []byte("content"), 1024)

		resp := tc.Patch("/file/rename/"+tc.Folder+"/"+fileKey, `{"fileName":"new.txt"}`, owner)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		file, err := tc.Registry.MetadataStore().GetFileByKey(context.Background(), fileKey)
		require.NoError(t, err)
		assert.Equal(t, "new.txt", file.Name)

		resp = tc.Patch("/file/rename/"+tc.Folder+"/"+fileKey, `{"fileName":"x.txt"}`, viewer)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestMoveFileBetweenFolders(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		data := []byte("moving content")
		fileKey := tc.Upload("doc.txt", data, 4)

		resp := tc.Patch("/file/move/"+tc.Folder+"/"+fileKey+"?targetKey="+tc.Archive, "", owner)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// the old folder no longer resolves the file
		status, _ := tc.Download(fileKey, owner)
		assert.Equal(t, http.StatusNotFound, status)

		resp = tc.Do(http.MethodGet, "/file/download/"+tc.Archive+"/"+fileKey, nil, owner)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(data), readBody(t, resp))
	})
}

func TestDeleteFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		fileKey := tc.Upload("trash.bin", randomBytes(t, 10_000), 4096)
		file, err := tc.Registry.MetadataStore().GetFileByKey(context.Background(), fileKey)
		require.NoError(t, err)

		resp := tc.Do(http.MethodDelete, "/file/"+tc.Folder+"/"+fileKey, nil, viewer)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = tc.Do(http.MethodDelete, "/file/"+tc.Folder+"/"+fileKey, nil, owner)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		status, _ := tc.Download(fileKey, owner)
		assert.Equal(t, http.StatusNotFound, status)

		_, err = tc.Registry.BlobStore().Size(context.Background(), blob.Ref(file.BlobRef))
		assert.ErrorIs(t, err, blob.ErrBlobNotFound)
	})
}

// TestRestartKeepsFiles checks that files uploaded before a restart are
// still served by persistent store combinations.
func TestRestartKeepsFiles(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if !tc.Config.Persistent() {
			t.Skip("stores do not persist across restarts")
		}

		data := randomBytes(t, 200_000)
		fileKey := tc.Upload("durable.bin", data, 64*1024)

		tc.Restart()

		status, got := tc.Download(fileKey, owner)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, data, got)
	})
}
