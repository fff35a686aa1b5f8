//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/adapter/rest"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/registry"
	"github.com/marmos91/dittodrive/pkg/server"
	"github.com/marmos91/dittodrive/pkg/upload"
	"github.com/stretchr/testify/require"
)

const (
	owner  int64 = 1
	viewer int64 = 2
)

// TestContext is a running DittoDrive instance wired exactly like the
// binary: stores from config, bootstrap folders, REST adapter and the
// upload sweeper.
type TestContext struct {
	T        *testing.T
	Config   *TestConfig
	Drive    *config.Config
	Registry *registry.Registry
	BaseURL  string

	// Folder is the bootstrap folder owner can write to and viewer can read
	Folder string

	// Archive is a second folder only owner can use
	Archive string

	client *http.Client
	cancel context.CancelFunc
	done   chan error
}

// NewTestContext starts a server for tc. It is stopped at test cleanup.
func NewTestContext(t *testing.T, tc *TestConfig) *TestContext {
	t.Helper()

	// functional tests, not debugging sessions
	logger.SetLevel("ERROR")

	cfg := config.GetDefaultConfig()
	tc.apply(t, cfg, t.TempDir())
	cfg.Adapters.REST.Port = 0
	cfg.Stream.ChunkWindow = 1 << 16
	allRoles := []string{"create", "read", "update", "delete"}
	cfg.Bootstrap.Folders = []config.FolderConfig{
		{
			Key:  uuid.NewString(),
			Name: "e2e",
			Grants: []config.GrantConfig{
				{MemberID: owner, Roles: allRoles},
				{MemberID: viewer, Roles: []string{"read"}},
			},
		},
		{
			Key:    uuid.NewString(),
			Name:   "archive",
			Grants: []config.GrantConfig{{MemberID: owner, Roles: allRoles}},
		},
	}

	ctx := &TestContext{
		T:       t,
		Config:  tc,
		Drive:   cfg,
		Folder:  cfg.Bootstrap.Folders[0].Key,
		Archive: cfg.Bootstrap.Folders[1].Key,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	ctx.start()
	t.Cleanup(ctx.stop)
	return ctx
}

func (tc *TestContext) start() {
	tc.T.Helper()
	ctx := context.Background()

	metadataStore, err := config.CreateMetadataStore(ctx, &tc.Drive.Metadata)
	require.NoError(tc.T, err)
	blobStore, err := config.CreateBlobStore(ctx, &tc.Drive.Blob, nil)
	require.NoError(tc.T, err)

	tc.Registry, err = config.InitializeRegistry(ctx, tc.Drive, metadataStore, blobStore, nil)
	require.NoError(tc.T, err)

	srv := server.New(tc.Registry, 5*time.Second)
	adapters, err := config.CreateAdapters(tc.Drive, nil)
	require.NoError(tc.T, err)
	for _, a := range adapters {
		require.NoError(tc.T, srv.AddAdapter(a))
	}
	srv.AddWorker(upload.NewSweeper(tc.Registry.Uploads()))

	serveCtx, cancel := context.WithCancel(ctx)
	tc.cancel = cancel
	tc.done = make(chan error, 1)
	go func() {
		tc.done <- srv.Serve(serveCtx)
	}()

	require.Eventually(tc.T, func() bool { return adapters[0].Port() != 0 }, 10*time.Second, 10*time.Millisecond,
		"REST adapter did not start")
	tc.BaseURL = fmt.Sprintf("http://127.0.0.1:%d", adapters[0].Port())
}

func (tc *TestContext) stop() {
	if tc.cancel == nil {
		return
	}
	tc.cancel()
	tc.cancel = nil

	if err := <-tc.done; err != nil && !errors.Is(err, context.Canceled) {
		tc.T.Errorf("server stopped with error: %v", err)
	}
	if err := tc.Registry.Close(); err != nil {
		tc.T.Errorf("failed to close stores: %v", err)
	}
}

// Restart stops the server and starts a new one on the same stores.
func (tc *TestContext) Restart() {
	tc.T.Helper()
	tc.stop()
	tc.start()
}

// Do sends a request as member. A zero member sends no identity.
func (tc *TestContext) Do(method, path string, body io.Reader, member int64, headers ...string) *http.Response {
	tc.T.Helper()

	req, err := http.NewRequest(method, tc.BaseURL+path, body)
	require.NoError(tc.T, err)
	if member != 0 {
		req.Header.Set(rest.MemberHeader, fmt.Sprint(member))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := tc.client.Do(req)
	require.NoError(tc.T, err)
	tc.T.Cleanup(func() { resp.Body.Close() })
	return resp
}

// UploadChunk sends one chunk of fileName to folder. fields adds form
// fields as name/value pairs.
func (tc *TestContext) UploadChunk(folder, fileName string, index, total int, payload []byte, member int64, fields ...string) *http.Response {
	tc.T.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(tc.T, mw.WriteField("fileName", fileName))
	require.NoError(tc.T, mw.WriteField("totalChunks", fmt.Sprint(total)))
	require.NoError(tc.T, mw.WriteField("chunkNumber", fmt.Sprint(index)))
	for i := 0; i+1 < len(fields); i += 2 {
		require.NoError(tc.T, mw.WriteField(fields[i], fields[i+1]))
	}
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(tc.T, err)
	_, err = part.Write(payload)
	require.NoError(tc.T, err)
	require.NoError(tc.T, mw.Close())

	return tc.Do(http.MethodPost, "/file/upload/"+folder, &body, member, "Content-Type", mw.FormDataContentType())
}

// Upload sends data in chunkSize pieces, in order, and returns the file key.
func (tc *TestContext) Upload(fileName string, data []byte, chunkSize int) string {
	tc.T.Helper()

	total := (len(data) + chunkSize - 1) / chunkSize
	var resp *http.Response
	for i := 0; i < total; i++ {
		end := min((i+1)*chunkSize, len(data))
		resp = tc.UploadChunk(tc.Folder, fileName, i, total, data[i*chunkSize:end], owner)
	}
	if resp.StatusCode != http.StatusCreated {
		require.FailNow(tc.T, "upload not completed", "status %d: %s", resp.StatusCode, readBody(tc.T, resp))
	}

	var out rest.UploadResponse
	require.NoError(tc.T, json.NewDecoder(resp.Body).Decode(&out))
	require.True(tc.T, out.Done)
	return out.FileKey
}

// Download fetches a whole file as member.
func (tc *TestContext) Download(fileKey string, member int64) (int, []byte) {
	tc.T.Helper()
	resp := tc.Do(http.MethodGet, "/file/download/"+tc.Folder+"/"+fileKey, nil, member)
	data, err := io.ReadAll(resp.Body)
	require.NoError(tc.T, err)
	return resp.StatusCode, data
}

// Patch sends a JSON body with PATCH.
func (tc *TestContext) Patch(path, jsonBody string, member int64) *http.Response {
	tc.T.Helper()
	return tc.Do(http.MethodPatch, path, strings.NewReader(jsonBody), member, "Content-Type", "application/json")
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// runOnAllConfigs runs fn against every store combination, S3 ones
// included when an endpoint is configured.
func runOnAllConfigs(t *testing.T, fn func(t *testing.T, tc *TestContext)) {
	t.Helper()
	for _, cfg := range append(AllConfigurations(), S3Configurations()...) {
		t.Run(cfg.Name, func(t *testing.T) {
			fn(t, NewTestContext(t, cfg))
		})
	}
}
