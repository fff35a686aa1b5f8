package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)

	m.RecordRequestStart("/file/upload/{folderKey}")
	m.RecordRequest("/file/upload/{folderKey}", http.MethodPost, http.StatusPartialContent, 5*time.Millisecond)
	m.RecordRequest("/file/upload/{folderKey}", http.MethodPost, http.StatusCreated, 5*time.Millisecond)
	m.RecordRateLimited("/file/upload/{folderKey}")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/file/upload/{folderKey}", "POST", "206")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("/file/upload/{folderKey}")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("/file/upload/{folderKey}")))

	m.RecordRequestEnd("/file/upload/{folderKey}")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("/file/upload/{folderKey}")))
}

func TestUploadMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newUploadMetrics(reg)

	m.RecordSessionStarted()
	m.RecordChunk(100, false)
	m.RecordChunk(100, true)
	m.RecordChunk(50, false)
	m.RecordSessionFinished("completed", 150, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunksTotal.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunksTotal.WithLabelValues("true")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.chunkBytes))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsDone.WithLabelValues("completed")))
}

func TestStreamMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newStreamMetrics(reg)

	m.RecordStreamOpened("range", "")
	m.RecordStreamOpened("range", "720p")
	m.RecordBytesServed(42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.opened.WithLabelValues("range", "original")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.opened.WithLabelValues("range", "720p")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.bytesServed))
}

func TestS3Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newS3Metrics(reg)

	m.ObserveOperation("PutObject", 10*time.Millisecond, nil)
	m.ObserveOperation("PutObject", 10*time.Millisecond, errors.New("boom"))
	m.RecordBytes("write", 1024)
	m.RecordBytes("write", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("PutObject", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("PutObject", "error")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("write")))
}

func TestGCMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newGCMetrics(reg)

	start := time.Now()
	m.RecordRun(&gc.Stats{StartTime: start, EndTime: start.Add(time.Second), OrphanedCount: 3, DeletedCount: 2, FailedCount: 1}, nil)
	m.RecordRun(nil, errors.New("list failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.orphans))
}

func TestConstructorsDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("global registry already initialized")
	}
	assert.Nil(t, NewUploadMetrics())
	assert.Nil(t, NewStreamMetrics())
	assert.Nil(t, NewS3Metrics())
	assert.Nil(t, NewGCMetrics())
	assert.Equal(t, NewNoopHTTPMetrics(), NewHTTPMetrics())
}

func TestServerIndex(t *testing.T) {
	h := newHandler(9191)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ":9191/metrics")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerDefaults(t *testing.T) {
	s := NewServer(ServerConfig{})
	assert.Equal(t, 9090, s.Port())
}
