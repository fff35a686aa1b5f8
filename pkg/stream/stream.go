// Package stream serves bounded byte ranges of stored files.
//
// A range request names a start offset and optionally a resolution
// variant; the server answers with at most one window of bytes starting
// there, which is what a video player expects when it seeks. Committed
// blobs are immutable, so streams need no locking and never interfere.
package stream

import (
	"context"
	"io"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/fileerr"
	"github.com/marmos91/dittodrive/pkg/store/blob"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// DefaultWindow is the largest range served for one request.
const DefaultWindow int64 = 1_000_000

// Config controls range sizing.
type Config struct {
	// ChunkWindow caps the bytes served per range request (default: 1MB)
	ChunkWindow int64 `mapstructure:"chunk_window"`
}

// Request describes one range read.
type Request struct {
	FileKey string

	// Start is the first byte to serve
	Start int64

	// End is the last byte to serve (inclusive). Negative means "one window
	// from Start". A value past the window is clamped to it.
	End int64

	// Resolution selects a variant; empty selects the original
	Resolution string
}

// Stream is an open range of a file.
//
// Body is lazy and can be read once. The caller must Close it on every
// path, including when the response is never written.
type Stream struct {
	Body      io.ReadCloser
	File      *metadata.File
	Start     int64
	End       int64
	TotalSize int64
}

// Length is the number of bytes Body yields.
func (s *Stream) Length() int64 {
	return s.End - s.Start + 1
}

// Server opens streams.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	metadata metadata.Store
	blobs    blob.Store
	window   int64
	metrics  Metrics
}

// NewServer creates a stream server. metrics may be nil.
func NewServer(store metadata.Store, blobs blob.Store, config Config, metrics Metrics) *Server {
	window := config.ChunkWindow
	if window <= 0 {
		window = DefaultWindow
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Server{metadata: store, blobs: blobs, window: window, metrics: metrics}
}

// OpenStream opens at most one window of fileKey starting at start.
func (s *Server) OpenStream(ctx context.Context, fileKey string, start int64, resolution string) (*Stream, error) {
	return s.Open(ctx, Request{FileKey: fileKey, Start: start, End: -1, Resolution: resolution})
}

// Open serves a range request.
//
// Errors:
//   - NotFound: unknown file, a folder, or missing content
//   - InvalidResolution: the file has no such variant
//   - RangeNotSatisfiable: Start outside [0, size) or End before Start
//   - StorageError: backend failure
func (s *Server) Open(ctx context.Context, req Request) (*Stream, error) {
	file, ref, err := s.resolve(ctx, "open stream", req.FileKey, req.Resolution)
	if err != nil {
		return nil, err
	}

	total, err := s.blobs.Size(ctx, ref)
	if err != nil {
		return nil, fileerr.FromStore("open stream", err)
	}

	if req.Start < 0 || req.Start >= total {
		return nil, fileerr.New(fileerr.RangeNotSatisfiable, "open stream",
			"range start %d not satisfiable for size %d", req.Start, total)
	}
	end := min(req.Start+s.window, total-1)
	if req.End >= 0 {
		if req.End < req.Start {
			return nil, fileerr.New(fileerr.RangeNotSatisfiable, "open stream",
				"range end %d before start %d", req.End, req.Start)
		}
		end = min(end, req.End)
	}

	body, err := s.blobs.OpenRange(ctx, ref, req.Start, end)
	if err != nil {
		return nil, fileerr.FromStore("open stream", err)
	}

	s.metrics.RecordStreamOpened("range", req.Resolution)
	logger.Debug("Stream opened: file=%s resolution=%q bytes=%d-%d/%d", req.FileKey, req.Resolution, req.Start, end, total)

	return &Stream{
		Body:      s.count(body),
		File:      file,
		Start:     req.Start,
		End:       end,
		TotalSize: total,
	}, nil
}

// OpenFullStream opens the whole original content of fileKey. An empty
// file yields an empty body with End = -1.
func (s *Server) OpenFullStream(ctx context.Context, fileKey string) (*Stream, error) {
	file, ref, err := s.resolve(ctx, "open download", fileKey, "")
	if err != nil {
		return nil, err
	}

	total, err := s.blobs.Size(ctx, ref)
	if err != nil {
		return nil, fileerr.FromStore("open download", err)
	}

	s.metrics.RecordStreamOpened("full", "")
	if total == 0 {
		return &Stream{Body: io.NopCloser(emptyReader{}), File: file, Start: 0, End: -1}, nil
	}

	body, err := s.blobs.OpenRange(ctx, ref, 0, total-1)
	if err != nil {
		return nil, fileerr.FromStore("open download", err)
	}
	return &Stream{
		Body:      s.count(body),
		File:      file,
		Start:     0,
		End:       total - 1,
		TotalSize: total,
	}, nil
}

// resolve loads the file and picks the blob for resolution.
func (s *Server) resolve(ctx context.Context, op, fileKey, resolution string) (*metadata.File, blob.Ref, error) {
	file, err := s.metadata.GetFileByKey(ctx, fileKey)
	if err != nil {
		return nil, "", fileerr.FromStore(op, err)
	}
	if file.IsFolder() || file.BlobRef == "" {
		return nil, "", fileerr.New(fileerr.NotFound, op, "file has no content")
	}

	if resolution == "" {
		return file, file.BlobRef, nil
	}
	ref, ok := file.Variants[resolution]
	if !ok {
		return nil, "", fileerr.New(fileerr.InvalidResolution, op, "resolution %q not available", resolution)
	}
	return file, ref, nil
}

func (s *Server) count(body io.ReadCloser) io.ReadCloser {
	return &countingReadCloser{ReadCloser: body, metrics: s.metrics}
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
