package rest

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/fileerr"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/stream"
)

// StreamContentType is sent with every ranged stream reply.
const StreamContentType = "video/mp4"

func (a *RESTAdapter) handleDownload(w http.ResponseWriter, r *http.Request) {
	file, err := a.fileInFolder(r, metadata.RoleRead)
	if err != nil {
		writeError(w, r, err)
		return
	}

	st, err := a.registry.Streams().OpenFullStream(r.Context(), file.Key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer st.Body.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.FormatInt(st.TotalSize, 10))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, st.Body); err != nil {
		logger.Debug("Download of %s interrupted: %v", file.Key, err)
	}
}

func (a *RESTAdapter) handleStream(w http.ResponseWriter, r *http.Request) {
	file, err := a.fileInFolder(r, metadata.RoleRead)
	if err != nil {
		writeError(w, r, err)
		return
	}

	start, end, err := requestedRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	st, err := a.registry.Streams().Open(r.Context(), stream.Request{
		FileKey:    file.Key,
		Start:      start,
		End:        end,
		Resolution: r.URL.Query().Get("resolution"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer st.Body.Close()

	h := w.Header()
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", st.Start, st.End, st.TotalSize))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(st.Length(), 10))
	h.Set("Content-Type", StreamContentType)
	w.WriteHeader(http.StatusPartialContent)

	if _, err := io.Copy(w, st.Body); err != nil {
		logger.Debug("Stream of %s interrupted: %v", file.Key, err)
	}
}

// requestedRange reads the start and optional end offset from the Range
// header, falling back to the range query parameter. End is -1 when open.
func requestedRange(r *http.Request) (int64, int64, error) {
	if header := r.Header.Get("Range"); header != "" {
		return parseRange(header)
	}
	if query := r.URL.Query().Get("range"); query != "" {
		if strings.HasPrefix(query, "bytes=") {
			return parseRange(query)
		}
		start, err := strconv.ParseInt(query, 10, 64)
		if err != nil {
			return 0, 0, fileerr.New(fileerr.InvalidArgument, "parse range", "range must be an offset or bytes=N-[M]")
		}
		return start, -1, nil
	}
	return 0, -1, nil
}

// parseRange accepts a single "bytes=N-" or "bytes=N-M". Suffix and
// multi-part ranges are not supported.
func parseRange(value string) (int64, int64, error) {
	const op = "parse range"

	byteRange, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes=")
	if !ok {
		return 0, 0, fileerr.New(fileerr.InvalidArgument, op, "unsupported range unit")
	}
	if strings.Contains(byteRange, ",") {
		return 0, 0, fileerr.New(fileerr.RangeNotSatisfiable, op, "multiple ranges are not supported")
	}

	first, last, ok := strings.Cut(byteRange, "-")
	if !ok {
		return 0, 0, fileerr.New(fileerr.InvalidArgument, op, "malformed range %q", value)
	}
	if first == "" {
		return 0, 0, fileerr.New(fileerr.RangeNotSatisfiable, op, "suffix ranges are not supported")
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, fileerr.New(fileerr.InvalidArgument, op, "malformed range %q", value)
	}
	if last == "" {
		return start, -1, nil
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < 0 {
		return 0, 0, fileerr.New(fileerr.InvalidArgument, op, "malformed range %q", value)
	}
	return start, end, nil
}
