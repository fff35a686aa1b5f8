package rest

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/marmos91/dittodrive/pkg/fileerr"
	"github.com/marmos91/dittodrive/pkg/upload"
)

// Multipart limits applied when the upload config leaves them at zero.
const (
	DefaultMaxChunkBytes int64 = 1 << 30  // 1GiB file part
	DefaultMaxFieldBytes int64 = 20 << 20 // 20MiB per text field
)

// chunkForm is the decoded multipart body of an upload request.
type chunkForm struct {
	fileName    string
	totalChunks int
	chunkNumber int
	payload     []byte

	// variantOf and resolution turn the upload into an encoding of an
	// existing file
	variantOf  string
	resolution string
}

func (a *RESTAdapter) handleUpload(w http.ResponseWriter, r *http.Request) {
	folderKey, err := keyVar(r, "folderKey")
	if err != nil {
		writeError(w, r, err)
		return
	}

	form, err := a.readChunkForm(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := a.registry.Uploads().SubmitChunk(r.Context(), upload.Chunk{
		MemberID:   memberFrom(r.Context()),
		FolderKey:  folderKey,
		FileName:   form.fileName,
		Index:      form.chunkNumber,
		Total:      form.totalChunks,
		Payload:    form.payload,
		VariantOf:  form.variantOf,
		Resolution: form.resolution,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if result.Done {
		writeJSON(w, r, http.StatusCreated, UploadResponse{Done: true, Message: "File uploaded", FileKey: result.FileKey})
		return
	}
	writeJSON(w, r, http.StatusPartialContent, UploadResponse{Done: false, Message: "Chunk uploaded"})
}

// readChunkForm streams the multipart body, enforcing the per-part limits
// before anything is buffered past them.
func (a *RESTAdapter) readChunkForm(r *http.Request) (*chunkForm, error) {
	const op = "read upload form"

	limits := a.registry.Uploads().Config()
	maxChunk := limits.MaxChunkBytes
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunkBytes
	}
	maxField := limits.MaxFieldBytes
	if maxField <= 0 {
		maxField = DefaultMaxFieldBytes
	}

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fileerr.New(fileerr.InvalidChunk, op, "multipart/form-data body required")
	}

	fields := make(map[string]string, 5)
	var payload []byte
	var sawFile bool

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fileerr.New(fileerr.InvalidChunk, op, "malformed multipart body")
		}

		name := part.FormName()
		switch {
		case name == "file":
			payload, err = readLimited(part, maxChunk)
			sawFile = true
		case part.FileName() == "":
			var value []byte
			value, err = readLimited(part, maxField)
			fields[name] = string(value)
		default:
			// unexpected file parts are drained, not stored
			_, err = io.Copy(io.Discard, io.LimitReader(part, maxField+1))
		}
		part.Close()
		if err != nil {
			return nil, fileerr.New(fileerr.InvalidChunk, op, "%s: %v", name, err)
		}
	}

	if !sawFile {
		return nil, fileerr.New(fileerr.InvalidChunk, op, "file part is required")
	}

	form := &chunkForm{fileName: fields["fileName"], payload: payload}
	if form.fileName == "" {
		return nil, fileerr.New(fileerr.InvalidArgument, op, "fileName is required")
	}
	if form.totalChunks, err = formInt(fields, "totalChunks"); err != nil {
		return nil, err
	}
	if form.chunkNumber, err = formInt(fields, "chunkNumber"); err != nil {
		return nil, err
	}
	if raw := fields["variantOf"]; raw != "" {
		if form.variantOf, err = parseKey("variantOf", raw); err != nil {
			return nil, err
		}
	}
	form.resolution = fields["resolution"]
	return form, nil
}

var errTooLarge = errors.New("part too large")

func readLimited(part *multipart.Part, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", errTooLarge, limit)
	}
	return data, nil
}

func formInt(fields map[string]string, name string) (int, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, fileerr.New(fileerr.InvalidChunk, "read upload form", "%s is required", name)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fileerr.New(fileerr.InvalidChunk, "read upload form", "%s must be an integer", name)
	}
	return n, nil
}
