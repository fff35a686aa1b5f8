package rest

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/fileerr"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// fileInFolder authorizes role on {fileKey} and checks the file sits
// directly under {folderKey}. A file outside the named folder is reported
// as NotFound so a route cannot probe keys it did not list.
func (a *RESTAdapter) fileInFolder(r *http.Request, role metadata.Role) (*metadata.File, error) {
	folderKey, err := keyVar(r, "folderKey")
	if err != nil {
		return nil, err
	}
	fileKey, err := keyVar(r, "fileKey")
	if err != nil {
		return nil, err
	}

	file, err := a.registry.Access().RequireFile(r.Context(), memberFrom(r.Context()), fileKey, role)
	if err != nil {
		return nil, err
	}
	if file.ParentKey != folderKey {
		return nil, fileerr.New(fileerr.NotFound, "resolve file", "file not found in folder")
	}
	return file, nil
}

func (a *RESTAdapter) handleDelete(w http.ResponseWriter, r *http.Request) {
	file, err := a.fileInFolder(r, metadata.RoleDelete)
	if err != nil {
		writeError(w, r, err)
		return
	}

	removed, err := a.registry.MetadataStore().DeleteFile(r.Context(), file.Key)
	if err != nil {
		writeError(w, r, fileerr.FromStore("delete file", err))
		return
	}

	// The record is gone, so the content is unreachable. A failed delete
	// leaves an orphan for the collector.
	for _, ref := range removed.BlobRefs() {
		if err := a.registry.BlobStore().Delete(r.Context(), ref); err != nil {
			logger.Warn("Failed to delete blob %s of file %s: %v", ref, removed.Key, err)
		}
	}

	logger.Info("File deleted: key=%s member=%d", removed.Key, memberFrom(r.Context()))
	writeText(w, r, http.StatusOK, "File deleted")
}

type renameRequest struct {
	FileName string `json:"fileName"`
}

func (a *RESTAdapter) handleRename(w http.ResponseWriter, r *http.Request) {
	file, err := a.fileInFolder(r, metadata.RoleUpdate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req renameRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, fileerr.New(fileerr.InvalidArgument, "rename file", "body must be JSON {\"fileName\": ...}"))
		return
	}
	if err := a.rename(r, file.Key, req.FileName); err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, r, http.StatusOK, "File renamed")
}

func (a *RESTAdapter) handleMove(w http.ResponseWriter, r *http.Request) {
	folderKey, err := keyVar(r, "folderKey")
	if err != nil {
		writeError(w, r, err)
		return
	}
	fileKey, err := keyVar(r, "fileKey")
	if err != nil {
		writeError(w, r, err)
		return
	}
	targetKey, err := parseKey("targetKey", r.URL.Query().Get("targetKey"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := a.registry.Access().AuthorizeMove(r.Context(), memberFrom(r.Context()), fileKey, targetKey); err != nil {
		writeError(w, r, err)
		return
	}

	file, err := a.registry.MetadataStore().GetFileByKey(r.Context(), fileKey)
	if err != nil {
		writeError(w, r, fileerr.FromStore("move file", err))
		return
	}
	if file.ParentKey != folderKey {
		writeError(w, r, fileerr.New(fileerr.NotFound, "move file", "file not found in folder"))
		return
	}

	if err := a.move(r, fileKey, targetKey); err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, r, http.StatusOK, "File moved")
}

// FileNameData is the payload of a /file/name reply.
type FileNameData struct {
	FileKey  string            `json:"fileKey"`
	FileName string            `json:"fileName"`
	Type     metadata.FileType `json:"type"`
}

func (a *RESTAdapter) handleUpdateName(w http.ResponseWriter, r *http.Request) {
	fileKey, err := keyVar(r, "fileKey")
	if err != nil {
		writeError(w, r, err)
		return
	}

	file, err := a.registry.Access().RequireFile(r.Context(), memberFrom(r.Context()), fileKey, metadata.RoleUpdate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := r.URL.Query().Get("file_name")
	if err := a.rename(r, fileKey, name); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, CustomResponse{
		Status:  http.StatusOK,
		Message: "File name updated",
		Data:    FileNameData{FileKey: file.Key, FileName: name, Type: file.Type},
	})
}

// ParentData is the payload of a /file/parent reply.
type ParentData struct {
	Success bool `json:"success"`
}

func (a *RESTAdapter) handleUpdateParent(w http.ResponseWriter, r *http.Request) {
	fileKey, err := keyVar(r, "fileKey")
	if err != nil {
		writeError(w, r, err)
		return
	}
	parentKey, err := parseKey("parent_key", r.URL.Query().Get("parent_key"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	member := memberFrom(r.Context())
	access := a.registry.Access()
	if err := access.Require(r.Context(), member, fileKey, metadata.RoleUpdate); err != nil {
		writeError(w, r, err)
		return
	}
	allowed, err := access.Authorize(r.Context(), member, parentKey, metadata.RoleUpdate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, r, fileerr.New(fileerr.Forbidden, "update parent", "No permission to update parent"))
		return
	}

	if err := a.move(r, fileKey, parentKey); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, CustomResponse{
		Status:  http.StatusOK,
		Message: "File parent updated",
		Data:    ParentData{Success: true},
	})
}

func (a *RESTAdapter) rename(r *http.Request, fileKey, name string) error {
	if err := metadata.ValidateName(name); err != nil {
		return fileerr.FromStore("rename file", err)
	}
	if err := a.registry.MetadataStore().UpdateFileName(r.Context(), fileKey, name); err != nil {
		return fileerr.FromStore("rename file", err)
	}
	logger.Info("File renamed: key=%s member=%d", fileKey, memberFrom(r.Context()))
	return nil
}

func (a *RESTAdapter) move(r *http.Request, fileKey, parentKey string) error {
	if err := a.registry.MetadataStore().UpdateFileParent(r.Context(), fileKey, parentKey); err != nil {
		return fileerr.FromStore("move file", err)
	}
	logger.Info("File moved: key=%s parent=%s member=%d", fileKey, parentKey, memberFrom(r.Context()))
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (a *RESTAdapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.Healthcheck(r.Context()); err != nil {
		logger.Warn("Healthcheck failed: %v", err)
		writeJSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Error: "store unavailable"})
		return
	}
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok"})
}
