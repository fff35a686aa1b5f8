package upload

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// detectFileType classifies an upload from the first bytes of chunk 0,
// falling back to the file extension when the content is not recognized.
func detectFileType(head []byte, fileName string) metadata.FileType {
	if len(head) > 0 {
		if mt := mimetype.Detect(head); mt.String() != "application/octet-stream" {
			if ft, ok := fileTypeOf(mt.String()); ok {
				return ft
			}
		}
	}

	if ext := filepath.Ext(fileName); ext != "" {
		if ft, ok := fileTypeOf(mime.TypeByExtension(strings.ToLower(ext))); ok {
			return ft
		}
	}
	return metadata.FileTypeDocument
}

func fileTypeOf(mimeType string) (metadata.FileType, bool) {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return metadata.FileTypeVideo, true
	case strings.HasPrefix(mimeType, "image/"):
		return metadata.FileTypeImage, true
	case strings.HasPrefix(mimeType, "audio/"):
		return metadata.FileTypeAudio, true
	case mimeType == "":
		return "", false
	default:
		return metadata.FileTypeDocument, true
	}
}
