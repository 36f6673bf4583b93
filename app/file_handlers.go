package huddle

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/huddlenet/huddle/pkg/router"
	"github.com/huddlenet/huddle/proto"
)

const maxUploadSize = 32 << 20 // 32 MiB

type FileHandler struct {
	dir string
}

func NewFileHandler(dir string) *FileHandler {
	return &FileHandler{dir: dir}
}

// UploadHandler stores a multipart upload under a generated name and
// returns the attachment descriptor clients put on file messages.
func (h *FileHandler) UploadHandler(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return router.BadRequest("invalid multipart form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return router.BadRequest("missing file field")
	}
	defer file.Close()

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("MkdirAll: %w", err)
	}

	ext := filepath.Ext(header.Filename)
	name := uuid.NewString() + ext

	dst, err := os.Create(filepath.Join(h.dir, name))
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return fmt.Errorf("Copy: %w", err)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}

	out := proto.File{
		URL:      "/uploads/" + name,
		Filename: header.Filename,
		Category: fileCategory(mimeType),
		MimeType: mimeType,
	}

	w.WriteHeader(http.StatusCreated)
	return json.NewEncoder(w).Encode(out)
}

func fileCategory(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "file"
	}
}
