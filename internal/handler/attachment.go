package handler

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marketchat/internal/attachment"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/service"
)

// AttachmentHandler отдаёт сохранённые вложения участникам чата.
type AttachmentHandler struct {
	svc   *service.MessagingService
	files attachment.Opener
}

func NewAttachmentHandler(svc *service.MessagingService, files attachment.Opener) *AttachmentHandler {
	return &AttachmentHandler{svc: svc, files: files}
}

// Serve отдаёт файл по относительному пути (chats/{chatID}/...); query name= задаёт оригинальное имя для Content-Disposition.
func (h *AttachmentHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	p := chi.URLParam(r, "*")
	if err := h.svc.AuthorizeAttachment(r.Context(), id, p); err != nil {
		writeAppError(w, r, err)
		return
	}
	rc, err := h.files.Open(r.Context(), p)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, attachment.ErrBadPath) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		logger.Errorf("attachment open %s: %v", p, err)
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", attachment.ContentTypeByExt(path.Ext(p)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if disp := contentDisposition(r.URL.Query().Get("name")); disp != "" {
		w.Header().Set("Content-Disposition", disp)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Errorf("attachment copy %s: %v", p, err)
	}
}

// contentDisposition: filename*=UTF-8 для кириллицы; legacy filename= только когда имя уже чистый ASCII.
func contentDisposition(name string) string {
	safe := attachment.SafeFilename(name)
	if safe == "" {
		return ""
	}
	disp := "attachment; filename*=UTF-8''" + url.PathEscape(safe)
	if ascii := asciiFallbackFilename(safe); ascii == safe {
		disp = "attachment; filename=\"" + ascii + "\"; " + disp
	}
	return disp
}

// asciiFallbackFilename заменяет пробелы и не-ASCII на подчёркивание.
func asciiFallbackFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
