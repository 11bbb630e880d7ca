package handler

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/attachment"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/service"
)

// multipartMemory: часть формы, которая держится в памяти; остальное уходит во временные файлы.
const multipartMemory = 8 << 20

type MessageHandler struct {
	svc           *service.MessagingService
	maxUploadSize int64
}

func NewMessageHandler(svc *service.MessagingService, maxUploadSize int64) *MessageHandler {
	return &MessageHandler{svc: svc, maxUploadSize: maxUploadSize}
}

// SendMessageRequest: JSON-форма отправки; файлы идут multipart-формой с теми же полями и частью "file".
type SendMessageRequest struct {
	ContentType string `json:"content_type" validate:"required,max=32"`
	Content     string `json:"content" validate:"max=4000"`
	Duration    int    `json:"duration" validate:"gte=0"`
}

func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	msgs, err := h.svc.GetMessages(r.Context(), id, chi.URLParam(r, "chatID"), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	in, err := h.readSendInput(w, r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	in.ChatID = chi.URLParam(r, "chatID")
	msg, err := h.svc.SendMessage(r.Context(), id, in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	msg, err := h.svc.MarkMessageRead(r.Context(), id, chi.URLParam(r, "messageID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteMessage(r.Context(), id, chi.URLParam(r, "messageID")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) readSendInput(w http.ResponseWriter, r *http.Request) (service.SendMessageInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req SendMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return service.SendMessageInput{}, err
		}
		return service.SendMessageInput{
			ContentType: model.ContentType(req.ContentType),
			Content:     req.Content,
			Duration:    req.Duration,
		}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.SendMessageInput{}, apperr.BadRequest("request body too large", err)
		}
		return service.SendMessageInput{}, apperr.BadRequest("invalid multipart form", err)
	}
	defer r.MultipartForm.RemoveAll()

	req := SendMessageRequest{
		ContentType: r.FormValue("content_type"),
		Content:     r.FormValue("content"),
	}
	if raw := strings.TrimSpace(r.FormValue("duration")); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return service.SendMessageInput{}, apperr.BadRequest("duration must be an integer", err)
		}
		req.Duration = d
	}
	if err := validateStruct(&req); err != nil {
		return service.SendMessageInput{}, err
	}
	in := service.SendMessageInput{
		ContentType: model.ContentType(req.ContentType),
		Content:     req.Content,
		Duration:    req.Duration,
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return service.SendMessageInput{}, apperr.BadRequest("invalid file part", err)
	}
	defer file.Close()
	upload, err := readUpload(file, header)
	if err != nil {
		return service.SendMessageInput{}, err
	}
	in.File = upload
	return in, nil
}

// readUpload читает на байт больше лимита: превышение ловит валидация, а не обрезка.
func readUpload(file multipart.File, header *multipart.FileHeader) (*attachment.Upload, error) {
	data, err := io.ReadAll(io.LimitReader(file, model.MaxFileSize+1))
	if err != nil {
		return nil, apperr.BadRequest("failed to read file", err)
	}
	return &attachment.Upload{
		Filename: header.Filename,
		MIME:     header.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}
