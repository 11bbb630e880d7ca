package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marketchat/internal/service"
)

type ChatHandler struct {
	svc *service.MessagingService
}

func NewChatHandler(svc *service.MessagingService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type CreateChatRequest struct {
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,max=50,dive,required,max=128"`
	ServiceID      *string  `json:"service_id" validate:"omitempty,max=128"`
}

type StartChatRequest struct {
	UserID    string  `json:"user_id" validate:"required,max=128"`
	ServiceID *string `json:"service_id" validate:"omitempty,max=128"`
}

func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	chat, err := h.svc.CreateChat(r.Context(), id, req.ParticipantIDs, req.ServiceID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *ChatHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req StartChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	chat, err := h.svc.StartChatWithUser(r.Context(), id, req.UserID, req.ServiceID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *ChatHandler) GetUserChats(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	chats, err := h.svc.ListUserChats(r.Context(), id, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	details, err := h.svc.GetChatDetails(r.Context(), id, chi.URLParam(r, "chatID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteChat(r.Context(), id, chi.URLParam(r, "chatID")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
