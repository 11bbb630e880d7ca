package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/attachment"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/service"
	"github.com/marketchat/internal/storage/memory"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

type testAPI struct {
	t   *testing.T
	srv http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	files, err := attachment.NewLocal(t.TempDir())
	require.NoError(t, err)
	ids := memory.NewIdentities()
	ids.Put("t-alice", model.Identity{UserID: "alice", Role: model.RoleUser, IsActive: true})
	ids.Put("t-bob", model.Identity{UserID: "bob", Role: model.RoleUser, IsActive: true})
	ids.Put("t-carol", model.Identity{UserID: "carol", Role: model.RoleUser, IsActive: true})
	ids.Put("t-admin", model.Identity{UserID: "root", Role: model.RoleAdmin, IsActive: true})

	svc := service.NewMessagingService(memory.NewMessaging(files), files)
	return &testAPI{t: t, srv: NewRouter(RouterConfig{
		Service:       svc,
		Identities:    ids,
		Files:         files,
		MaxUploadSize: model.MaxFileSize + 1<<20,
		CORSOrigins:   "*",
		RatePerIP:     10000,
		RatePerUser:   10000,
	})}
}

func (a *testAPI) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.srv.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) json(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(raw)
	}
	return a.do(method, path, token, r, "application/json")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *testAPI) startChat(token, userID string) model.Chat {
	a.t.Helper()
	rec := a.json(http.MethodPost, "/api/chats/start", token, map[string]any{"user_id": userID})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Chat](a.t, rec)
}

func (a *testAPI) sendText(token, chatID, text string) model.Message {
	a.t.Helper()
	rec := a.json(http.MethodPost, "/api/chats/"+chatID+"/messages", token, map[string]any{"content_type": "text", "content": text})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Message](a.t, rec)
}

func multipartImage(t *testing.T, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("content_type", "image"))
	require.NoError(t, mw.WriteField("content", "  look  "))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="photo.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestUnauthorized(t *testing.T) {
	api := newTestAPI(t)
	for _, token := range []string{"", "t-unknown"} {
		rec := api.json(http.MethodGet, "/api/chats", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "UNAUTHORIZED", decode[errorResponse](t, rec).Code)
	}
}

func TestStartChatConflictCarriesChatID(t *testing.T) {
	api := newTestAPI(t)
	chat := api.startChat("t-alice", "bob")

	rec := api.json(http.MethodPost, "/api/chats", "t-bob", map[string]any{"participant_ids": []string{"alice"}})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, apperr.CodeConflict, body.Code)
	assert.Equal(t, chat.ID, body.ChatID)
}

func TestCreateChatValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.json(http.MethodPost, "/api/chats", "t-alice", map[string]any{"participant_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "participant_ids")

	rec = api.json(http.MethodPost, "/api/chats", "t-alice", map[string]any{"participant_ids": []string{"alice"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "only the caller is not a chat")

	rec = api.json(http.MethodPost, "/api/chats", "t-alice", map[string]any{"participants": []string{"bob"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = api.do(http.MethodPost, "/api/chats", "t-alice", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.json(http.MethodPost, "/api/chats", "t-alice", map[string]any{"participant_ids": []string{"bob", "carol"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestChatListAndDetails(t *testing.T) {
	api := newTestAPI(t)
	first := api.startChat("t-alice", "bob")
	second := api.startChat("t-alice", "carol")
	api.sendText("t-bob", first.ID, "hi alice")

	rec := api.json(http.MethodGet, "/api/chats?limit=10", "t-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]model.ChatWithPreview](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].Chat.ID, "chat with the newest message first")
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "hi alice", list[0].LastMessage.Content)
	assert.Equal(t, second.ID, list[1].Chat.ID)

	rec = api.json(http.MethodGet, "/api/chats/"+first.ID, "t-bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[model.ChatDetails](t, rec)
	assert.Len(t, details.Participants, 2)

	rec = api.json(http.MethodGet, "/api/chats/"+first.ID, "t-carol", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.json(http.MethodGet, "/api/chats/missing", "t-admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessagesFlow(t *testing.T) {
	api := newTestAPI(t)
	chat := api.startChat("t-alice", "bob")
	msg := api.sendText("t-alice", chat.ID, "  hello  ")
	assert.Equal(t, "hello", *msg.Content)
	assert.False(t, msg.IsRead)

	rec := api.json(http.MethodPost, "/api/chats/"+chat.ID+"/messages", "t-carol", map[string]any{"content_type": "text", "content": "intrude"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.json(http.MethodPost, "/api/chats/"+chat.ID+"/messages", "t-alice", map[string]any{"content_type": "image"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "image without a file")

	rec = api.json(http.MethodPost, "/api/chats/"+chat.ID+"/messages", "t-alice", map[string]any{"content": "no type"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.json(http.MethodPut, "/api/messages/"+msg.ID+"/read", "t-bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.Message](t, rec).IsRead)

	rec = api.json(http.MethodGet, "/api/chats/"+chat.ID+"/messages", "t-bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Message](t, rec), 1)

	rec = api.json(http.MethodDelete, "/api/messages/"+msg.ID, "t-bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the sender or an admin deletes")

	rec = api.json(http.MethodDelete, "/api/messages/"+msg.ID, "t-alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.json(http.MethodDelete, "/api/messages/"+msg.ID, "t-alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendImageAndServe(t *testing.T) {
	api := newTestAPI(t)
	chat := api.startChat("t-alice", "bob")

	data := append(append([]byte{}, pngHeader...), make([]byte, 256)...)
	body, ct := multipartImage(t, data)
	rec := api.do(http.MethodPost, "/api/chats/"+chat.ID+"/messages", "t-alice", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[model.Message](t, rec)
	assert.Equal(t, model.ContentTypeImage, msg.ContentType)
	require.NotNil(t, msg.FileURL)
	require.NotNil(t, msg.FileSize)
	assert.EqualValues(t, len(data), *msg.FileSize)
	assert.Equal(t, "look", *msg.Content)

	rec = api.do(http.MethodGet, "/api/attachments/"+*msg.FileURL+"?name=photo.png", "t-bob", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "photo.png")
	assert.Equal(t, data, rec.Body.Bytes())

	rec = api.do(http.MethodGet, "/api/attachments/"+*msg.FileURL, "t-carol", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/attachments/"+*msg.FileURL, "t-admin", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/api/attachments/chats/"+chat.ID+"/nope.png", "t-alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodGet, "/api/attachments/etc/passwd", "t-alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendImageRejectsMismatchedBytes(t *testing.T) {
	api := newTestAPI(t)
	chat := api.startChat("t-alice", "bob")

	body, ct := multipartImage(t, []byte("%PDF-1.4 definitely not a picture"))
	rec := api.do(http.MethodPost, "/api/chats/"+chat.ID+"/messages", "t-alice", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestDeleteChatAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	chat := api.startChat("t-alice", "bob")
	api.sendText("t-alice", chat.ID, "bye")

	rec := api.json(http.MethodDelete, "/api/chats/"+chat.ID, "t-alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.json(http.MethodDelete, "/api/chats/"+chat.ID, "t-admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.json(http.MethodGet, "/api/chats", "t-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.ChatWithPreview](t, rec))

	rec = api.json(http.MethodDelete, "/api/chats/"+chat.ID, "t-admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, "", contentDisposition(""))
	assert.Equal(t, `attachment; filename="report.pdf"; filename*=UTF-8''report.pdf`, contentDisposition("report.pdf"))
	d := contentDisposition("отчёт.pdf")
	assert.True(t, strings.HasPrefix(d, "attachment; filename*=UTF-8''"), d)
	assert.NotContains(t, d, `filename="`)
}
