package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/marketchat/internal/attachment"
	"github.com/marketchat/internal/middleware"
	"github.com/marketchat/internal/service"
	"github.com/marketchat/internal/storage"
)

// RouterConfig: зависимости HTTP-слоя.
type RouterConfig struct {
	Service       *service.MessagingService
	Identities    storage.IdentityStore
	Files         attachment.Opener
	MaxUploadSize int64
	CORSOrigins   string
	RatePerIP     int
	RatePerUser   int
	// AccessLog включает построчный лог chi; в тестах выключен.
	AccessLog bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	chatH := NewChatHandler(cfg.Service)
	msgH := NewMessageHandler(cfg.Service, cfg.MaxUploadSize)
	fileH := NewAttachmentHandler(cfg.Service, cfg.Files)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	if cfg.AccessLog {
		r.Use(chimw.Logger)
	}
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Identities))
		r.Use(middleware.RateLimitAPI(cfg.RatePerIP, cfg.RatePerUser))

		r.Group(func(r chi.Router) {
			// Вложения и так сжаты; компрессия только для JSON.
			r.Use(chimw.Compress(5, "application/json"))
			r.Get("/chats", chatH.GetUserChats)
			r.Post("/chats", chatH.CreateChat)
			r.Post("/chats/start", chatH.StartChat)
			r.Get("/chats/{chatID}", chatH.GetChat)
			r.Delete("/chats/{chatID}", chatH.DeleteChat)
			r.Get("/chats/{chatID}/messages", msgH.GetMessages)
			r.Post("/chats/{chatID}/messages", msgH.SendMessage)
			r.Put("/messages/{messageID}/read", msgH.MarkAsRead)
			r.Delete("/messages/{messageID}", msgH.DeleteMessage)
		})
		r.Get("/attachments/*", fileH.Serve)
	})
	return r
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
