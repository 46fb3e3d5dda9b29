package handlers

import (
	"net/http"
	"strings"

	"github.com/batilieri/multichat-system/internal/services"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// Deps are the services the REST API is built on
type Deps struct {
	DB           *gorm.DB
	Auth         *services.AuthService
	Chats        *services.ChatService
	Messages     *services.MessageService
	Media        *services.MediaService
	Instances    *services.InstanceService
	Events       *services.EventService
	Webhooks     *services.WebhookService
	WebhookToken string
	CORSOrigins  []string
}

// route registers path with and without its trailing slash
func route(r *mux.Router, path string, h http.HandlerFunc, methods ...string) {
	r.HandleFunc(path, h).Methods(methods...)
	if alt := strings.TrimSuffix(path, "/"); alt != path && alt != "" {
		r.HandleFunc(alt, h).Methods(methods...)
	}
}

// NewRouter wires every endpoint and returns the full middleware chain
func NewRouter(d Deps) http.Handler {
	userHandler := NewUserHandler(d.Auth)
	chatHandler := NewChatHandler(d.Chats)
	messageHandler := NewMessageHandler(d.Messages, d.Media)
	mediaHandler := NewMediaHandler(d.Media)
	instanceHandler := NewInstanceHandler(d.Instances)
	updatesHandler := NewUpdatesHandler(d.Events)
	webhookHandler := NewWebhookHandler(d.Webhooks, d.WebhookToken)
	auth := NewAuth(d.Auth)

	r := mux.NewRouter()

	// Public endpoints
	route(r, "/api/health", healthHandler(d), "GET")
	route(r, "/api/auth/login/", userHandler.Login, "POST")
	for _, p := range []string{"/webhook/receiver/", "/webhook/", "/api/webhook/"} {
		route(r, p, webhookHandler.HandleWAPIWebhook, "POST")
		route(r, p, webhookHandler.HandleWebhookTest, "GET")
	}

	// Media files, bearer header or ?token=
	serve := auth.RequireMedia(http.HandlerFunc(mediaHandler.Serve))
	r.Handle("/api/wapi-media/{path:.+}", serve).Methods("GET")
	r.Handle("/media/{path:.+}", serve).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.Require)

	route(api, "/auth/profile/", userHandler.GetProfile, "GET")

	// Static chat routes before the {id} ones
	route(api, "/chats/sincronizar/", chatHandler.Sync, "POST")
	route(api, "/chats/", chatHandler.List, "GET")
	route(api, "/chats/", chatHandler.Create, "POST")
	route(api, "/chats/{id:[0-9]+}/", chatHandler.Get, "GET")
	route(api, "/chats/{id:[0-9]+}/", chatHandler.Update, "PATCH", "PUT")
	route(api, "/chats/{id:[0-9]+}/", chatHandler.Delete, "DELETE")
	route(api, "/chats/{id:[0-9]+}/mensagens/", chatHandler.Messages, "GET")
	route(api, "/chats/{id:[0-9]+}/marcar-lidas/", chatHandler.MarkRead, "POST")
	route(api, "/chats/{id:[0-9]+}/foto/", chatHandler.RefreshPhoto, "POST")

	route(api, "/mensagens/", messageHandler.List, "GET")
	route(api, "/mensagens/", messageHandler.Send, "POST")
	route(api, "/mensagens/{id:[0-9]+}/", messageHandler.Get, "GET")
	route(api, "/mensagens/{id:[0-9]+}/", messageHandler.Update, "PATCH", "PUT")
	route(api, "/mensagens/{id:[0-9]+}/", messageHandler.Delete, "DELETE")
	route(api, "/mensagens/{id:[0-9]+}/editar/", messageHandler.Edit, "POST")
	route(api, "/mensagens/{id:[0-9]+}/reagir/", messageHandler.React, "POST")
	route(api, "/mensagens/{id:[0-9]+}/remover-reacao/", messageHandler.RemoveReaction, "POST")
	route(api, "/mensagens/{id:[0-9]+}/media/", messageHandler.Media, "GET")

	route(api, "/updates/", updatesHandler.Check, "GET")
	route(api, "/check-updates/", updatesHandler.Check, "GET")

	route(api, "/instances/", instanceHandler.List, "GET")
	route(api, "/instances/", AdminOnly(instanceHandler.Create), "POST")
	route(api, "/instances/{id:[0-9]+}/status/", instanceHandler.Status, "GET")
	route(api, "/instances/{id:[0-9]+}/qrcode/", instanceHandler.QRCode, "GET")
	route(api, "/instances/{id:[0-9]+}/disconnect/", AdminOnly(instanceHandler.Disconnect), "POST")

	route(api, "/media/reprocessar/", AdminOnly(mediaHandler.Reprocess), "POST")
	route(api, "/media/resumo/", mediaHandler.Summary, "GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Wrapped outside the router so preflight and 404 responses get CORS
	// headers too
	return Recoverer(RequestLogger(CORS(d.CORSOrigins)(r)))
}
