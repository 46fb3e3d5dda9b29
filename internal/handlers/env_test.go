package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/batilieri/multichat-system/internal/config"
	"github.com/batilieri/multichat-system/internal/database"
	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/services"
	"github.com/batilieri/multichat-system/internal/whatsapp"

	"gorm.io/gorm"
)

// vendorStub answers W-API calls with {} unless a route is registered
type vendorStub struct {
	*httptest.Server
	mu     sync.Mutex
	routes map[string]string
}

func newVendorStub(t *testing.T) *vendorStub {
	t.Helper()
	v := &vendorStub{routes: map[string]string{}}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		body, ok := v.routes[r.URL.Path]
		v.mu.Unlock()
		if !ok {
			body = `{}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(v.Close)
	return v
}

func (v *vendorStub) reply(path, body string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.routes[path] = body
}

type apiEnv struct {
	db      *gorm.DB
	vendor  *vendorStub
	handler http.Handler
	media   *services.MediaService
	root    string

	cliente models.Cliente
	other   models.Cliente
	inst    *models.WhatsappInstance

	adminToken    string
	operatorToken string
	otherToken    string
}

const webhookSecret = "hook-secret"

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(config.DatabaseConfig{
		Type:     "sqlite",
		Path:     filepath.Join(dir, "api.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })

	vendor := newVendorStub(t)
	wapi := services.NewWAPIClient(config.WAPIConfig{
		BaseURL:        vendor.URL,
		Timeout:        5 * time.Second,
		MediaAttempts:  1,
		MediaRetryWait: time.Millisecond,
	})
	normalizer := whatsapp.NewNormalizer(whatsapp.NormalizerConfig{HeuristicPrefix: "120363", HeuristicMinLength: 16})
	events := services.NewEventService(db, time.Minute, nil)
	instances := services.NewInstanceService(db, wapi, events)
	auth := services.NewAuthService(db, "api-test-secret", time.Hour)
	root := filepath.Join(dir, "media")
	media := services.NewMediaService(db, wapi, instances, events, config.MediaConfig{
		Root:        root,
		Workers:     1,
		QueueSize:   8,
		MaxAttempts: 3,
	})

	env := &apiEnv{db: db, vendor: vendor, media: media, root: root}
	env.handler = NewRouter(Deps{
		DB:           db,
		Auth:         auth,
		Chats:        services.NewChatService(db, wapi, instances, events, normalizer),
		Messages:     services.NewMessageService(db, wapi, instances, events, media),
		Media:        media,
		Instances:    instances,
		Events:       events,
		Webhooks:     services.NewWebhookService(db, instances, events, media, normalizer),
		WebhookToken: webhookSecret,
	})

	env.cliente = models.Cliente{Nome: "Loja A", Ativo: true}
	env.other = models.Cliente{Nome: "Loja B", Ativo: true}
	for _, c := range []*models.Cliente{&env.cliente, &env.other} {
		if err := db.Create(c).Error; err != nil {
			t.Fatal(err)
		}
	}
	env.inst, err = instances.Create(env.cliente.ID, models.InstanceCreate{
		InstanceID: "INST-API",
		Token:      "tok",
		Phone:      "5511900000000",
	})
	if err != nil {
		t.Fatal(err)
	}

	env.adminToken = env.login(t, auth, env.cliente.ID, "admin@a.test", models.RoleAdmin)
	env.operatorToken = env.login(t, auth, env.cliente.ID, "op@a.test", models.RoleOperador)
	env.otherToken = env.login(t, auth, env.other.ID, "op@b.test", models.RoleOperador)
	return env
}

func (e *apiEnv) login(t *testing.T, auth *services.AuthService, clienteID uint, email, role string) string {
	t.Helper()
	if _, err := auth.CreateUser(clienteID, "", email, "s3cret!", role); err != nil {
		t.Fatal(err)
	}
	token, _, err := auth.Login(models.UserLogin{Email: email, Password: "s3cret!"})
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// do sends a request through the full router and decodes the JSON answer
func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: bad json %q", method, path, rec.Body.String())
		}
	}
	return rec.Code, out
}

func (e *apiEnv) seedChat(t *testing.T, clienteID uint, chatID string) *models.Chat {
	t.Helper()
	chat := models.Chat{ClienteID: clienteID, ChatID: chatID, Status: models.ChatAtivo}
	if err := e.db.Create(&chat).Error; err != nil {
		t.Fatal(err)
	}
	return &chat
}

func (e *apiEnv) seedMessage(t *testing.T, chat *models.Chat, messageID string, fromMe bool) *models.Mensagem {
	t.Helper()
	msg := models.Mensagem{
		ClienteID: chat.ClienteID,
		ChatID:    chat.ID,
		MessageID: messageID,
		Conteudo:  "ola",
		Tipo:      models.TipoTexto,
		FromMe:    fromMe,
		DataEnvio: time.Now().UTC(),
	}
	if err := e.db.Create(&msg).Error; err != nil {
		t.Fatal(err)
	}
	return &msg
}
