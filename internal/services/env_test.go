package services

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/batilieri/multichat-system/internal/config"
	"github.com/batilieri/multichat-system/internal/database"
	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/whatsapp"

	"gorm.io/gorm"
)

// fakeVendor is a stand-in for the W-API gateway. Routes answer with a
// canned JSON body unless a test overrides them.
type fakeVendor struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  map[string]int
}

func newFakeVendor(t *testing.T) *fakeVendor {
	t.Helper()
	v := &fakeVendor{routes: map[string]http.HandlerFunc{}, calls: map[string]int{}}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		v.calls[r.URL.Path]++
		h, ok := v.routes[r.URL.Path]
		v.mu.Unlock()
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(v.Close)
	return v
}

func (v *fakeVendor) handle(path string, h http.HandlerFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.routes[path] = h
}

func (v *fakeVendor) json(path string, status int, body string) {
	v.handle(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func (v *fakeVendor) count(path string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[path]
}

type testEnv struct {
	db        *gorm.DB
	vendor    *fakeVendor
	wapi      *WAPIClient
	events    *EventService
	instances *InstanceService
	chats     *ChatService
	messages  *MessageService
	media     *MediaService
	webhooks  *WebhookService
	auth      *AuthService

	cliente models.Cliente
	inst    *models.WhatsappInstance
}

const testInstanceID = "INST-TEST"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(config.DatabaseConfig{
		Type:     "sqlite",
		Path:     filepath.Join(dir, "test.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })

	vendor := newFakeVendor(t)
	wapi := NewWAPIClient(config.WAPIConfig{
		BaseURL:        vendor.URL,
		Timeout:        5 * time.Second,
		MediaAttempts:  3,
		MediaRetryWait: time.Millisecond,
	})

	env := &testEnv{db: db, vendor: vendor, wapi: wapi}
	env.events = NewEventService(db, time.Minute, nil)
	env.instances = NewInstanceService(db, wapi, env.events)
	normalizer := whatsapp.NewNormalizer(whatsapp.NormalizerConfig{
		AllowedGroupIDs:    []string{"120363111111111111"},
		HeuristicPrefix:    "120363",
		HeuristicMinLength: 16,
	})
	env.chats = NewChatService(db, wapi, env.instances, env.events, normalizer)
	env.media = NewMediaService(db, wapi, env.instances, env.events, config.MediaConfig{
		Root:        filepath.Join(dir, "media"),
		Workers:     1,
		QueueSize:   16,
		MaxAttempts: 3,
	})
	env.messages = NewMessageService(db, wapi, env.instances, env.events, env.media)
	env.webhooks = NewWebhookService(db, env.instances, env.events, env.media, normalizer)
	env.auth = NewAuthService(db, "test-secret", time.Hour)

	env.cliente = models.Cliente{Nome: "Loja Teste", Ativo: true}
	if err := db.Create(&env.cliente).Error; err != nil {
		t.Fatal(err)
	}
	env.inst, err = env.instances.Create(env.cliente.ID, models.InstanceCreate{
		InstanceID: testInstanceID,
		Token:      "tok",
		Phone:      "5511900000000",
	})
	if err != nil {
		t.Fatal(err)
	}
	return env
}

// seedChat returns the tenant's chat with chatID, creating it if needed
func (e *testEnv) seedChat(t *testing.T, chatID string) *models.Chat {
	t.Helper()
	chat := models.Chat{ClienteID: e.cliente.ID, ChatID: chatID, Status: models.ChatAtivo}
	if err := e.db.Where("cliente_id = ? AND chat_id = ?", e.cliente.ID, chatID).FirstOrCreate(&chat).Error; err != nil {
		t.Fatal(err)
	}
	return &chat
}

func (e *testEnv) seedMessage(t *testing.T, chat *models.Chat, messageID string, fromMe bool) *models.Mensagem {
	t.Helper()
	msg := models.Mensagem{
		ClienteID: e.cliente.ID,
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
