package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/services"

	"gorm.io/gorm"
)

func TestHealthIsPublic(t *testing.T) {
	env := newAPIEnv(t)
	code, body := env.do(t, "GET", "/api/health", "", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", code, body)
	}
}

func TestLoginAndProfile(t *testing.T) {
	env := newAPIEnv(t)

	code, body := env.do(t, "POST", "/api/auth/login/", "", map[string]string{"email": "admin@a.test", "password": "s3cret!"})
	if code != http.StatusOK || body["token"] == "" {
		t.Fatalf("login = %d %v", code, body)
	}
	token := body["token"].(string)

	// route works without the trailing slash too
	code, body = env.do(t, "GET", "/api/auth/profile", token, nil)
	if code != http.StatusOK {
		t.Fatalf("profile = %d %v", code, body)
	}
	user := body["user"].(map[string]interface{})
	if user["email"] != "admin@a.test" || user["role"] != models.RoleAdmin {
		t.Errorf("profile user = %v", user)
	}

	code, body = env.do(t, "POST", "/api/auth/login/", "", map[string]string{"email": "admin@a.test", "password": "nope"})
	if code != http.StatusUnauthorized || body["success"] != false {
		t.Errorf("bad password = %d %v", code, body)
	}
	code, _ = env.do(t, "POST", "/api/auth/login/", "", map[string]string{"email": "admin@a.test"})
	if code != http.StatusBadRequest {
		t.Errorf("missing password = %d", code)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, "GET", "/api/chats/", tt.token, nil)
			if code != http.StatusUnauthorized || body["success"] != false {
				t.Errorf("got %d %v", code, body)
			}
		})
	}
}

func TestChatsAreTenantScoped(t *testing.T) {
	env := newAPIEnv(t)
	mine := env.seedChat(t, env.cliente.ID, "5511911112222")
	env.seedMessage(t, mine, "IN-1", false)
	env.seedMessage(t, mine, "IN-2", false)
	theirs := env.seedChat(t, env.other.ID, "5511933334444")

	code, body := env.do(t, "GET", "/api/chats/", env.operatorToken, nil)
	if code != http.StatusOK {
		t.Fatalf("list = %d %v", code, body)
	}
	results := body["results"].([]interface{})
	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}
	first := results[0].(map[string]interface{})
	if first["chat_id"] != "5511911112222" || first["nao_lidas"] != float64(2) {
		t.Errorf("summary = %v", first)
	}

	code, _ = env.do(t, "GET", fmt.Sprintf("/api/chats/%d/", theirs.ID), env.operatorToken, nil)
	if code != http.StatusNotFound {
		t.Errorf("foreign chat = %d, want 404", code)
	}

	code, body = env.do(t, "POST", fmt.Sprintf("/api/chats/%d/marcar-lidas/", mine.ID), env.operatorToken, nil)
	if code != http.StatusOK || body["marcadas"] != float64(2) {
		t.Errorf("mark read = %d %v", code, body)
	}

	code, body = env.do(t, "GET", fmt.Sprintf("/api/chats/%d/mensagens/", mine.ID), env.operatorToken, nil)
	if code != http.StatusOK || body["count"] != float64(2) {
		t.Errorf("messages = %d %v", code, body)
	}
	code, _ = env.do(t, "GET", fmt.Sprintf("/api/chats/%d/mensagens/?before=yesterday", mine.ID), env.operatorToken, nil)
	if code != http.StatusBadRequest {
		t.Errorf("bad before = %d", code)
	}
}

func TestCreateChatValidatesID(t *testing.T) {
	env := newAPIEnv(t)

	code, body := env.do(t, "POST", "/api/chats/", env.operatorToken, map[string]string{"chat_id": "5511955556666@s.whatsapp.net", "nome": "Bia"})
	if code != http.StatusCreated {
		t.Fatalf("create = %d %v", code, body)
	}
	chat := body["chat"].(map[string]interface{})
	if chat["chat_id"] != "5511955556666" {
		t.Errorf("chat id = %v, want bare number", chat["chat_id"])
	}

	code, body = env.do(t, "POST", "/api/chats/", env.operatorToken, map[string]string{"chat_id": "status@broadcast"})
	if code != http.StatusBadRequest || body["success"] != false {
		t.Errorf("broadcast = %d %v", code, body)
	}
	code, _ = env.do(t, "POST", "/api/chats/", env.operatorToken, "{not json")
	if code != http.StatusBadRequest {
		t.Errorf("bad body = %d", code)
	}
}

func TestSendAndEditMessages(t *testing.T) {
	env := newAPIEnv(t)
	chat := env.seedChat(t, env.cliente.ID, "5511911112222")
	inbound := env.seedMessage(t, chat, "IN-1", false)
	env.vendor.reply("/message/send-text", `{"messageId":"3EB0API"}`)

	code, body := env.do(t, "POST", "/api/mensagens/", env.operatorToken, map[string]interface{}{"chat": chat.ID, "conteudo": "oi"})
	if code != http.StatusCreated {
		t.Fatalf("send = %d %v", code, body)
	}
	sent := body["mensagem"].(map[string]interface{})
	if sent["message_id"] != "3EB0API" || sent["from_me"] != true {
		t.Errorf("sent = %v", sent)
	}

	code, _ = env.do(t, "POST", "/api/mensagens/", env.operatorToken, map[string]interface{}{"conteudo": "oi"})
	if code != http.StatusBadRequest {
		t.Errorf("send without chat = %d", code)
	}

	code, body = env.do(t, "POST", fmt.Sprintf("/api/mensagens/%d/editar/", inbound.ID), env.operatorToken, map[string]string{"conteudo": "x"})
	if code != http.StatusConflict {
		t.Errorf("edit inbound = %d %v, want 409", code, body)
	}

	id := uint(sent["id"].(float64))
	code, body = env.do(t, "POST", fmt.Sprintf("/api/mensagens/%d/editar/", id), env.operatorToken, map[string]string{"conteudo": "oi!"})
	if code != http.StatusOK || body["mensagem"].(map[string]interface{})["editada"] != true {
		t.Errorf("edit own = %d %v", code, body)
	}

	code, _ = env.do(t, "GET", fmt.Sprintf("/api/mensagens/%d/", id), env.otherToken, nil)
	if code != http.StatusNotFound {
		t.Errorf("other tenant read = %d, want 404", code)
	}
}

func TestVendorFailureMapsToBadGateway(t *testing.T) {
	env := newAPIEnv(t)
	chat := env.seedChat(t, env.cliente.ID, "5511911112222")
	own := env.seedMessage(t, chat, "3EB0OWN", true)
	env.vendor.reply("/message/delete", `{"error":true,"message":"message not found"}`)

	code, body := env.do(t, "DELETE", fmt.Sprintf("/api/mensagens/%d/", own.ID), env.operatorToken, nil)
	if code != http.StatusBadGateway || body["success"] != false {
		t.Fatalf("delete = %d %v", code, body)
	}
	var n int64
	env.db.Model(&models.Mensagem{}).Where("id = ?", own.ID).Count(&n)
	if n != 1 {
		t.Error("row must survive a failed revoke")
	}
}

func TestWebhookReceiver(t *testing.T) {
	env := newAPIEnv(t)
	payload := `{
		"instanceId": "INST-API",
		"messageId": "WH-1",
		"fromMe": false,
		"chat": {"id": "5511977778888"},
		"sender": {"id": "5511977778888", "pushName": "Caio"},
		"msgContent": {"conversation": "bom dia"}
	}`

	post := func(path, token, body string) (int, string) {
		req := httptest.NewRequest("POST", path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("X-Webhook-Token", token)
		}
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code, rec.Body.String()
	}

	if code, _ := post("/webhook/receiver/", "wrong", payload); code != http.StatusUnauthorized {
		t.Errorf("bad token = %d", code)
	}
	code, out := post("/webhook/receiver/", webhookSecret, payload)
	if code != http.StatusOK || !strings.Contains(out, `"status":"created"`) {
		t.Fatalf("deliver = %d %s", code, out)
	}
	// redelivery via an alias path is acknowledged as a duplicate
	code, out = post("/api/webhook?token="+webhookSecret, "", payload)
	if code != http.StatusOK || !strings.Contains(out, `"status":"duplicate"`) {
		t.Errorf("redeliver = %d %s", code, out)
	}
	if code, _ := post("/webhook/", webhookSecret, "<xml/>"); code != http.StatusBadRequest {
		t.Errorf("garbage = %d", code)
	}

	var events int64
	env.db.Model(&models.WebhookEvent{}).Count(&events)
	if events != 3 {
		t.Errorf("recorded %d webhook events, want 3", events)
	}

	code, body := env.do(t, "GET", "/webhook/receiver/", "", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("ping = %d %v", code, body)
	}
}

func TestWebhookStorageFailureIsNotAcknowledged(t *testing.T) {
	env := newAPIEnv(t)
	if err := env.db.Migrator().DropTable(&models.Mensagem{}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/webhook/receiver/", strings.NewReader(`{
		"instanceId": "INST-API",
		"messageId": "WH-LOST",
		"chat": {"id": "5511977778888"},
		"sender": {"id": "5511977778888"},
		"msgContent": {"conversation": "oi"}
	}`))
	req.Header.Set("X-Webhook-Token", webhookSecret)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("storage failure = %d %s, want 500 so the vendor retries", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"error"`) || strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	// unknown instances stay acknowledged
	req = httptest.NewRequest("POST", "/webhook/receiver/", strings.NewReader(`{"instanceId": "NOPE", "messageId": "X"}`))
	req.Header.Set("X-Webhook-Token", webhookSecret)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ignored"`) {
		t.Errorf("ignored delivery = %d %s", rec.Code, rec.Body.String())
	}
}

func TestUpdatesPolling(t *testing.T) {
	env := newAPIEnv(t)
	chat := env.seedChat(t, env.cliente.ID, "5511911112222")
	env.seedMessage(t, chat, "IN-1", false)

	code, body := env.do(t, "GET", "/api/updates/?since=0", env.operatorToken, nil)
	if code != http.StatusOK || body["has_updates"] != false {
		t.Fatalf("empty poll = %d %v", code, body)
	}

	env.do(t, "POST", fmt.Sprintf("/api/chats/%d/marcar-lidas/", chat.ID), env.operatorToken, nil)

	code, body = env.do(t, "GET", "/api/check-updates?since=0", env.operatorToken, nil)
	if code != http.StatusOK || body["has_updates"] != true {
		t.Fatalf("poll = %d %v", code, body)
	}
	latest := body["latest"].(float64)

	_, body = env.do(t, "GET", fmt.Sprintf("/api/updates/?since=%d", int64(latest)), env.operatorToken, nil)
	if body["has_updates"] != false {
		t.Errorf("caught-up poll = %v", body)
	}
	// other tenants never see the event
	_, body = env.do(t, "GET", "/api/updates/?since=0", env.otherToken, nil)
	if body["has_updates"] != false {
		t.Errorf("other tenant poll = %v", body)
	}

	code, _ = env.do(t, "GET", "/api/updates/?since=-1", env.operatorToken, nil)
	if code != http.StatusBadRequest {
		t.Errorf("negative since = %d", code)
	}
}

func TestMediaServingIsTenantChecked(t *testing.T) {
	env := newAPIEnv(t)
	rel := filepath.Join(fmt.Sprintf("cliente_%d", env.cliente.ID), "instance_INST-API", "chats", "5511911112222", "imagem", "IMG-1.png")
	abs := filepath.Join(env.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte("\x89PNG\r\n\x1a\nfake"), 0644); err != nil {
		t.Fatal(err)
	}
	url := "/api/wapi-media/" + mediaURLPath(rel)

	get := func(path, header string) int {
		req := httptest.NewRequest("GET", path, nil)
		if header != "" {
			req.Header.Set("Authorization", "Bearer "+header)
		}
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := get(url, env.operatorToken); code != http.StatusOK {
		t.Errorf("own file = %d", code)
	}
	if code := get("/media/"+mediaURLPath(rel)+"?token="+env.operatorToken, ""); code != http.StatusOK {
		t.Errorf("query token = %d", code)
	}
	if code := get(url, env.otherToken); code != http.StatusForbidden {
		t.Errorf("foreign tenant = %d, want 403", code)
	}
	if code := get(url, ""); code != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", code)
	}
}

func TestMessageMediaLink(t *testing.T) {
	env := newAPIEnv(t)
	chat := env.seedChat(t, env.cliente.ID, "5511911112222")
	msg := env.seedMessage(t, chat, "IMG-2", false)

	code, _ := env.do(t, "GET", fmt.Sprintf("/api/mensagens/%d/media/", msg.ID), env.operatorToken, nil)
	if code != http.StatusNotFound {
		t.Errorf("no media row = %d", code)
	}

	mf := models.MediaFile{
		ClienteID:  env.cliente.ID,
		MensagemID: msg.ID,
		InstanceID: "INST-API",
		ChatID:     chat.ChatID,
		MessageID:  msg.MessageID,
		Tipo:       models.TipoImagem,
		FilePath:   filepath.Join("cliente_1", "x", "IMG-2.jpg"),
		Status:     models.MediaSuccess,
	}
	if err := env.db.Create(&mf).Error; err != nil {
		t.Fatal(err)
	}
	code, body := env.do(t, "GET", fmt.Sprintf("/api/mensagens/%d/media", msg.ID), env.operatorToken, nil)
	if code != http.StatusOK || body["url"] != "/api/wapi-media/cliente_1/x/IMG-2.jpg" {
		t.Errorf("media = %d %v", code, body)
	}
}

func TestAdminOnlyEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	code, _ := env.do(t, "POST", "/api/media/reprocessar/", env.operatorToken, nil)
	if code != http.StatusForbidden {
		t.Errorf("operator reprocess = %d, want 403", code)
	}
	code, body := env.do(t, "POST", "/api/media/reprocessar/", env.adminToken, nil)
	if code != http.StatusOK {
		t.Errorf("admin reprocess = %d %v", code, body)
	}

	create := map[string]string{"instance_id": "INST-NEW", "token": "t2"}
	code, _ = env.do(t, "POST", "/api/instances/", env.operatorToken, create)
	if code != http.StatusForbidden {
		t.Errorf("operator create instance = %d", code)
	}
	code, body = env.do(t, "POST", "/api/instances/", env.adminToken, create)
	if code != http.StatusCreated {
		t.Fatalf("admin create instance = %d %v", code, body)
	}
	inst := body["instance"].(map[string]interface{})
	if _, leaked := inst["token"]; leaked {
		t.Error("instance token must not be serialized")
	}
}

func TestReprocessStaysInsideTenant(t *testing.T) {
	env := newAPIEnv(t)
	chat := env.seedChat(t, env.other.ID, "5511933334444")
	msg := env.seedMessage(t, chat, "IMG-B", false)
	mf := models.MediaFile{
		ClienteID:  env.other.ID,
		MensagemID: msg.ID,
		InstanceID: "INST-B",
		ChatID:     chat.ChatID,
		MessageID:  msg.MessageID,
		Tipo:       models.TipoImagem,
		Status:     models.MediaFailed,
		LastError:  "boom",
	}
	if err := env.db.Create(&mf).Error; err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"/api/media/reprocessar/", "/api/media/reprocessar/?all=true"} {
		code, body := env.do(t, "POST", path, env.adminToken, nil)
		if code != http.StatusOK {
			t.Fatalf("%s = %d %v", path, code, body)
		}
		res := body["resultado"].(map[string]interface{})
		if res["processed"] != float64(0) {
			t.Errorf("%s touched another tenant's media: %v", path, res)
		}
	}

	var stored models.MediaFile
	if err := env.db.First(&stored, mf.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.LastError != "boom" || stored.Attempts != 0 {
		t.Errorf("foreign row changed: %+v", stored)
	}
}

func TestInstanceStatusAndQRCode(t *testing.T) {
	env := newAPIEnv(t)
	env.vendor.reply("/instance/status-instance", `{"connected":true,"connectedPhone":"5511900000000"}`)
	env.vendor.reply("/instance/qr-code", `{"qrcode":"2@abc,def"}`)

	code, body := env.do(t, "GET", fmt.Sprintf("/api/instances/%d/status/", env.inst.ID), env.operatorToken, nil)
	if code != http.StatusOK || body["connected"] != true {
		t.Fatalf("status = %d %v", code, body)
	}

	code, body = env.do(t, "GET", fmt.Sprintf("/api/instances/%d/qrcode/", env.inst.ID), env.operatorToken, nil)
	if code != http.StatusOK || !strings.HasPrefix(body["qr_code"].(string), "data:image/png;base64,") {
		t.Fatalf("qrcode = %d %v", code, body)
	}

	code, _ = env.do(t, "GET", fmt.Sprintf("/api/instances/%d/status/", env.inst.ID), env.otherToken, nil)
	if code != http.StatusNotFound {
		t.Errorf("foreign instance = %d, want 404", code)
	}
}

func TestUnknownRouteAndPreflight(t *testing.T) {
	env := newAPIEnv(t)

	code, body := env.do(t, "GET", "/api/nope/", env.operatorToken, nil)
	if code != http.StatusNotFound || body["success"] != false {
		t.Errorf("unknown = %d %v", code, body)
	}

	req := httptest.NewRequest("OPTIONS", "/api/chats/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id header missing")
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{gorm.ErrRecordNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", services.ErrForbidden), http.StatusForbidden},
		{services.ErrInvalidInput, http.StatusBadRequest},
		{services.ErrNotEditable, http.StatusConflict},
		{services.ErrNoInstance, http.StatusConflict},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("send: %w", &services.VendorError{Status: 400, Message: "bad phone"}), http.StatusBadGateway},
		{os.ErrClosed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
