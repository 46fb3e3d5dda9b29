package handlers

import (
	"crypto/hmac"
	"io"
	"net/http"
	"time"

	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/services"

	"github.com/rs/zerolog/log"
)

type WebhookHandler struct {
	webhooks *services.WebhookService
	token    string
}

// NewWebhookHandler builds the W-API receiver. An empty token disables the
// shared secret check.
func NewWebhookHandler(webhooks *services.WebhookService, token string) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, token: token}
}

// HandleWAPIWebhook handles POST /webhook/receiver/
func (wh *WebhookHandler) HandleWAPIWebhook(w http.ResponseWriter, r *http.Request) {
	if !wh.verifyToken(r) {
		log.Warn().Str("remote", r.RemoteAddr).Msg("webhook rejected: bad token")
		writeFail(w, http.StatusUnauthorized, "Invalid webhook token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	res, err := wh.webhooks.Process(r.Context(), body)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	// The vendor retries anything that is not 2xx. Ignored and duplicate
	// deliveries are acknowledged; failures get 500 so they are redelivered.
	if res.Status == models.WebhookError {
		log.Error().Str("reason", res.Reason).Msg("webhook processing failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"status":  res.Status,
			"error":   res.Reason,
		})
		return
	}

	out := map[string]interface{}{"status": res.Status}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	if res.MensagemID != 0 {
		out["mensagem_id"] = res.MensagemID
	}
	writeOK(w, out)
}

func (wh *WebhookHandler) verifyToken(r *http.Request) bool {
	if wh.token == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Token")
	if got == "" {
		got = r.URL.Query().Get("token")
	}
	return hmac.Equal([]byte(got), []byte(wh.token))
}

// HandleWebhookTest handles GET on the receiver paths so the vendor panel
// can check reachability
func (wh *WebhookHandler) HandleWebhookTest(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{
		"status":    "ok",
		"message":   "Webhook endpoint is working",
		"timestamp": time.Now().Unix(),
	})
}
