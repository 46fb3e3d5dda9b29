package handlers

import (
	"net/http"

	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/services"
)

type MessageHandler struct {
	messages *services.MessageService
	media    *services.MediaService
}

func NewMessageHandler(messages *services.MessageService, media *services.MediaService) *MessageHandler {
	return &MessageHandler{messages: messages, media: media}
}

// List handles GET /api/mensagens/?chat=<id>
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := messageFilter(r)
	if err != nil {
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, total, err := h.messages.List(Claims(r).ClienteID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"count":   total,
		"results": msgs,
	})
}

// Send handles POST /api/mensagens/
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ChatID == 0 {
		writeFail(w, http.StatusBadRequest, "chat is required")
		return
	}
	msg, err := h.messages.Send(r.Context(), Claims(r).ClienteID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "mensagem": msg})
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid message id")
		return
	}
	msg, err := h.messages.Get(Claims(r).ClienteID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"mensagem": msg})
}

// Update handles PATCH /api/mensagens/{id}/
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid message id")
		return
	}
	var req models.MensagemUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	msg, err := h.messages.Update(Claims(r).ClienteID, id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"mensagem": msg})
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid message id")
		return
	}
	if err := h.messages.Delete(r.Context(), Claims(r).ClienteID, id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"message": "Mensagem deleted"})
}

// Edit handles POST /api/mensagens/{id}/editar/
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid message id")
		return
	}
	var req models.EditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	msg, err := h.messages.Edit(r.Context(), Claims(r).ClienteID, id, req.Conteudo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"mensagem": msg})
}

// React handles POST /api/mensagens/{id}/reagir/
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid message id")
		return
	}
	var req models.ReactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	msg, err := h.messages.React(r.Context(), Claims(r).ClienteID, id, req.Emoji)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"mensagem": msg})
}

// RemoveReaction handles POST /api/mensagens/{id}/remover-reacao/
func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid message id")
		return
	}
	msg, err := h.messages.RemoveReaction(r.Context(), Claims(r).ClienteID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"mensagem": msg})
}

// Media handles GET /api/mensagens/{id}/media/
func (h *MessageHandler) Media(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid message id")
		return
	}
	mf, err := h.media.ForMessage(Claims(r).ClienteID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := map[string]interface{}{"media": mf}
	if mf.Status == models.MediaSuccess {
		out["url"] = "/api/wapi-media/" + mediaURLPath(mf.FilePath)
	}
	writeOK(w, out)
}
