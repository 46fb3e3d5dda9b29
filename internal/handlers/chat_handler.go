package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/services"
)

type ChatHandler struct {
	chats *services.ChatService
}

func NewChatHandler(chats *services.ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

// List handles GET /api/chats/
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.ChatFilter{
		Status:        q.Get("status"),
		Search:        q.Get("search"),
		IncludeGroups: queryBool(r, "include_groups"),
		Page:          queryInt(r, "page", 1),
		PageSize:      queryInt(r, "page_size", 50),
	}
	chats, total, err := h.chats.List(Claims(r).ClienteID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"count":   total,
		"results": chats,
	})
}

// Create handles POST /api/chats/
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.ChatCreate
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	chat, err := h.chats.Create(Claims(r).ClienteID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "chat": chat})
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	chat, err := h.chats.Get(Claims(r).ClienteID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"chat": chat})
}

// Update handles PATCH /api/chats/{id}/
func (h *ChatHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	var req models.ChatUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	chat, err := h.chats.Update(Claims(r).ClienteID, id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"chat": chat})
}

func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	if err := h.chats.Delete(Claims(r).ClienteID, id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"message": "Chat deleted"})
}

// Messages handles GET /api/chats/{id}/mensagens/
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	f, err := messageFilter(r)
	if err != nil {
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, total, err := h.chats.Messages(Claims(r).ClienteID, id, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"count":   total,
		"results": msgs,
	})
}

// MarkRead handles POST /api/chats/{id}/marcar-lidas/
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	n, err := h.chats.MarkRead(Claims(r).ClienteID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"marcadas": n})
}

// Sync handles POST /api/chats/sincronizar/
func (h *ChatHandler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.chats.Sync(r.Context(), Claims(r).ClienteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"resultado": res})
}

// RefreshPhoto handles POST /api/chats/{id}/foto/
func (h *ChatHandler) RefreshPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	chat, err := h.chats.RefreshPhoto(r.Context(), Claims(r).ClienteID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"chat": chat})
}

func messageFilter(r *http.Request) (services.MessageFilter, error) {
	q := r.URL.Query()
	f := services.MessageFilter{
		ChatID:   uint(queryInt(r, "chat", 0)),
		Search:   q.Get("search"),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", 50),
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("before must be an RFC3339 timestamp")
		}
		f.Before = &t
	}
	return f, nil
}
