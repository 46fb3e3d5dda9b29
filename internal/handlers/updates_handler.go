package handlers

import (
	"net/http"
	"strconv"

	"github.com/batilieri/multichat-system/internal/services"
)

type UpdatesHandler struct {
	events *services.EventService
}

func NewUpdatesHandler(events *services.EventService) *UpdatesHandler {
	return &UpdatesHandler{events: events}
}

// Check handles GET /api/updates/?since=<seq>. Clients poll it and keep
// the returned latest sequence for the next call.
func (h *UpdatesHandler) Check(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeFail(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}

	events, latest, err := h.events.Since(Claims(r).ClienteID, since, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"has_updates": len(events) > 0,
		"latest":      latest,
		"events":      events,
	})
}
