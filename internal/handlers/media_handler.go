package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/batilieri/multichat-system/internal/services"

	"github.com/gorilla/mux"
)

type MediaHandler struct {
	media *services.MediaService
}

func NewMediaHandler(media *services.MediaService) *MediaHandler {
	return &MediaHandler{media: media}
}

// Reprocess handles POST /api/media/reprocessar/ (admin), limited to the
// caller's tenant
func (h *MediaHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	res, err := h.media.ReprocessFailed(r.Context(), Claims(r).ClienteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"resultado": res})
}

// Summary handles GET /api/media/resumo/
func (h *MediaHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.media.Summary(Claims(r).ClienteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"resumo": summary})
}

// Serve streams a stored file, /api/wapi-media/{path} and /media/{path}
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	abs, err := h.media.Resolve(Claims(r).ClienteID, mux.Vars(r)["path"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeFile(w, r, abs)
}

// mediaURLPath turns a stored relative path into a URL path
func mediaURLPath(rel string) string {
	return strings.TrimPrefix(filepath.ToSlash(rel), "/")
}
