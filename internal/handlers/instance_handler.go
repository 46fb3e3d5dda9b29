package handlers

import (
	"net/http"

	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/services"
)

type InstanceHandler struct {
	instances *services.InstanceService
}

func NewInstanceHandler(instances *services.InstanceService) *InstanceHandler {
	return &InstanceHandler{instances: instances}
}

func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.instances.List(Claims(r).ClienteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"results": list})
}

// Create handles POST /api/instances/ (admin)
func (h *InstanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.InstanceCreate
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	inst, err := h.instances.Create(Claims(r).ClienteID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "instance": inst})
}

// Status handles GET /api/instances/{id}/status/
func (h *InstanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid instance id")
		return
	}
	inst, err := h.instances.RefreshStatus(r.Context(), Claims(r).ClienteID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"instance":  inst,
		"connected": inst.Status == models.InstanceConnected,
	})
}

// QRCode handles GET /api/instances/{id}/qrcode/
func (h *InstanceHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid instance id")
		return
	}
	qr, err := h.instances.QRCode(r.Context(), Claims(r).ClienteID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"qr_code": qr})
}

// Disconnect handles POST /api/instances/{id}/disconnect/
func (h *InstanceHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFail(w, http.StatusBadRequest, "invalid instance id")
		return
	}
	if err := h.instances.Disconnect(r.Context(), Claims(r).ClienteID, id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"message": "Instance disconnected"})
}
