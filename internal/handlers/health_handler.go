package handlers

import (
	"net/http"

	"github.com/batilieri/multichat-system/internal/database"
)

// healthHandler answers GET /api/health. A failing database ping turns it
// into a 503 so load balancers drop the node.
func healthHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.DB != nil {
			if err := database.Ping(d.DB); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
					"success":  false,
					"status":   "degraded",
					"database": err.Error(),
				})
				return
			}
		}
		writeOK(w, map[string]interface{}{
			"status":  "ok",
			"message": "Backend is running",
		})
	}
}
