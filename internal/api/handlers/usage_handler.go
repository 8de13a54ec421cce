package handlers

import (
	"net/http"

	middleware "github.com/markdave123-py/docuchat/internal/api/middlewares"
	"github.com/markdave123-py/docuchat/internal/core/usage"
	"github.com/markdave123-py/docuchat/internal/logger"
)

type UsageHandler struct {
	meter *usage.Meter
}

func NewUsageHandler(meter *usage.Meter) *UsageHandler {
	return &UsageHandler{meter: meter}
}

// GetUsage reports the caller's token totals for the last 24 hours and 7 days.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	stats, err := h.meter.Stats(r.Context(), id.TenantID, id.UserID)
	if err != nil {
		logger.New("usage_api").WithError(err).Error("usage stats failed")
		writeError(w, http.StatusInternalServerError, "could not load usage")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
