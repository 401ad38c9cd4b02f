package handlers

import (
	"net/http"

	"github.com/Dias221467/when2meet/internal/services"
	"github.com/Dias221467/when2meet/pkg/logger"
)

// ReconcileHandler exposes the friend data reconciliation scan to admins.
type ReconcileHandler struct {
	Reconciler *services.Reconciler
}

func NewReconcileHandler(reconciler *services.Reconciler) *ReconcileHandler {
	return &ReconcileHandler{Reconciler: reconciler}
}

// ScanHandler reports inconsistencies without changing anything.
func (h *ReconcileHandler) ScanHandler(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, false)
}

// RepairHandler reports inconsistencies and repairs them.
func (h *ReconcileHandler) RepairHandler(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, true)
}

func (h *ReconcileHandler) run(w http.ResponseWriter, r *http.Request, repair bool) {
	report, err := h.Reconciler.Scan(r.Context(), repair)
	if err != nil {
		logger.Log.Errorf("Reconciliation failed: %v", err)
		respondError(w, err, "Reconciliation failed")
		return
	}
	respondJSON(w, http.StatusOK, report)
}
