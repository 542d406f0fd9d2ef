package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/ringsim/internal/domain"
)

// ReportHandler serves persisted settlement reports and the blob archive.
type ReportHandler struct {
	logger *slog.Logger
	store  domain.ReportStore
	blobs  domain.BlobReader // optional
}

// NewReportHandler creates a ReportHandler. blobs may be nil when archival is
// disabled.
func NewReportHandler(logger *slog.Logger, store domain.ReportStore, blobs domain.BlobReader) *ReportHandler {
	return &ReportHandler{
		logger: logHandler(logger, "report"),
		store:  store,
		blobs:  blobs,
	}
}

// ListReports returns the most recent reports.
// GET /api/v1/reports
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.store.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.Error("list reports", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// GetReport returns one report by run ID.
// GET /api/v1/reports/{id}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	runID := pathParam(r, "id")
	report, err := h.store.GetByRunID(r.Context(), runID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		h.logger.Error("get report", slog.String("run_id", runID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListArchive enumerates archived report blobs.
// GET /api/v1/reports/archive
func (h *ReportHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "archival is disabled")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "reports/"
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.Error("list archive", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blobs": infos})
}
