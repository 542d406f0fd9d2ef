package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ringsim/internal/domain"
	"github.com/alanyoungcy/ringsim/internal/server/ws"
	"github.com/alanyoungcy/ringsim/internal/simulator"
)

// SimulateRequest is the body of a simulation call: the candidate batch and
// an optional reference timestamp overriding the server's clock.
type SimulateRequest struct {
	Batch          *domain.Batch `json:"batch"`
	BlockTimestamp uint64        `json:"blockTimestamp,omitempty"`
}

// SimulateHandler runs candidate batches against the server's ledger
// snapshot, persists the resulting reports, and streams events to WebSocket
// clients.
type SimulateHandler struct {
	logger   *slog.Logger
	sim      *simulator.Simulator
	baseRun  domain.RunContext
	store    domain.ReportStore
	archiver domain.Archiver // optional
	hub      *ws.Hub         // optional
}

// NewSimulateHandler wires the simulation endpoint. archiver and hub may be
// nil; persistence to store always happens.
func NewSimulateHandler(
	logger *slog.Logger,
	sim *simulator.Simulator,
	baseRun domain.RunContext,
	store domain.ReportStore,
	archiver domain.Archiver,
	hub *ws.Hub,
) *SimulateHandler {
	return &SimulateHandler{
		logger:   logHandler(logger, "simulate"),
		sim:      sim,
		baseRun:  baseRun,
		store:    store,
		archiver: archiver,
		hub:      hub,
	}
}

// Simulate validates and settles one batch.
// POST /api/v1/simulate
func (h *SimulateHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.Batch == nil {
		writeError(w, http.StatusBadRequest, "missing batch")
		return
	}

	run := h.baseRun
	switch {
	case req.BlockTimestamp != 0:
		run.BlockTimestamp = req.BlockTimestamp
	case run.BlockTimestamp == 0:
		run.BlockTimestamp = uint64(time.Now().Unix())
	}

	report, err := h.sim.Simulate(r.Context(), req.Batch, &run)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyBatch),
			errors.Is(err, domain.ErrMinerUnauthorized),
			errors.Is(err, domain.ErrConservation):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("simulation failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "simulation failed")
		}
		return
	}

	if h.store != nil {
		if err := h.store.Insert(r.Context(), report); err != nil {
			h.logger.Error("persist report", slog.String("run_id", report.RunID),
				slog.String("error", err.Error()))
		}
	}
	if h.archiver != nil {
		if path, err := h.archiver.ArchiveReport(r.Context(), report); err != nil {
			h.logger.Error("archive report", slog.String("run_id", report.RunID),
				slog.String("error", err.Error()))
		} else {
			h.logger.Info("report archived", slog.String("path", path))
		}
	}
	if h.hub != nil {
		for _, ev := range report.RingMinedEvents {
			h.hub.PublishJSON(ws.ChannelRings, ev)
		}
		h.hub.PublishJSON(ws.ChannelReports, map[string]any{
			"runId":     report.RunID,
			"mined":     len(report.RingMinedEvents),
			"transfers": len(report.Transfers),
		})
	}

	writeJSON(w, http.StatusOK, report)
}
