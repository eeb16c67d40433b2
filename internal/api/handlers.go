package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(r.Context(), "failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, errorResponse{Error: msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn(r.Context(), "failed to decode request", "error", err)
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil && !s.deps.Ready.Load() {
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

type startSessionRequest struct {
	GateID string `json:"gate_id" validate:"omitempty,max=128"`
	SiteID string `json:"site_id" validate:"omitempty,max=128"`
}

type startSessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.GateID == "" {
		req.GateID = s.cfg.GateID
	}
	if req.SiteID == "" {
		req.SiteID = s.cfg.SiteID
	}

	id, err := s.deps.Engine.Start(r.Context(), req.GateID, req.SiteID)
	if err != nil {
		if gate.IsValidationError(err) {
			s.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error(r.Context(), "failed to start session", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, r, http.StatusCreated, startSessionResponse{SessionID: id})
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.deps.Engine.Snapshot()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, gate.ErrNoActiveSession.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, snap)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	s.deps.Engine.Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type overrideRequest struct {
	// A blank reason is left to the engine, which reports state first.
	Reason   string `json:"reason" validate:"max=1024"`
	Operator string `json:"operator" validate:"omitempty,max=128"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req overrideRequest
	if !s.decode(w, r, &req) {
		s.metrics.IncOverrideRequests(ctx, "invalid")
		return
	}

	rec, err := s.deps.Engine.Override(ctx, req.Reason, req.Operator)
	switch {
	case err == nil:
		s.metrics.IncOverrideRequests(ctx, "approved")
		s.writeJSON(w, r, http.StatusOK, rec)
	case errors.Is(err, gate.ErrOverrideUnavailable):
		s.metrics.IncOverrideRequests(ctx, "unavailable")
		s.writeError(w, r, http.StatusConflict, err.Error())
	case gate.IsValidationError(err):
		s.metrics.IncOverrideRequests(ctx, "invalid")
		s.writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(ctx, "override failed", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audits == nil {
		s.writeJSON(w, r, http.StatusOK, []gate.AuditRecord{})
		return
	}

	gateID := r.URL.Query().Get("gate_id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.deps.Audits.ListOverrides(r.Context(), gateID, limit)
	if err != nil {
		s.logger.Error(r.Context(), "failed to list overrides", "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []gate.AuditRecord{}
	}
	s.writeJSON(w, r, http.StatusOK, records)
}

type manualScanRequest struct {
	Key string `json:"key" validate:"required,len=1"`
}

func (s *Server) handleManualScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req manualScanRequest
	if !s.decode(w, r, &req) {
		s.metrics.IncManualScans(ctx, false)
		return
	}

	if err := s.deps.Manual.PressKey(ctx, req.Key); err != nil {
		if errors.Is(err, gate.ErrUnknownItemKind) {
			s.metrics.IncManualScans(ctx, false)
			s.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		// Drops such as a closed session are not request faults.
		s.logger.Debug(ctx, "Manual scan not applied", "key", req.Key, "error", err)
	}
	s.metrics.IncManualScans(ctx, true)
	w.WriteHeader(http.StatusAccepted)
}

type scanStartResponse struct {
	Started bool `json:"started"`
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	started, err := s.deps.Tag.RequestScanStart(r.Context())
	if err != nil {
		s.logger.Warn(r.Context(), "start-scan request could not be built", "error", err)
	}
	s.writeJSON(w, r, http.StatusOK, scanStartResponse{Started: started})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxFrameBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "frame too large")
			return
		}
		s.writeError(w, r, http.StatusBadRequest, "failed to read frame")
		return
	}
	if len(data) == 0 {
		s.writeError(w, r, http.StatusBadRequest, "empty frame")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	s.deps.Frames.Put(gate.Frame{Data: data, ContentType: contentType})
	w.WriteHeader(http.StatusNoContent)
}

type tagConnectionResponse struct {
	State string `json:"state"`
}

func (s *Server) handleTagConnection(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, tagConnectionResponse{State: string(s.deps.Tag.ConnectionState())})
}
