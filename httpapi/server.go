// Package httpapi exposes the approval console as a small JSON API: list
// pending approvals, inspect one, approve or deny it. Failures are
// logged server-side and returned as JSON error envelopes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenca/holdfast/gate"
)

type Server struct {
	gate   *gate.Gate
	log    *slog.Logger
	router *mux.Router
}

func NewServer(g *gate.Gate, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{gate: g, log: log, router: mux.NewRouter()}

	s.router.Use(s.requestID)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/approvals", s.handleListPending).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/approvals/{id}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/approvals/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/approvals/{id}/deny", s.handleDeny).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the console until ctx is canceled, then shuts it
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("console_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "holdfast"})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.gate.ListPending(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, "list_pending_error", err)
		return
	}
	out := make([]approvalView, 0, len(pending))
	for _, rec := range pending {
		out = append(out, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": out})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok, err := s.gate.Status(r.Context(), id)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, "get_approval_error", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorEnvelope("approval not found"))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

type approveRequest struct {
	Approver string `json:"approver"`
	LockCode string `json:"lock_code"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("invalid request body"))
		return
	}

	rec, err := s.gate.Approve(r.Context(), id, req.Approver, req.LockCode)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, viewOf(rec))
	case errors.Is(err, gate.ErrLockCode):
		s.log.Warn("console_approve_rejected", "id", id, "reason", "bad_lock_code")
		writeJSON(w, http.StatusForbidden, errorEnvelope("lock code mismatch"))
	case errors.Is(err, gate.ErrAlreadyResolved):
		s.log.Warn("console_approve_rejected", "id", id, "reason", "already_resolved")
		writeJSON(w, http.StatusConflict, errorEnvelope("approval already resolved"))
	case errors.Is(err, gate.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorEnvelope("approval not found"))
	default:
		s.fail(w, r, http.StatusInternalServerError, "console_approve_error", err)
	}
}

type denyRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req denyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("invalid request body"))
		return
	}

	rec, err := s.gate.Deny(r.Context(), id, req.Actor, req.Reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, viewOf(rec))
	case errors.Is(err, gate.ErrAlreadyResolved):
		s.log.Warn("console_deny_rejected", "id", id, "reason", "already_resolved")
		writeJSON(w, http.StatusConflict, errorEnvelope("approval already resolved"))
	case errors.Is(err, gate.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorEnvelope("approval not found"))
	default:
		s.fail(w, r, http.StatusInternalServerError, "console_deny_error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, code int, event string, err error) {
	s.log.Error(event, "path", r.URL.Path, "request_id", requestIDFrom(r.Context()), "error", err.Error())
	writeJSON(w, code, errorEnvelope(err.Error()))
}

type approvalView struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Amount      *float64       `json:"amount,omitempty"`
	Currency    string         `json:"currency,omitempty"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	Approver    string         `json:"approver,omitempty"`
	DeniedBy    string         `json:"denied_by,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Executed    bool           `json:"executed"`
}

func viewOf(rec gate.ApprovalRecord) approvalView {
	return approvalView{
		ID:          rec.ID,
		Description: rec.Description,
		Metadata:    rec.Metadata,
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt,
		Approver:    rec.Approver,
		DeniedBy:    rec.DeniedBy,
		Reason:      rec.Reason,
		ResolvedAt:  rec.ResolvedAt,
		Executed:    rec.Executed,
	}
}

func errorEnvelope(msg string) map[string]any {
	return map[string]any{"error": msg}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
