// Package httpapi provides the HTTP API for RefactorGen.
// It delegates all business logic to the engine service.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/jxucoder/refactorgen/engine"
	"github.com/jxucoder/refactorgen/model"
	"github.com/jxucoder/refactorgen/store"
)

// MaxCodeBytes bounds the snippet accepted by the optimize endpoint.
const MaxCodeBytes = 64 * 1024

var validate = validator.New()

// Handler provides the HTTP API for RefactorGen.
type Handler struct {
	svc     *engine.Service
	metrics http.Handler
	router  chi.Router
	logger  *slog.Logger
}

// New creates a new HTTP API handler. metricsHandler may be nil, in which
// case /metrics is not served.
func New(svc *engine.Service, metricsHandler http.Handler) *Handler {
	h := &Handler{svc: svc, metrics: metricsHandler, logger: slog.Default()}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/runs", h.handleCreateRun)
			r.Get("/runs", h.handleListRuns)
			r.Get("/runs/{id}", h.handleGetRun)
			r.Post("/runs/{id}/cancel", h.handleCancelRun)
		})
		// Optimize waits on the oracle, which has its own deadline.
		r.Post("/optimize", h.handleOptimize)
		r.Get("/runs/{id}/events", h.handleRunEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "RefactorGen API is running."})
	})

	return r
}

// --- Request/Response types ---

type createRunRequest struct {
	Locator string `json:"locator" validate:"required,max=2048"`
	// RepoURL is accepted as an alias for Locator.
	RepoURL string `json:"repo_url,omitempty"`
}

type createRunResponse struct {
	ID     string          `json:"id"`
	Status model.RunStatus `json:"status"`
}

type runResponse struct {
	Run    *model.Run    `json:"run"`
	Report *model.Report `json:"report"`
}

type optimizeRequest struct {
	Code string `json:"code" validate:"required,max=65536"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// --- Handlers ---

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Locator = strings.TrimSpace(req.Locator)
	if req.Locator == "" {
		req.Locator = strings.TrimSpace(req.RepoURL)
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	run, err := h.svc.CreateRun(req.Locator)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Error creating run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}
	writeJSON(w, http.StatusCreated, createRunResponse{ID: run.ID, Status: run.Status})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.Store().ListRuns()
	if err != nil {
		h.logger.Error("Error listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, report, err := h.svc.GetReport(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("Error loading run", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Report: report})
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	switch err := h.svc.CancelRun(id); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancel requested"})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, engine.ErrRunNotActive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Error canceling run", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel run")
	}
}

func (h *Handler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*MaxCodeBytes)
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "a valid 'code' string is required")
		return
	}

	res, err := h.svc.Optimize(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusUnprocessableEntity, "a valid 'code' string is required")
			return
		}
		h.logger.Warn("Optimization failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.svc.Store().GetRun(id); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch := h.svc.Bus().Subscribe(id)
	defer h.svc.Bus().Unsubscribe(id, ch)

	events, err := h.svc.Store().GetEvents(id, 0)
	if err != nil {
		h.logger.Error("Failed to load events", "run", id, "error", err)
		events = nil
	}
	var lastID int64
	for _, e := range events {
		h.writeSSE(w, e)
		lastID = e.ID
		if e.Type == "done" {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()
	if r.URL.Query().Get("follow") == "false" {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.ID != 0 && event.ID <= lastID {
				continue
			}
			h.writeSSE(w, event)
			flusher.Flush()
			if event.Type == "done" {
				return
			}
		}
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) writeSSE(w http.ResponseWriter, event *model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("writeSSE marshal error", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data)); err != nil {
		h.logger.Debug("writeSSE write error", "error", err)
	}
}

// validationMessage turns validator errors into a short client message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
