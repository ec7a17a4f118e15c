// Package handlers exposes the observer boundary over HTTP: a start/cancel
// control surface, read-only job snapshots, run history, and scheduled-job
// management. Observers poll the snapshot endpoint or subscribe to the SSE
// stream; they never touch the subprocess directly.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"resync/internal/config"
	"resync/internal/db"
	"resync/internal/rsync"
	"resync/internal/scheduler"
	"resync/internal/services"
)

// Handler holds all HTTP handlers
type Handler struct {
	db         *db.DB
	cfg        *config.Config
	runner     rsync.RunnerInterface
	supervisor *services.Supervisor
	scheduler  *scheduler.Scheduler
	logger     *log.Logger
	version    string
}

// New creates a new Handler
func New(database *db.DB, cfg *config.Config, runner rsync.RunnerInterface, supervisor *services.Supervisor, sched *scheduler.Scheduler, logger *log.Logger, version string) *Handler {
	return &Handler{
		db:         database,
		cfg:        cfg,
		runner:     runner,
		supervisor: supervisor,
		scheduler:  sched,
		logger:     logger,
		version:    version,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Transfers
	mux.HandleFunc("/api/transfers", h.Transfers)
	mux.HandleFunc("/api/transfers/", h.TransferRoutes)

	// Run history
	mux.HandleFunc("/api/runs", h.Runs)
	mux.HandleFunc("/api/runs/", h.Run)

	// Scheduled jobs
	mux.HandleFunc("/api/schedules", h.Schedules)
	mux.HandleFunc("/api/schedules/", h.ScheduleRoutes)

	// Health
	mux.HandleFunc("/api/health", h.Health)

	// SSE
	mux.HandleFunc("/sse/transfer/", h.TransferProgressSSE)
}

// StartRequest is the body of POST /api/transfers.
type StartRequest struct {
	Source  string        `json:"source"`
	Dest    string        `json:"dest"`
	Options rsync.Options `json:"options"`
}

// Transfers handles GET and POST /api/transfers
func (h *Handler) Transfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, h.snapshotView())
	case http.MethodPost:
		h.StartTransfer(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// StartTransfer handles POST /api/transfers
func (h *Handler) StartTransfer(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Source == "" || req.Dest == "" {
		http.Error(w, "source and dest are required", http.StatusBadRequest)
		return
	}

	job := services.JobRequest{
		Source:  req.Source,
		Dest:    req.Dest,
		Options: req.Options,
	}

	handle, err := h.supervisor.Start(r.Context(), job, nil)
	if err != nil {
		// The snapshot carries the preflight diagnostics; return it so the
		// observer can render them.
		h.writeJSON(w, http.StatusConflict, map[string]any{
			"error":    err.Error(),
			"handle":   handle,
			"snapshot": h.snapshotView(),
		})
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"handle":   handle,
		"snapshot": h.snapshotView(),
	})
}

// TransferRoutes handles /api/transfers/{handle}[/cancel|/ack]
func (h *Handler) TransferRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// api transfers {handle} [action]
	if len(parts) < 3 {
		http.NotFound(w, r)
		return
	}
	handle := parts[2]

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.supervisor.Handle() != handle {
			h.archivedRun(w, r, handle)
			return
		}
		h.writeJSON(w, http.StatusOK, h.snapshotView())
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch parts[3] {
	case "cancel":
		if err := h.supervisor.Cancel(handle); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	case "ack":
		if err := h.supervisor.Acknowledge(handle); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	default:
		http.NotFound(w, r)
	}
}

// archivedRun serves the snapshot of a past run from the database.
func (h *Handler) archivedRun(w http.ResponseWriter, r *http.Request, handle string) {
	run, err := h.db.GetSyncRunByHandle(handle)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	h.writeJSON(w, http.StatusOK, runView(run))
}

// Runs handles GET /api/runs
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	runs, err := h.db.ListSyncRuns(limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView(run))
	}
	h.writeJSON(w, http.StatusOK, views)
}

// Run handles GET /api/runs/{id}
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	run, err := h.db.GetSyncRun(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	h.writeJSON(w, http.StatusOK, runView(run))
}

// Health handles GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rsyncOK := h.runner.CheckInstalled(r.Context()) == nil
	h.writeJSON(w, http.StatusOK, map[string]any{
		"version": h.version,
		"rsync":   rsyncOK,
		"state":   string(h.supervisor.State()),
	})
}

func (h *Handler) snapshotView() map[string]any {
	snap := h.supervisor.Snapshot()
	return map[string]any{
		"snapshot":          snap,
		"bytes_transferred": FormatBytes(snap.BytesTransferred),
	}
}

func runView(run *db.SyncRun) map[string]any {
	view := map[string]any{
		"id":                run.ID,
		"handle":            run.Handle,
		"source":            run.Source,
		"dest":              run.Dest,
		"status":            string(run.Status),
		"started_at":        run.StartedAt,
		"total_files":       run.TotalFiles,
		"files_transferred": run.FilesTransferred,
		"bytes_transferred": FormatBytes(run.BytesTransferred),
	}
	if run.CompletedAt != nil {
		view["completed_at"] = *run.CompletedAt
	}
	if run.ErrorMessage != nil {
		view["error"] = *run.ErrorMessage
	}
	if run.ScheduledJobID != nil {
		view["scheduled_job_id"] = *run.ScheduledJobID
	}
	return view
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to encode response", "err", err)
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if val := r.URL.Query().Get(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil && i >= 0 {
			return i
		}
	}
	return defaultVal
}
