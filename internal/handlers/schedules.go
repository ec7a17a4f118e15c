package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"resync/internal/db"
	"resync/internal/rsync"
)

// ScheduleRequest is the body of POST /api/schedules.
type ScheduleRequest struct {
	Name           string        `json:"name"`
	Source         string        `json:"source"`
	Dest           string        `json:"dest"`
	Options        rsync.Options `json:"options"`
	CronExpression string        `json:"cron_expression"`
	Enabled        *bool         `json:"enabled"`
}

// Schedules handles GET and POST /api/schedules
func (h *Handler) Schedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listSchedules(w, r)
	case http.MethodPost:
		h.createSchedule(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listSchedules(w http.ResponseWriter, _ *http.Request) {
	jobs, err := h.db.ListScheduledJobs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, scheduleView(job))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Source == "" || req.Dest == "" {
		http.Error(w, "name, source and dest are required", http.StatusBadRequest)
		return
	}

	nextRun, err := h.scheduler.NextRun(req.CronExpression)
	if err != nil {
		http.Error(w, "invalid cron expression: "+err.Error(), http.StatusBadRequest)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	job := &db.ScheduledJob{
		Name:           req.Name,
		Source:         req.Source,
		Dest:           req.Dest,
		Options:        req.Options,
		CronExpression: req.CronExpression,
		Enabled:        enabled,
		NextRunAt:      &nextRun,
	}

	created, err := h.db.CreateScheduledJob(job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, scheduleView(created))
}

// ScheduleRoutes handles /api/schedules/{id}[/enable|/disable]
func (h *Handler) ScheduleRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		http.NotFound(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			job, err := h.db.GetScheduledJob(id)
			if err != nil {
				http.NotFound(w, r)
				return
			}
			h.writeJSON(w, http.StatusOK, scheduleView(job))
		case http.MethodDelete:
			if err := h.db.DeleteScheduledJob(id); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch parts[3] {
	case "enable":
		err = h.db.SetJobEnabled(id, true)
	case "disable":
		err = h.db.SetJobEnabled(id, false)
	default:
		http.NotFound(w, r)
		return
	}

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func scheduleView(job *db.ScheduledJob) map[string]any {
	view := map[string]any{
		"id":              job.ID,
		"name":            job.Name,
		"source":          job.Source,
		"dest":            job.Dest,
		"options":         job.Options,
		"cron_expression": job.CronExpression,
		"enabled":         job.Enabled,
		"created_at":      job.CreatedAt.Format(time.RFC3339),
	}
	if job.LastRunAt != nil {
		view["last_run_at"] = job.LastRunAt.Format(time.RFC3339)
	}
	if job.NextRunAt != nil {
		view["next_run_at"] = job.NextRunAt.Format(time.RFC3339)
	}
	return view
}
