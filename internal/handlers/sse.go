package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"resync/internal/types"
)

// TransferProgressData is sent via SSE during transfers
type TransferProgressData struct {
	State               string  `json:"state"`
	OverallFraction     float64 `json:"overall_fraction"`
	CurrentFileFraction float64 `json:"current_file_fraction"`
	Speed               string  `json:"speed"`
	ETA                 string  `json:"eta"`
	BytesTransferred    string  `json:"bytes_transferred"`
	FilesTransferred    uint64  `json:"files_transferred"`
	TotalFiles          uint64  `json:"total_files"`
	Log                 string  `json:"log"`
	Errors              string  `json:"errors"`
	Finished            bool    `json:"finished"`
}

// TransferProgressSSE handles SSE connections for transfer progress
func (h *Handler) TransferProgressSSE(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// sse transfer {handle}
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}
	handle := parts[2]

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe to updates
	updates := h.supervisor.Subscribe(handle)
	defer h.supervisor.Unsubscribe(handle, updates)

	// Send initial state
	if h.supervisor.Handle() == handle {
		snap := h.supervisor.Snapshot()
		h.sendTransferProgress(w, flusher, &snap)
		if snap.Finished {
			h.sendEvent(w, flusher, "complete", `{"state":"`+snap.State+`"}`)
			return
		}
	}

	// Listen for updates
	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				// Channel closed, send complete event
				snap := h.supervisor.Snapshot()
				h.sendEvent(w, flusher, "complete", `{"state":"`+snap.State+`"}`)
				return
			}
			h.sendTransferProgress(w, flusher, update)
		}
	}
}

func (h *Handler) sendTransferProgress(w http.ResponseWriter, flusher http.Flusher, snap *types.JobSnapshot) {
	data := TransferProgressData{
		State:               snap.State,
		OverallFraction:     snap.OverallFraction,
		CurrentFileFraction: snap.CurrentFileFraction,
		Speed:               snap.Speed,
		ETA:                 snap.ETA,
		BytesTransferred:    FormatBytes(snap.BytesTransferred),
		FilesTransferred:    snap.FilesTransferred,
		TotalFiles:          snap.TotalFiles,
		Log:                 strings.Join(snap.Log, "\n"),
		Errors:              strings.Join(snap.Errors, "\n"),
		Finished:            snap.Finished,
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	h.sendEvent(w, flusher, "progress", string(payload))
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: " + data + "\n\n"))
	flusher.Flush()
}
