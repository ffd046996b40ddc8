package api

import (
	"net/http"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/heartbeat"
)

type statsResponse struct {
	bridge.Stats
	DLQSize int64 `json:"dlq_size"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	dlqCount, err := h.bridge.DLQ().Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Stats:   h.bridge.Stats(),
		DLQSize: dlqCount,
	})
}

func (h *Handler) getHeartbeat(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.bridge.Heartbeat().Snapshot())
}

type healthResponse struct {
	Status    string                                      `json:"status"`
	Platforms map[event.Platform]heartbeat.PlatformStatus `json:"platforms"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	snap := h.bridge.Heartbeat().Snapshot()
	if !snap.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Platforms: snap.Platforms})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Platforms: snap.Platforms})
}
