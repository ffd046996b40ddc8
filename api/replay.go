package api

import (
	"net/http"
	"time"

	"github.com/xraph/bridge/dlq"
	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
)

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	opts := dlq.ListOpts{
		Offset:   queryInt(r, "offset", 0),
		Limit:    queryInt(r, "limit", 50),
		Platform: event.Platform(queryParam(r, "platform")),
		Pending:  queryParam(r, "pending") == "true",
	}
	if v := queryParam(r, "pair_id"); v != "" {
		pairID, err := id.ParsePairID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pair ID")
			return
		}
		opts.PairID = &pairID
	}

	entries, err := h.bridge.DLQ().List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getDLQ(w http.ResponseWriter, r *http.Request) {
	dlqID, err := id.ParseDLQID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DLQ ID")
		return
	}

	entry, getErr := h.bridge.DLQ().Get(r.Context(), dlqID)
	if getErr != nil {
		writeServiceError(w, getErr)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) replayDLQ(w http.ResponseWriter, r *http.Request) {
	dlqID, err := id.ParseDLQID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DLQ ID")
		return
	}

	deliveryID, replayErr := h.bridge.DLQ().Replay(r.Context(), dlqID)
	if replayErr != nil {
		writeServiceError(w, replayErr)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"delivery_id": deliveryID.String()})
}

type replayBulkRequest struct {
	From string `json:"from"` // RFC3339
	To   string `json:"to"`   // RFC3339
}

func (h *Handler) replayBulkDLQ(w http.ResponseWriter, r *http.Request) {
	var req replayBulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
		return
	}

	count, replayErr := h.bridge.DLQ().ReplayBulk(r.Context(), from, to)
	if replayErr != nil {
		writeError(w, http.StatusInternalServerError, replayErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"replayed": count})
}

func (h *Handler) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	before, err := queryTime(r, "before")
	if err != nil || before == nil {
		writeError(w, http.StatusBadRequest, "'before' query parameter is required (use RFC3339)")
		return
	}

	count, purgeErr := h.bridge.DLQ().Purge(r.Context(), *before)
	if purgeErr != nil {
		writeError(w, http.StatusInternalServerError, purgeErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"purged": count})
}
