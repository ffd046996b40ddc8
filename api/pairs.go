package api

import (
	"encoding/json"
	"net/http"

	"github.com/xraph/bridge/event"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/pair"
)

// pairRequest accepts either explicit endpoints or the flat
// discord_channel_id / telegram_chat_id form, which creates a Discord to
// Telegram pair.
type pairRequest struct {
	Source      *pair.Endpoint `json:"source,omitempty"`
	Destination *pair.Endpoint `json:"destination,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
	Mode        pair.Mode      `json:"mode,omitempty"`

	DiscordChannelID json.Number `json:"discord_channel_id,omitempty"`
	TelegramChatID   json.Number `json:"telegram_chat_id,omitempty"`
}

func (req pairRequest) input(pairID id.ID) pair.Input {
	in := pair.Input{
		ID:       pairID,
		ThreadID: req.ThreadID,
		Mode:     req.Mode,
	}
	if req.Source != nil {
		in.Source = *req.Source
	} else if req.DiscordChannelID != "" {
		in.Source = pair.Endpoint{Platform: event.Discord, ChannelID: req.DiscordChannelID.String()}
	}
	if req.Destination != nil {
		in.Destination = *req.Destination
	} else if req.TelegramChatID != "" {
		in.Destination = pair.Endpoint{Platform: event.Telegram, ChannelID: req.TelegramChatID.String()}
	}
	return in
}

func (h *Handler) listPairs(w http.ResponseWriter, _ *http.Request) {
	pairs := h.bridge.Pairs().List()
	if pairs == nil {
		pairs = []pair.Pair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (h *Handler) createPair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.bridge.Pairs().Upsert(r.Context(), req.input(id.Nil))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) getPair(w http.ResponseWriter, r *http.Request) {
	pairID, err := id.ParsePairID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pair ID")
		return
	}

	p, ok := h.bridge.Pairs().Get(pairID)
	if !ok {
		writeError(w, http.StatusNotFound, "bridge pair not found")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) updatePair(w http.ResponseWriter, r *http.Request) {
	pairID, err := id.ParsePairID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pair ID")
		return
	}

	var req pairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, updateErr := h.bridge.Pairs().Upsert(r.Context(), req.input(pairID))
	if updateErr != nil {
		writeServiceError(w, updateErr)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) deletePair(w http.ResponseWriter, r *http.Request) {
	pairID, err := id.ParsePairID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pair ID")
		return
	}

	if removeErr := h.bridge.Pairs().Remove(r.Context(), pairID); removeErr != nil {
		writeServiceError(w, removeErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
