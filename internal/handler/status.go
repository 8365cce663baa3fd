package handler

import (
	"net/http"
	"time"

	"ovbus/internal/hub"
	"ovbus/internal/refdata"
	"ovbus/internal/store"
)

type StatusHandler struct {
	live     *store.LiveStore
	refStore *refdata.Store
	hub      *hub.Hub
}

func NewStatusHandler(live *store.LiveStore, refStore *refdata.Store, h *hub.Hub) *StatusHandler {
	return &StatusHandler{live: live, refStore: refStore, hub: h}
}

type ReferenceStatus struct {
	VersionToken string    `json:"versionToken"`
	ExtractedAt  time.Time `json:"extractedAt"`
	TripCount    int       `json:"tripCount"`
}

type StatusResponse struct {
	Feeds       store.Status     `json:"feeds"`
	Reference   *ReferenceStatus `json:"reference,omitempty"`
	LiveClients int              `json:"liveClients"`
	ServerTime  time.Time        `json:"serverTime"`
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Feeds:       h.live.Status(),
		LiveClients: h.hub.ClientCount(),
		ServerTime:  time.Now(),
	}

	if snap := h.refStore.Active(); snap != nil {
		resp.Reference = &ReferenceStatus{
			VersionToken: snap.VersionToken,
			ExtractedAt:  snap.ExtractedAt,
			TripCount:    len(snap.TripIDs),
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
