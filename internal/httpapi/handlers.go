package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/channel"
	"github.com/emberlight/realtime-backend/internal/hub"
)

type api struct {
	hub *hub.Hub
	log *zap.Logger
}

func (a *api) Stats(w http.ResponseWriter, _ *http.Request) {
	reply := make(chan hub.Stats, 1)
	a.hub.Inbox() <- hub.StatsRequest{Reply: reply}
	writeJSON(w, http.StatusOK, <-reply)
}

func (a *api) Online(w http.ResponseWriter, _ *http.Request) {
	reply := make(chan []hub.OnlinePlayer, 1)
	a.hub.Inbox() <- hub.OnlineRequest{Reply: reply}
	players := <-reply
	if players == nil {
		players = []hub.OnlinePlayer{}
	}
	writeJSON(w, http.StatusOK, players)
}

func (a *api) Channels(w http.ResponseWriter, _ *http.Request) {
	reply := make(chan []channel.GroupSnapshot, 1)
	a.hub.Inbox() <- hub.ChannelsRequest{Reply: reply}
	groups := <-reply
	if groups == nil {
		groups = []channel.GroupSnapshot{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (a *api) Kick(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	if userID == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	reply := make(chan bool, 1)
	a.hub.Inbox() <- hub.Kick{UserID: userID, Reason: "kicked by operator", Reply: reply}
	online := <-reply

	a.log.Info("kick requested", zap.String("user", userID), zap.Bool("online", online))
	writeJSON(w, http.StatusOK, map[string]bool{"wasOnline": online})
}

func (a *api) Announce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		http.Error(w, "missing text", http.StatusBadRequest)
		return
	}
	a.hub.Inbox() <- hub.Announce{Text: body.Text}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
