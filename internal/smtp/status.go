package smtp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// HealthStats is the body served on /healthz.
type HealthStats struct {
	Status           string    `json:"status"`
	Uptime           int64     `json:"uptime"`           // seconds
	UptimeFormatted  string    `json:"uptime_formatted"` // human readable
	StartedAt        time.Time `json:"started_at"`
	ListenAddr       string    `json:"listen_addr"`
	Store            string    `json:"store"`
	ActiveSessions   int64     `json:"active_sessions"`
	MessagesAccepted int64     `json:"messages_accepted"`
}

// StatusRouter returns the router for the status endpoint.
func (s *Server) StatusRouter() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)

	stats := HealthStats{
		Status:           "ok",
		Uptime:           int64(uptime.Seconds()),
		UptimeFormatted:  uptime.Round(time.Second).String(),
		StartedAt:        s.startTime,
		ListenAddr:       s.listenAddr(),
		Store:            s.store.Type(),
		ActiveSessions:   s.metrics.ActiveSessions(),
		MessagesAccepted: s.metrics.AcceptedMessages(),
	}
	if s.closing.Load() {
		stats.Status = "closing"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Error("Failed to encode health response", "error", err)
	}
}
