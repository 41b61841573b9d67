package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/Kioku/common/version"
	"github.com/bdobrica/Kioku/internal/kioku/facts"
	"github.com/bdobrica/Kioku/internal/kioku/ledger"
	"github.com/bdobrica/Kioku/internal/kioku/settings"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// AdminServer exposes /health, /status, and per-chat settings and stats
// endpoints. It is optional; Kioku runs without it when HTTPAddr is empty.
type AdminServer struct {
	addr      string
	store     *store.Store
	ledger    *ledger.Ledger
	facts     *facts.Store
	settings  *settings.Registry
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit"`
	BuildTime  string    `json:"build_time"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	ChatCount  int       `json:"chat_count"`
}

// settingsResponse is returned by the chat settings endpoints.
type settingsResponse struct {
	ChatID            string  `json:"chat_id"`
	Tone              string  `json:"tone"`
	Temperature       float64 `json:"temperature"`
	ModelName         string  `json:"model_name"`
	ContextWindowSize int     `json:"context_window_size"`
}

// settingsPatch is the body accepted by PATCH; absent fields are left
// unchanged.
type settingsPatch struct {
	Tone              *string  `json:"tone"`
	Temperature       *float64 `json:"temperature"`
	ModelName         *string  `json:"model_name"`
	ContextWindowSize *int     `json:"context_window_size"`
}

// statsResponse is returned by GET /chats/{id}/stats.
type statsResponse struct {
	ChatID         string `json:"chat_id"`
	MessageCount   int    `json:"message_count"`
	FactCount      int    `json:"fact_count"`
	LatestSequence int64  `json:"latest_sequence"`
}

// errorResponse is the JSON body for non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

// NewAdminServer creates and configures the HTTP server (does not start it).
func NewAdminServer(addr string, db *store.Store, l *ledger.Ledger, f *facts.Store, s *settings.Registry) *AdminServer {
	mux := http.NewServeMux()
	as := &AdminServer{
		addr:      addr,
		store:     db,
		ledger:    l,
		facts:     f,
		settings:  s,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("GET /health", as.handleHealth)
	mux.HandleFunc("GET /status", as.handleStatus)
	mux.HandleFunc("GET /chats/{id}/settings", as.handleGetSettings)
	mux.HandleFunc("PATCH /chats/{id}/settings", as.handlePatchSettings)
	mux.HandleFunc("GET /chats/{id}/stats", as.handleGetStats)
	return as
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener (e.g. with httptest.NewRecorder).
func (a *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. Blocks until the listener is
// established so the caller knows the port is open before returning.
func (a *AdminServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("admin server: listen %s: %w", a.addr, err)
	}

	a.server = &http.Server{
		Handler:      a,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("admin server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server stopped", "err", err)
		}
	}()

	// Shutdown when ctx is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin server shutdown error", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (a *AdminServer) Stop() {
	if a.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		slog.Warn("admin server shutdown error", "err", err)
	}
}

// handleHealth reports whether the service can reach its database.
func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	}
	status := http.StatusOK
	if a.store != nil {
		if err := a.store.Ping(r.Context()); err != nil {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// handleStatus responds with runtime statistics.
func (a *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	chatCount := 0
	if a.ledger != nil {
		if n, err := a.ledger.ChatCount(r.Context()); err == nil {
			chatCount = n
		}
	}

	uptime := time.Since(a.startedAt).Seconds()
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  a.startedAt,
		UptimeSecs: uptime,
		ChatCount:  chatCount,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetSettings returns the chat's settings, materializing defaults for
// a chat seen for the first time.
func (a *AdminServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	set, err := a.settings.Get(r.Context(), chatID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(set))
}

// handlePatchSettings applies a partial settings update. A validation
// failure rejects the whole patch and the stored settings stay unchanged.
func (a *AdminServer) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	var patch settingsPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	set, err := a.settings.Update(r.Context(), chatID, settings.Update{
		Tone:              patch.Tone,
		Temperature:       patch.Temperature,
		ModelName:         patch.ModelName,
		ContextWindowSize: patch.ContextWindowSize,
	})
	if err != nil {
		var ve *settings.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: ve.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(set))
}

// handleGetStats returns message and fact counts for a chat.
func (a *AdminServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	ctx := r.Context()

	msgCount, err := a.ledger.MessageCount(ctx, chatID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	factCount, err := a.facts.FactCount(ctx, chatID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	latest, err := a.ledger.LatestSequence(ctx, chatID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		ChatID:         chatID,
		MessageCount:   msgCount,
		FactCount:      factCount,
		LatestSequence: latest,
	})
}

func toSettingsResponse(set *settings.Settings) settingsResponse {
	return settingsResponse{
		ChatID:            set.ChatID,
		Tone:              set.Tone,
		Temperature:       set.Temperature,
		ModelName:         set.ModelName,
		ContextWindowSize: set.ContextWindowSize,
	}
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("admin: failed to encode JSON response", "err", err)
	}
}
