// Package gateway exposes the local diagnostics endpoint the CLI polls.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/channels"
	"github.com/nextlevelbuilder/larkbridge/internal/config"
	"github.com/nextlevelbuilder/larkbridge/internal/supervisor"
)

// StatusServer serves the per-account connection status over loopback HTTP.
type StatusServer struct {
	cfg     config.StatusConfig
	manager *channels.Manager
	version string

	httpServer *http.Server
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	Version  string                       `json:"version"`
	Uptime   string                       `json:"uptime"`
	Accounts map[string]supervisor.Status `json:"accounts"`
}

// NewStatusServer creates a status server over the channel manager.
func NewStatusServer(cfg config.StatusConfig, manager *channels.Manager, version string) *StatusServer {
	return &StatusServer{cfg: cfg, manager: manager, version: version}
}

// Addr returns the listen address, applying defaults.
func (s *StatusServer) Addr() string {
	host := s.cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := s.cfg.Port
	if port == 0 {
		port = config.DefaultStatusPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Run listens until ctx is cancelled. A negative configured port disables
// the endpoint; Run then just blocks on ctx.
func (s *StatusServer) Run(ctx context.Context) error {
	if s.cfg.Port < 0 {
		slog.Debug("Status endpoint disabled")
		<-ctx.Done()
		return nil
	}

	started := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Version:  s.version,
			Uptime:   time.Since(started).Round(time.Second).String(),
			Accounts: s.manager.GetStatus(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := s.Addr()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("Status endpoint listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}
