// Package web exposes the bridge's REST surface: health, auth status,
// the device registry, auto-mode status, and a restart hook.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stbridge/stbridge-go/pkg/auth"
	"github.com/stbridge/stbridge-go/pkg/automode"
	"github.com/stbridge/stbridge-go/pkg/plugin"
)

// DeviceSource is the registry view the server reads.
type DeviceSource interface {
	Snapshots() []plugin.DeviceSnapshot
	PairedIDs() []string
}

// AuthSource is the token view the server reads.
type AuthSource interface {
	HasAuth() bool
	Token() *auth.Token
}

// ModeSource is the auto-mode view the server reads.
type ModeSource interface {
	CurrentMode() automode.Mode
	EnrolledIDs() []string
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Port    int
	Version string

	Devices  DeviceSource
	Auth     AuthSource
	AutoMode ModeSource

	// Restart is invoked by POST /api/system/restart. Nil disables the
	// endpoint.
	Restart func()

	Logger *slog.Logger
}

// Server is the bridge's HTTP API server.
type Server struct {
	cfg    ServerConfig
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.mux,
	}
	return s
}

// Handler returns the route handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/auth/status", s.handleAuthStatus)
	s.mux.HandleFunc("/api/devices", s.handleDevices)
	s.mux.HandleFunc("/api/devices/", s.handleDeviceByID)
	s.mux.HandleFunc("/api/automode/status", s.handleAutoModeStatus)
	s.mux.HandleFunc("/api/system/restart", s.handleRestart)
}

// deviceDoc is the wire form of one device.
type deviceDoc struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	Thermostat   bool            `json:"thermostat"`
	Capabilities []string        `json:"capabilities"`
	State        *deviceStateDoc `json:"state,omitempty"`
}

type deviceStateDoc struct {
	Temperature     float64   `json:"temperature"`
	HeatingSetpoint *float64  `json:"heatingSetpoint,omitempty"`
	CoolingSetpoint *float64  `json:"coolingSetpoint,omitempty"`
	Mode            string    `json:"mode"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toDeviceDoc(snap plugin.DeviceSnapshot) deviceDoc {
	doc := deviceDoc{
		ID:           snap.Device.ID,
		Name:         snap.Device.Name,
		Manufacturer: snap.Device.Manufacturer,
		Thermostat:   snap.Device.IsThermostatLike(),
		Capabilities: snap.Device.Capabilities.IDs(),
	}
	if !snap.State.UpdatedAt.IsZero() {
		doc.State = &deviceStateDoc{
			Temperature:     snap.State.Temperature,
			HeatingSetpoint: snap.State.HeatingSetpoint,
			CoolingSetpoint: snap.State.CoolingSetpoint,
			Mode:            string(snap.State.Mode),
			UpdatedAt:       snap.State.UpdatedAt,
		}
	}
	return doc
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	version := s.cfg.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version,
	})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]any{"authenticated": s.cfg.Auth.HasAuth()}
	if tok := s.cfg.Auth.Token(); tok != nil {
		resp["expiresAt"] = tok.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snaps := s.cfg.Devices.Snapshots()
	docs := make([]deviceDoc, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, toDeviceDoc(snap))
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDeviceByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	for _, snap := range s.cfg.Devices.Snapshots() {
		if snap.Device.ID == id {
			writeJSON(w, http.StatusOK, toDeviceDoc(snap))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
}

func (s *Server) handleAutoModeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	enrolled := s.cfg.AutoMode.EnrolledIDs()
	if enrolled == nil {
		enrolled = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":              string(s.cfg.AutoMode.CurrentMode()),
		"enrolledDeviceIds": enrolled,
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Restart == nil {
		http.Error(w, "Restart not supported", http.StatusNotImplemented)
		return
	}

	s.logger.Info("restart requested via API")
	go s.cfg.Restart()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Close shuts the server down, letting in-flight requests finish.
func (s *Server) Close(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
