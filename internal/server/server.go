// Package server exposes the daemon over HTTP: a JSON status and command
// API, a websocket carrying the same envelopes plus live status patches,
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wI2L/jsondiff"

	"github.com/audiolibrelab/pipecast/internal/ipc"
)

// Submitter executes daemon requests, normally the manager
type Submitter interface {
	Submit(ctx context.Context, req ipc.DaemonRequest) ipc.DaemonResponse
}

// PatchSource hands out status patch subscriptions
type PatchSource interface {
	Subscribe() (<-chan jsondiff.Patch, func())
}

// Server represents the HTTP API of a running daemon
type Server struct {
	daemon   Submitter
	patches  PatchSource
	settings ipc.HTTPSettings

	upgrader websocket.Upgrader
}

// New creates a server for the given settings
func New(settings ipc.HTTPSettings, daemon Submitter, patches PatchSource) *Server {
	s := &Server{
		daemon:   daemon,
		patches:  patches,
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
	if settings.CorsEnabled {
		s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return s
}

// Address returns host:port the server listens on
func (s *Server) Address() string {
	return net.JoinHostPort(s.settings.BindAddress, strconv.Itoa(int(s.settings.Port)))
}

// Handler returns the routes of the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/websocket", s.handleWebsocket)
	mux.Handle("/metrics", promhttp.Handler())

	if s.settings.CorsEnabled {
		return cors(mux)
	}
	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// websocket handlers outlive Shutdown and follow ctx instead
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}

	slog.Info("Starting HTTP API",
		"address", srv.Addr,
		"url", fmt.Sprintf("http://%s", srv.Addr),
		"cors", s.settings.CorsEnabled)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP API: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// handleStatus returns the current daemon status document
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := s.daemon.Submit(r.Context(), ipc.GetStatus())
	if resp.Status == nil {
		message := "status unavailable"
		if err := resp.Error(); err != nil {
			message = err.Error()
		}
		writeError(w, http.StatusServiceUnavailable, message)
		return
	}
	writeJSON(w, resp.Status)
}

// handleCommand executes one request envelope and returns the response
// envelope
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ipc.Request
	body := http.MaxBytesReader(w, r.Body, ipc.MaxFrameSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	slog.Debug("HTTP command received", "id", req.ID, "request", req.Data.Variant())
	resp := s.daemon.Submit(r.Context(), req.Data)
	writeJSON(w, ipc.Response{ID: req.ID, Data: resp})
}

// handleWebsocket carries request envelopes in both directions and pushes
// status patches with the reserved patch id
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	patches, unsubscribe := s.patches.Subscribe()
	defer unsubscribe()

	out := make(chan ipc.Response, 16)
	slog.Debug("Websocket client connected", "remote", r.RemoteAddr)

	// Writer goroutine.
	go func() {
		defer func() {
			cancel()
			conn.Close()
		}()
		for {
			var msg ipc.Response
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(time.Second))
				return
			case patch, ok := <-patches:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "patch stream overflow"),
						time.Now().Add(time.Second))
					return
				}
				msg = ipc.Response{ID: ipc.PatchID, Data: ipc.PatchResponse(patch)}
			case msg = <-out:
			}

			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	// Reader loop.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var req ipc.Request
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Debug("Closing websocket after invalid request", "error", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInvalidFramePayloadData, "invalid request"),
				time.Now().Add(time.Second))
			break
		}

		resp := s.daemon.Submit(ctx, req.Data)
		select {
		case out <- ipc.Response{ID: req.ID, Data: resp}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	slog.Debug("Websocket client disconnected", "remote", r.RemoteAddr)
}

// cors allows any origin, as local web UIs are served from arbitrary ports
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
