// Package server implements the HTTP/SSE/WebSocket surface: metrics
// polling, session/workout control, HR ingest, config read/merge, and the
// two live-push transports. A client map plus a deepMerge-based config
// patch handler drive the WebSocket/SSE fan-out and the /api/config
// route around a rowing Core.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ergorower/ergocore/internal/config"
	"github.com/ergorower/ergocore/internal/core"
	"github.com/ergorower/ergocore/internal/session"
	"github.com/ergorower/ergocore/internal/telemetry"
)

// Version is the reported build version; overridden at link time via
// -ldflags in release builds.
var Version = "dev"

// Server exposes the HTTP API and the WebSocket/SSE live-push transports.
// It implements broadcast.Sink so the Core's fan-out can push the same
// cadence to both transports under one callback.
type Server struct {
	cfg    *config.Config
	core   *core.Core
	webFS  fs.FS
	log    *zap.Logger
	device string

	startedAt time.Time

	wsClientsMu sync.RWMutex
	wsClients   map[*wsClient]struct{}
	upgrader    websocket.Upgrader

	sseClientsMu sync.RWMutex
	sseClients   map[chan []byte]struct{}

	clientsGauge telemetry.Gauge
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// New builds a Server fronting the given Core. metric may be nil in tests;
// a nil provider leaves clientsGauge nil and updateClientsGauge skips it.
func New(cfg *config.Config, c *core.Core, webFS fs.FS, log *zap.Logger, metric telemetry.Provider) *Server {
	s := &Server{
		cfg:       cfg,
		core:      c,
		webFS:     webFS,
		log:       log,
		device:    cfg.Network.DeviceName,
		startedAt: time.Now(),
		wsClients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sseClients: make(map[chan []byte]struct{}),
	}
	if metric != nil {
		s.clientsGauge = metric.NewGauge("ergocore_broadcast_clients", "connected WebSocket and SSE clients")
	}
	return s
}

// updateClientsGauge reports the combined WebSocket+SSE client count.
// Callers must hold neither clients mutex exclusively when calling this;
// it takes its own read locks.
func (s *Server) updateClientsGauge() {
	if s.clientsGauge == nil {
		return
	}
	s.wsClientsMu.RLock()
	nws := len(s.wsClients)
	s.wsClientsMu.RUnlock()
	s.sseClientsMu.RLock()
	nsse := len(s.sseClients)
	s.sseClientsMu.RUnlock()
	s.clientsGauge.Set(float64(nws + nsse))
}

// IsConnected reports whether any WebSocket or SSE client is attached.
func (s *Server) IsConnected() bool {
	s.wsClientsMu.RLock()
	nws := len(s.wsClients)
	s.wsClientsMu.RUnlock()
	s.sseClientsMu.RLock()
	nsse := len(s.sseClients)
	s.sseClientsMu.RUnlock()
	return nws+nsse > 0
}

// Send fans payload out to every attached WebSocket and SSE client. A
// client whose send buffer is full misses this payload rather than
// blocking the sender; the client itself stays attached.
func (s *Server) Send(payload []byte) error {
	s.wsClientsMu.RLock()
	for c := range s.wsClients {
		select {
		case c.send <- payload:
		default:
		}
	}
	s.wsClientsMu.RUnlock()

	s.sseClientsMu.RLock()
	for ch := range s.sseClients {
		select {
		case ch <- payload:
		default:
		}
	}
	s.sseClientsMu.RUnlock()
	return nil
}

// Handler builds the full HTTP/SSE/WebSocket route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	mux.HandleFunc("/api/metrics", s.withCORS(s.handleMetrics))
	mux.HandleFunc("/api/status", s.withCORS(s.handleStatus))
	mux.HandleFunc("/api/config", s.withCORS(s.handleConfig))
	mux.HandleFunc("/api/config/reset", s.withCORS(s.handleConfigReset))
	mux.HandleFunc("/api/reset", s.withCORS(s.handleReset))
	mux.HandleFunc("/workout/", s.withCORS(s.handleWorkout))
	mux.HandleFunc("/live", s.withCORS(s.handleLive))
	mux.HandleFunc("/api/sessions", s.withCORS(s.handleSessionsCollection))
	mux.HandleFunc("/api/sessions/", s.withCORS(s.handleSessionsItem))
	mux.HandleFunc("/hr", s.withCORS(s.handleHR))
	mux.HandleFunc("/events", s.handleSSE)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/calibrate/inertia/", s.withCORS(s.handleCalibrate))

	return mux
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.core.MetricsStore().Get().View())
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.core.Sessions().State() != session.Running {
		writeError(w, http.StatusConflict, "not running")
		return
	}
	writeJSON(w, http.StatusOK, s.core.MetricsStore().Get().View())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.wsClientsMu.RLock()
	n := len(s.wsClients)
	s.wsClientsMu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":   Version,
		"device":    s.device,
		"wsClients": n,
		"uptime":    int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.cfg.Save(); err != nil {
			s.log.Warn("config save failed", zap.Error(err))
		}
		data, _ := s.cfg.ToJSON()
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleConfigReset erases the persisted config in favor of compiled-in
// defaults.
func (s *Server) handleConfigReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.cfg.ResetToDefaults()
	if err := s.cfg.Save(); err != nil {
		s.log.Warn("config save failed", zap.Error(err))
	}
	data, _ := s.cfg.ToJSON()
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.core.MetricsStore().Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWorkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cmd := strings.TrimPrefix(r.URL.Path, "/workout/")
	nowUs := time.Now().UnixMicro()
	sessions := s.core.Sessions()

	var err error
	resp := map[string]interface{}{}
	switch cmd {
	case "start":
		err = sessions.Start(nowUs)
	case "pause":
		err = sessions.Pause(nowUs)
	case "resume":
		err = sessions.Resume(nowUs)
	case "stop":
		var committed bool
		committed, err = sessions.Stop(nowUs)
		resp["committed"] = committed
	default:
		writeError(w, http.StatusNotFound, "unknown workout command")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	resp["status"] = "ok"
	resp["state"] = sessions.State().String()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		recs, err := s.core.Sessions().List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, recs)

	case http.MethodDelete:
		recs, err := s.core.Sessions().List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, rec := range recs {
			if rec.Synced {
				_ = s.core.Sessions().Delete(rec.ID)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type sampleSeries struct {
	TimeMs int64   `json:"time_ms"`
	Value  float64 `json:"value"`
}

func (s *Server) handleSessionsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(rest, "/")

	if rest == "synced" && r.Method == http.MethodDelete {
		s.handleSessionsCollection(w, r) // purges every synced record
		return
	}

	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad session id")
		return
	}

	if len(parts) == 2 && parts[1] == "synced" {
		switch r.Method {
		case http.MethodPost, http.MethodPut:
			if err := s.core.Sessions().MarkSynced(id); err != nil {
				s.sessionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.core.Sessions().Get(id)
		if err != nil {
			s.sessionError(w, err)
			return
		}
		rows, err := s.core.Sessions().Samples(id)
		if err != nil {
			s.sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"record":           rec,
			"heartRateSamples": hrSeries(rows),
			"powerSamples":     powerSeries(rows),
			"speedSamples":     speedSeries(rows),
		})

	case http.MethodDelete:
		if err := s.core.Sessions().Delete(id); err != nil {
			s.sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func hrSeries(rows []session.SampleRow) []sampleSeries {
	out := make([]sampleSeries, len(rows))
	for i, r := range rows {
		out[i] = sampleSeries{TimeMs: int64(i) * 1000, Value: float64(r.HRBpm)}
	}
	return out
}

func powerSeries(rows []session.SampleRow) []sampleSeries {
	out := make([]sampleSeries, len(rows))
	for i, r := range rows {
		out[i] = sampleSeries{TimeMs: int64(i) * 1000, Value: float64(r.PowerW)}
	}
	return out
}

func speedSeries(rows []session.SampleRow) []sampleSeries {
	out := make([]sampleSeries, len(rows))
	for i, r := range rows {
		out[i] = sampleSeries{TimeMs: int64(i) * 1000, Value: float64(r.VelocityCmS) / 100.0}
	}
	return out
}

func (s *Server) handleHR(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		nowUs := time.Now().UnixMicro()
		bpm, valid := s.core.HeartRate().Current(nowUs)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"bpm":    bpm,
			"valid":  valid,
			"status": s.core.HeartRate().GetStatus(),
		})

	case http.MethodPost:
		var body struct {
			Bpm uint8 `json:"bpm"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		nowUs := time.Now().UnixMicro()
		if !s.core.HeartRate().Update(body.Bpm, nowUs) {
			writeError(w, http.StatusBadRequest, "bpm out of range")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	cmd := strings.TrimPrefix(r.URL.Path, "/api/calibrate/inertia/")
	cal := s.core.Calibrator()

	switch cmd {
	case "start":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := cal.Start(time.Now().UnixMicro()); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		cal.Cancel()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case "apply":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		inertia, err := cal.Apply()
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.cfg.Physics.MomentOfInertia = inertia
		if err := s.cfg.Save(); err != nil {
			s.log.Warn("config save failed", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "momentOfInertia": inertia})

	case "status":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": cal.State().String()})

	default:
		writeError(w, http.StatusNotFound, "unknown calibration command")
	}
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	ch := make(chan []byte, 16)
	s.sseClientsMu.Lock()
	s.sseClients[ch] = struct{}{}
	s.sseClientsMu.Unlock()
	s.updateClientsGauge()

	defer func() {
		s.sseClientsMu.Lock()
		delete(s.sseClients, ch)
		s.sseClientsMu.Unlock()
		s.updateClientsGauge()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 16)}
	s.wsClientsMu.Lock()
	s.wsClients[client] = struct{}{}
	s.wsClientsMu.Unlock()
	s.updateClientsGauge()

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			s.wsClientsMu.Lock()
			delete(s.wsClients, client)
			s.wsClientsMu.Unlock()
			close(client.send)
			s.updateClientsGauge()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
