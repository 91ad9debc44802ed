package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"posecast-go/internal/config"
	"posecast-go/internal/registry"
	"posecast-go/internal/types"
)

type Server struct {
	upgrader websocket.Upgrader
	registry *registry.Registry
	cfg      config.AppConfig
	statusFn func() types.StatusSnapshot
}

const (
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

func New(cfg config.AppConfig, reg *registry.Registry, statusFn func() types.StatusSnapshot) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry: reg,
		cfg:      cfg,
		statusFn: statusFn,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Run serves the HTTP side-channel until ctx is cancelled.
func Run(ctx context.Context, cfg config.AppConfig, reg *registry.Registry, statusFn func() types.StatusSnapshot) error {
	srv := New(cfg, reg, statusFn)
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleWS registers the socket as a pose subscriber. Each pose line is
// sent as one text message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sub := &wsSubscriber{conn: conn}
	sub.connected.Store(true)
	id := s.registry.Register(sub)

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := sub.ping(); err != nil {
						sub.connected.Store(false)
						s.registry.Remove(id)
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.registry.Remove(id)
		defer sub.connected.Store(false)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"listen":            s.cfg.ListenAddr,
		"http_port":         s.cfg.HTTPPort,
		"endpoint":          s.cfg.Endpoint,
		"max_missed_frames": s.cfg.MaxMissedFrames,
		"write_timeout_ms":  s.cfg.WriteTimeout.Milliseconds(),
		"devices":           s.cfg.Devices,
		"debug":             s.cfg.Debug,
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := types.StatusSnapshot{Type: "status"}
	if s.statusFn != nil {
		payload = s.statusFn()
	}
	payload.Clients = s.registry.Len()
	_ = json.NewEncoder(w).Encode(payload)
}

// wsSubscriber adapts a websocket connection to registry.Conn. Pings and
// pose writes share one writer lock, and the deadline requested by the
// registry is applied under that lock.
type wsSubscriber struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	deadline  atomic.Int64
	connected atomic.Bool
}

func (s *wsSubscriber) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(s.writeDeadline())
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsSubscriber) SetWriteDeadline(t time.Time) error {
	s.deadline.Store(t.UnixNano())
	return nil
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

func (s *wsSubscriber) Connected() bool {
	return s.connected.Load()
}

func (s *wsSubscriber) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *wsSubscriber) writeDeadline() time.Time {
	if ns := s.deadline.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Now().Add(registry.DefaultWriteTimeout)
}
