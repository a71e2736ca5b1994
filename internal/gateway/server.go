// Package gateway terminates client WebSockets, tracks their registration in
// the connection registry and accepts notify triggers over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hlscast/internal/logging"
	"hlscast/internal/metrics"
	"hlscast/internal/notify"
	"hlscast/internal/registry"
)

const maxTriggerBytes = 64 << 10

type Config struct {
	Registry registry.Registry
	Metrics  *metrics.Collector
	// InstanceID prefixes every channel id handed out by this server so that
	// servers sharing a registry only prune their own channels. A random id
	// is used when empty.
	InstanceID string
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// Heartbeat is the ping interval; clients silent for two intervals are
	// dropped. Zero disables pings.
	Heartbeat time.Duration
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

type Server struct {
	registry     registry.Registry
	hub          *Hub
	notifier     *notify.Notifier
	metrics      *metrics.Collector
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	heartbeat    time.Duration
	logger       zerolog.Logger

	// handlers counts running WebSocket handlers, which Shutdown does not
	// wait for once the connection is hijacked.
	handlers sync.WaitGroup
}

func New(cfg Config) *Server {
	instance := cfg.InstanceID
	if instance == "" {
		instance = uuid.NewString()
	}
	hub := NewHub(instance)
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		registry:     cfg.Registry,
		hub:          hub,
		notifier:     notify.New(cfg.Registry, hub, cfg.Metrics),
		metrics:      cfg.Metrics,
		upgrader:     websocket.Upgrader{CheckOrigin: checkOrigin},
		writeTimeout: cfg.WriteTimeout,
		heartbeat:    cfg.Heartbeat,
		logger:       logging.Component("gateway").With().Str("instance", instance).Logger(),
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.HandleWebSocket)
	mux.HandleFunc("POST /notify", s.HandleNotify)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down, drops every
// open connection and returns once each of them has been unregistered.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("notifier listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.hub.closeAll()
	s.handlers.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// HandleWebSocket drives one connection through connected-unregistered,
// connected-registered and disconnected. Disconnect always unregisters the
// channel, which is a no-op if it never registered.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to upgrade the connection")
		return
	}

	c := newClient(s.hub.newChannelID(), conn, s.writeTimeout)
	if !s.hub.add(c) {
		// shutting down
		c.close()
		return
	}
	ctx := context.WithoutCancel(r.Context())
	s.metrics.ConnectionOpened()
	s.logger.Debug().Str("channelId", c.id).Msg("client connected")
	defer s.disconnect(ctx, c)

	if s.heartbeat > 0 {
		done := make(chan struct{})
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(2 * s.heartbeat))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * s.heartbeat))
		})
		go s.heartbeatLoop(c, done)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(ctx, c, data)
	}
}

func (s *Server) heartbeatLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.close()
				return
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, c *client, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = c.writeJSON(outboundMessage{Error: "invalid message"})
		return
	}

	switch msg.Action {
	case ActionRegister:
		if msg.UserID == "" {
			_ = c.writeJSON(outboundMessage{Error: "userId required"})
			return
		}
		state, prevUser := c.snapshot()
		if state == stateDisconnected {
			return
		}
		if err := s.registry.Register(ctx, msg.UserID, c.id); err != nil {
			s.logger.Error().Err(err).Str("channelId", c.id).Str("userId", msg.UserID).Msg("failed to register the connection")
			_ = c.writeJSON(outboundMessage{Error: "registration failed"})
			return
		}
		prev, ok := c.registered(msg.UserID)
		if !ok {
			// disconnect unregisters the channel
			return
		}
		if prev == stateRegistered {
			s.logger.Info().Str("channelId", c.id).Str("userId", msg.UserID).Str("previousUserId", prevUser).Msg("client re-registered")
		} else {
			s.logger.Info().Str("channelId", c.id).Str("userId", msg.UserID).Msg("client registered")
		}
		_ = c.writeJSON(outboundMessage{Event: "registered", UserID: msg.UserID})
	default:
		_ = c.writeJSON(outboundMessage{Error: "unknown action"})
	}
}

func (s *Server) disconnect(ctx context.Context, c *client) {
	state, userID := c.snapshot()
	c.close()
	s.hub.remove(c.id)
	if err := s.registry.Unregister(ctx, c.id); err != nil {
		s.logger.Error().Err(err).Str("channelId", c.id).Msg("failed to unregister the connection")
	}
	s.metrics.ConnectionClosed()
	s.logger.Debug().Str("channelId", c.id).Str("userId", userID).Stringer("state", state).Msg("client disconnected")
}

// HandleNotify accepts {"userId","videoId","status"} and fans the event out.
func (s *Server) HandleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	trigger, err := notify.ParseTrigger(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	delivered, err := s.notifier.Notify(r.Context(), trigger.UserID, trigger.Event())
	if err != nil {
		s.logger.Error().Err(err).Str("userId", trigger.UserID).Msg("failed to notify")
		http.Error(w, "notify failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(notify.TriggerResponse{Delivered: delivered})
}
