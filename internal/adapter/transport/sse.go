package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"taskrails/internal/domain"
	"taskrails/internal/infra/middleware"
)

const (
	// DefaultStreamAddr is the loopback address the stream server binds by default.
	DefaultStreamAddr = "127.0.0.1:4567"
	// DefaultKeepAlive is the interval between keep-alive comments on /sse.
	DefaultKeepAlive = 15 * time.Second

	messagesPath   = "/messages"
	maxMessageBody = 1 << 20
)

// StreamConfig configures the event-stream server.
type StreamConfig struct {
	Addr           string
	KeepAlive      time.Duration
	RequestsPerMin int // 0 disables rate limiting
	Burst          int
}

// StreamServer exposes GET /sse (push stream of bus messages) and
// POST /messages (one request, one response) over HTTP.
type StreamServer struct {
	cfg        StreamConfig
	dispatcher RawDispatcher
	bus        domain.Broadcaster
	admin      http.Handler
	logger     *slog.Logger

	mu        sync.Mutex
	server    *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

// StreamOption configures a StreamServer.
type StreamOption func(*StreamServer)

// WithAdminAPI mounts h under /api/v1/.
func WithAdminAPI(h http.Handler) StreamOption {
	return func(s *StreamServer) { s.admin = h }
}

// NewStreamServer creates a stream server. It does not listen until Start.
func NewStreamServer(cfg StreamConfig, d RawDispatcher, bus domain.Broadcaster, logger *slog.Logger, opts ...StreamOption) *StreamServer {
	if cfg.Addr == "" {
		cfg.Addr = DefaultStreamAddr
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	s := &StreamServer{cfg: cfg, dispatcher: d, bus: bus, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the channel in logs.
func (s *StreamServer) Name() string { return "sse" }

// Routes returns the unwrapped route table.
func (s *StreamServer) Routes() http.Handler {
	return s.routes(func(h http.Handler) http.Handler { return h })
}

// routes wraps /sse and the admin API in limit. POST /messages is left
// out: every agent shares the loopback peer, and a throttled tool call
// would stall the agent that made it.
func (s *StreamServer) routes(limit func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/sse", limit(http.HandlerFunc(s.handleStream)))
	mux.HandleFunc(messagesPath, s.handleMessage)
	if s.admin != nil {
		mux.Handle("/api/v1/", limit(s.admin))
	}
	return mux
}

// Start binds the listener and serves in the background.
func (s *StreamServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("stream server already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	handler := middleware.SecurityHeaders(
		s.routes(middleware.RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.Burst)),
	)

	// No WriteTimeout: /sse responses stay open for the life of the client.
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.server = srv
	s.boundAddr = ln.Addr().String()
	s.cancel = cancel

	go func() {
		s.logger.Info("stream server started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("stream server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *StreamServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Stop cancels open streams and shuts the server down.
func (s *StreamServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *StreamServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rc := http.NewResponseController(w)
	// Streams outlive the server's read timeout. Recorders in tests return
	// ErrNotSupported, which is fine.
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	// Subscribe before the first byte so nothing published after the client
	// sees the endpoint event is missed.
	sub := s.bus.Subscribe()
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	remote := r.RemoteAddr
	s.logger.Info("sse client connected", "remote", remote, "subscribers", s.bus.SubscriberCount())
	defer s.logger.Info("sse client disconnected", "remote", remote)

	if err := writeEvent(w, "endpoint", messagesPath); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Warn("sse flush unsupported", "error", err)
		return
	}

	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case <-sub.Ready():
			if err := s.drain(w, sub); err != nil {
				s.logger.Debug("sse write failed", "remote", remote, "error", err)
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *StreamServer) drain(w io.Writer, sub domain.Subscription) error {
	for {
		d, ok := sub.Next()
		if !ok {
			return nil
		}
		if d.IsGap() {
			s.logger.Warn("sse subscriber lagged", "missed", d.Missed)
			if err := writeEvent(w, "gap", fmt.Sprintf(`{"missed":%d}`, d.Missed)); err != nil {
				return err
			}
			continue
		}
		if err := writeEvent(w, "message", d.Payload); err != nil {
			return err
		}
	}
}

// writeEvent writes one server-sent event. Multi-line data is split across
// data fields.
func writeEvent(w io.Writer, event, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func (s *StreamServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, domain.NewErrorResponse(nil,
				domain.NewRPCError(domain.CodeParseError, "Request body too large (max 1MB)")))
			return
		}
		writeJSON(w, http.StatusBadRequest, domain.NewErrorResponse(nil,
			domain.NewRPCError(domain.CodeParseError, "Parse error")))
		return
	}

	resp := s.dispatcher.DispatchRaw(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
