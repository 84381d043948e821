// Package satellite serves the companion websocket endpoint. Every payload
// published on the broadcast bus is forwarded to every authenticated
// satellite connection.
package satellite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"taskrails/internal/domain"
	"taskrails/internal/infra/middleware"
)

const (
	DefaultPort       = 3002
	DefaultSendBuffer = 64

	writeTimeout   = 5 * time.Second
	maxLoggedBytes = 512
)

// Config configures the satellite server.
type Config struct {
	Host       string
	Port       int // first port tried; 0 picks any free port
	PortRange  int // further ports tried after Port
	EnvFile    string
	MDNS       bool
	SendBuffer int
	Token      string // generated when empty
}

// NewToken returns a fresh random bearer token.
func NewToken() string { return uuid.NewString() }

// Server is the satellite websocket server.
type Server struct {
	cfg      Config
	bus      domain.Broadcaster
	registry *Registry
	logger   *slog.Logger
	nextID   atomic.Uint64

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	port      int
	cancel    context.CancelFunc
	stopMDNS  func()
	pumpDone  chan struct{}
}

// NewServer creates a satellite server fed by bus.
func NewServer(cfg Config, bus domain.Broadcaster, logger *slog.Logger) *Server {
	if cfg.Token == "" {
		cfg.Token = NewToken()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	return &Server{
		cfg:      cfg,
		bus:      bus,
		registry: NewRegistry(logger),
		logger:   logger,
	}
}

// Token returns the bearer token clients must present.
func (s *Server) Token() string { return s.cfg.Token }

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Connections returns the number of registered satellites.
func (s *Server) Connections() int { return s.registry.Len() }

// Start picks a port, records it with the token in the env file, and begins
// serving /ws in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return fmt.Errorf("satellite server already started")
	}

	ln, err := listen(s.cfg.Host, s.cfg.Port, s.cfg.PortRange)
	if err != nil {
		return fmt.Errorf("satellite listen: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if s.cfg.Port > 0 && port != s.cfg.Port {
		s.logger.Warn("satellite port taken, using another", "wanted", s.cfg.Port, "port", port)
	}

	if s.cfg.EnvFile != "" {
		if err := WriteEnvFile(s.cfg.EnvFile, EnvFile{Token: s.cfg.Token, Port: port}); err != nil {
			ln.Close()
			return fmt.Errorf("satellite env file: %w", err)
		}
		s.logger.Info("satellite env file written", "path", s.cfg.EnvFile)
	}

	ctx, cancel := context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	s.httpSrv = &http.Server{
		Handler:           middleware.SecurityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	s.boundAddr = ln.Addr().String()
	s.port = port
	s.cancel = cancel
	s.pumpDone = make(chan struct{})

	sub := s.bus.Subscribe()
	go s.pump(ctx, sub, s.pumpDone)

	s.stopMDNS = func() {}
	if s.cfg.MDNS {
		stop, err := advertise("taskrails-"+strconv.Itoa(port), port, s.logger)
		if err != nil {
			s.logger.Warn("mdns advertise failed", "error", err)
		} else {
			s.stopMDNS = stop
		}
	}

	srv := s.httpSrv
	go func() {
		s.logger.Info("satellite server started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("satellite server error", "error", err)
		}
	}()
	return nil
}

// Stop disconnects every satellite and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel, stopMDNS, pumpDone := s.httpSrv, s.cancel, s.stopMDNS, s.pumpDone
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	cancel()
	stopMDNS()
	<-pumpDone
	s.registry.CloseAll()

	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 5*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// pump forwards bus payloads to the registry until ctx ends.
func (s *Server) pump(ctx context.Context, sub domain.Subscription, done chan struct{}) {
	defer close(done)
	defer sub.Close()

	for {
		d, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if d.IsGap() {
			s.logger.Warn("satellite forwarder lagged", "missed", d.Missed)
			continue
		}
		s.registry.Broadcast(d.Payload)
	}
}

// listen tries port..port+portRange on host, then any free port.
func listen(host string, port, portRange int) (net.Listener, error) {
	if port > 0 {
		for p := port; p <= port+max(portRange, 0); p++ {
			ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
			if err == nil {
				return ln, nil
			}
		}
	}
	return net.Listen("tcp", net.JoinHostPort(host, "0"))
}

// conn is one registered satellite.
type conn struct {
	id        uint64
	ws        *websocket.Conn
	sendCh    chan string
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Deliver(payload string) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- payload:
		return true
	default:
		return false
	}
}

func (c *conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !middleware.ValidToken(middleware.TokenFromRequest(r), s.cfg.Token) {
		s.logger.Warn("satellite rejected: bad token", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &conn{
		id:     s.nextID.Add(1),
		ws:     ws,
		sendCh: make(chan string, s.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	s.registry.Add(c.id, c)
	s.logger.Info("satellite connected", "conn_id", c.id, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	go s.writeLoop(c)
	s.readLoop(ctx, c)

	c.Close()
	s.registry.Remove(c.id)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("satellite disconnected", "conn_id", c.id)
}

// readLoop logs inbound text until the connection ends.
func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		text := string(data)
		if len(text) > maxLoggedBytes {
			text = text[:maxLoggedBytes] + "..."
		}
		s.logger.Info("satellite message", "conn_id", c.id, "text", text)
	}
}

func (s *Server) writeLoop(c *conn) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, []byte(payload))
			cancel()
			if err != nil {
				s.logger.Debug("satellite write failed", "conn_id", c.id, "error", err)
				c.Close()
				return
			}
		}
	}
}
