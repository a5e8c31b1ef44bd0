// Package httpapi is the local HTTP ingress: the host listener posts
// notification callbacks here, telemetry can be pushed, the control channel
// is exposed as JSON, and relay records are streamed to one client over
// Server-Sent Events.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "notifrelay/internal/runtime/supervisor"
	logx "notifrelay/pkg/logx"
)

// Config controls the ingress server.
//
// A non-loopback Addr requires Token unless AllowInsecure is set.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout time.Duration
	IdleTimeout time.Duration
	// KeepAlive is the comment-ping interval on the event stream.
	KeepAlive time.Duration
	// StreamBuffer is the per-client record buffer; a full buffer drops.
	StreamBuffer int
}

const (
	defaultAddr         = "127.0.0.1:8765"
	defaultKeepAlive    = 15 * time.Second
	defaultStreamBuffer = 64
	maxBodyBytes        = 1 << 20
)

type Service struct {
	deps Deps

	mu       sync.Mutex
	log      logx.Logger
	cfg      Config
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: normalize(cfg), deps: deps, log: log}
}

func normalize(cfg Config) Config {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = defaultStreamBuffer
	}
	return cfg
}

// Supervisor returns the server's supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start runs the server under a restart loop. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	cur := s.cfg
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(cur.Addr) {
		return errors.New("httpapi: non-loopback addr requires token or allow_insecure")
	}
	if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(cur.Addr) {
		s.log.Warn("ingress running without token on non-loopback addr (insecure)", logx.String("addr", cur.Addr))
	}

	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		// canceling first ends open event streams, which would otherwise hold Shutdown
		sup.Cancel()
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.srv, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
		s.log.Info("ingress stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	ln, err := net.Listen("tcp", cur.Addr)
	if err != nil {
		s.log.Error("ingress listen failed", logx.String("addr", cur.Addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	// WriteTimeout stays zero: the event stream is long-lived.
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cur.ReadTimeout,
		IdleTimeout:       cur.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("ingress started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ingress server exited unexpectedly")
	}
	return err
}

// Handler builds the route table. Exposed for httptest.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	tok := strings.TrimSpace(s.cfg.Token)
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	api := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, withAuth(tok, s.withLog(h)))
	}
	api("POST /v1/notifications", s.handleNotification)
	api("POST /v1/listener/connected", s.handleConnected)
	api("POST /v1/listener/disconnected", s.handleDisconnected)
	api("POST /v1/telemetry", s.handleTelemetry)
	api("POST /v1/control", s.handleControl)
	api("GET /v1/history", s.handleHistory)
	api("GET /v1/events", s.handleEvents)
	return mux
}

func (s *Service) withLog(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		s.log.Debug("ingress request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("took", time.Since(start)),
		)
	}
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(tok string, h http.HandlerFunc) http.HandlerFunc {
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		// ":8765" binds every interface.
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
