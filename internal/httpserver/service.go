// Package httpserver exposes the daemon's local HTTP API: the push source,
// worker client sockets, the preference toggle and status.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "empathai/internal/runtime/supervisor"
	logx "empathai/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8787"

// Config controls the listener. Binding a non-loopback address requires a
// Token unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

var ErrInsecureBind = errors.New("httpserver: non-loopback addr requires token or allow_insecure")

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	routes Routes

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
	ready    chan struct{}
}

func New(cfg Config, routes Routes, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, routes: routes, log: log, ready: make(chan struct{})}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound address, or "" when not listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Ready is closed once the first listener is bound.
func (s *Service) Ready() <-chan struct{} { return s.ready }

func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Reconfigure applies cfg on hot reload, restarting the listener when a
// listener-level setting changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent. It waits for an in-flight Stop before starting.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if done := s.stopDone; done != nil {
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("http stopped")
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
	if !cur.Enabled {
		return context.Canceled
	}

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	tokenSet := strings.TrimSpace(cur.Token) != ""
	if !tokenSet && !isLoopbackAddr(addr) {
		if !cur.AllowInsecure {
			s.log.Error("http refused to start", logx.String("addr", addr), logx.Err(ErrInsecureBind))
			return ErrInsecureBind
		}
		s.log.Warn("http listening without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      s.handler(cur),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", tokenSet),
		logx.Bool("pprof", cur.Pprof),
	)
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.ln = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
