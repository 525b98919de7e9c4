// Package statusd serves the daemon's read-only HTTP surface: a JSON status
// document, Prometheus metrics and, optionally, net/http/pprof.
package statusd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolbell/pkg/logx"
)

// Config controls the status server.
//
// A non-loopback Addr must carry a Token; config validation enforces it and
// Serve refuses to bind otherwise.
type Config struct {
	Addr  string
	Token string
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StatusFunc builds the /status document. It must be safe for concurrent use.
type StatusFunc func(ctx context.Context) any

// HealthFunc reports a fatal condition for /healthz; nil means healthy.
type HealthFunc func() error

type Service struct {
	cfg     Config
	log     logx.Logger
	status  StatusFunc
	health  HealthFunc
	handler http.Handler
}

// New builds the handler tree. gatherer may be nil to omit /metrics.
func New(cfg Config, status StatusFunc, health HealthFunc, gatherer prometheus.Gatherer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, log: log, status: status, health: health}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/status", s.withAuth(http.HandlerFunc(s.handleStatus)))
	if gatherer != nil {
		mux.Handle("/metrics", s.withAuth(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.Pprof {
		mux.Handle("/debug/pprof/", s.withAuth(http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", s.withAuth(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", s.withAuth(http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", s.withAuth(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", s.withAuth(http.HandlerFunc(hpprof.Trace)))
	}
	s.handler = mux
	return s
}

func (s *Service) Handler() http.Handler { return s.handler }

// Serve listens on cfg.Addr until ctx is cancelled. It is meant to run under
// supervisor.GoRestart, so a failed listen is returned rather than retried here.
func (s *Service) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8089"
	}
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("status: refusing to bind %s without a token", addr)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(sctx)
		cancel()
	}()

	s.log.Info("status server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", s.cfg.Pprof),
		logx.Bool("token_set", s.cfg.Token != ""),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		s.log.Info("status server stopped")
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("status server exited unexpectedly")
	}
	return err
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var doc any = struct{}{}
	if s.status != nil {
		doc = s.status(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		s.log.Warn("status encode failed", logx.Err(err))
	}
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Service) withAuth(h http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
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
