package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/maloquacious/wealthwise/internal/config"
	"github.com/maloquacious/wealthwise/internal/logger"
	"github.com/maloquacious/wealthwise/internal/store"
	"github.com/maloquacious/wealthwise/internal/store/sqlite"
)

func (a *App) serveCommand() *cobra.Command {
	var (
		port       int
		adminPort  int
		shutdownTO time.Duration
		exitAfter  time.Duration
		publicDir  string
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WealthWise server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("admin-port") {
				cfg.AdminPort = adminPort
			}
			if flags.Changed("shutdown-timeout") {
				cfg.ShutdownTimeout = shutdownTO
			}
			if flags.Changed("public") {
				cfg.PublicDir = publicDir
			}

			log := a.newLogger(cfg)
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			srv := newServer(cfg, openHandle(cfg, log, reg), reg, log, a.Version.String())
			return srv.run(cmd.Context(), exitAfter)
		},
	}
	serveCmd.Flags().IntVar(&port, "port", 8080, "public HTTP port (HTML/HTMX)")
	serveCmd.Flags().IntVar(&adminPort, "admin-port", 8383, "admin HTTP port (JSON, loopback only)")
	serveCmd.Flags().DurationVar(&shutdownTO, "shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	serveCmd.Flags().DurationVar(&exitAfter, "exit-after", 0, "optional runtime; if set, server exits after this duration (testing)")
	serveCmd.Flags().StringVar(&publicDir, "public", "public", "directory for static public assets")
	return serveCmd
}

// server hosts the public and admin listeners in front of one handle.
type server struct {
	cfg     config.Config
	handle  *sqlite.Handle
	reg     *prometheus.Registry
	log     logger.Logger
	version string

	shutdown chan struct{}
}

func newServer(cfg config.Config, h *sqlite.Handle, reg *prometheus.Registry, log logger.Logger, version string) *server {
	return &server{
		cfg:      cfg,
		handle:   h,
		reg:      reg,
		log:      log,
		version:  version,
		shutdown: make(chan struct{}, 1),
	}
}

// initialize brings the handle up in the background. Readiness reports
// the outcome; a timeout abandons the wait, not the attempt.
func (s *server) initialize(ctx context.Context) {
	if s.cfg.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.InitTimeout)
		defer cancel()
	}
	if err := s.handle.Initialize(ctx); err != nil {
		s.log.Error("datastore initialization: %v", err)
		return
	}
	s.log.Info("datastore ready")
}

func (s *server) publicMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(s.cfg.PublicDir, "index.html"))
	})

	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if state := s.handle.State(); state != store.StateReady {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "NOT READY (%s)", state)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	mux.Handle("/public/", http.StripPrefix("/public/", http.FileServer(http.Dir(s.cfg.PublicDir))))
	return mux
}

// statusResponse is the body of /admin/status.
type statusResponse struct {
	Version              string `json:"version"`
	SchemaVersion        int    `json:"schemaVersion,omitempty"`
	CurrentSchemaVersion int    `json:"currentSchemaVersion"`
	State                string `json:"state"`
	Error                string `json:"error,omitempty"`
	Time                 string `json:"time"`
}

func (s *server) adminMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/admin/status", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Version:              s.version,
			CurrentSchemaVersion: sqlite.CurrentSchemaVersion,
			State:                s.handle.State().String(),
			Time:                 time.Now().UTC().Format(time.RFC3339),
		}
		if err := s.handle.LastError(); err != nil {
			resp.Error = err.Error()
		}
		if v, err := s.handle.SchemaVersion(r.Context()); err == nil {
			resp.SchemaVersion = v
		}
		_ = writeJSON(w, resp)
	})))

	mux.Handle("/admin/reset", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
			return
		}
		var payload struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		var reset func(context.Context, store.Store) error
		switch payload.Mode {
		case "soft":
			reset = SoftReset
		case "hard":
			reset = HardReset
		default:
			writeJSONError(w, http.StatusBadRequest, "invalid_request", `mode must be "soft" or "hard"`)
			return
		}

		ctx := r.Context()
		if s.cfg.InitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.InitTimeout)
			defer cancel()
		}
		s.log.Warn("admin: %s reset requested", payload.Mode)
		if err := reset(ctx, s.handle); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "reset_failed", err.Error())
			return
		}
		_ = writeJSON(w, map[string]string{"status": "reset", "mode": payload.Mode, "state": s.handle.State().String()})
	})))

	mux.Handle("/admin/shutdown", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = writeJSON(w, map[string]string{"status": "shutting down"})
		select {
		case s.shutdown <- struct{}{}:
		default:
		}
	})))

	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	return mux
}

// run starts both servers and blocks until a signal, an admin shutdown,
// the exit-after timer or a server error, then shuts down gracefully.
func (s *server) run(ctx context.Context, exitAfter time.Duration) error {
	publicSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.publicMux(),
	}

	// Bind admin to 127.0.0.1 only (loopback enforcement)
	adminListener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.AdminPort))
	if err != nil {
		return fmt.Errorf("admin listener bind failed (loopback only): %w", err)
	}
	adminSrv := &http.Server{
		Handler: s.adminMux(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go s.initialize(ctx)

	errCh := make(chan error, 2)

	go func() {
		s.log.Info("public server listening on :%d", s.cfg.Port)
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server error: %w", err)
		}
	}()

	go func() {
		s.log.Info("admin server listening on 127.0.0.1:%d (JSON-only)", s.cfg.AdminPort)
		if err := adminSrv.Serve(adminListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	var timer <-chan time.Time
	if exitAfter > 0 {
		s.log.Info("exit-after timer set: %s", exitAfter)
		timer = time.After(exitAfter)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case <-s.shutdown:
		s.log.Info("shutdown requested via admin")
	case <-timer:
	case runErr = <-errCh:
		s.log.Error("%v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	_ = publicSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	if err := s.handle.Close(); err != nil {
		s.log.Warn("close datastore: %v", err)
	}
	s.log.Info("shutdown complete")
	return runErr
}

// jsonOnly enforces JSON-only contract for admin routes.
func jsonOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "application/json") && accept != "" {
			writeJSONError(w, http.StatusNotAcceptable, "not_acceptable", "Accept must include application/json")
			return
		}
		if r.Method != http.MethodGet && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": msg,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
