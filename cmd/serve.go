package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/model"
	"github.com/sells-group/leadwatch/internal/store"
)

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operator HTTP server",
	Long:  "Serves health, run trigger and last-run endpoints. With --schedule the cron schedule also runs in-process and shares the one-pass-at-a-time guard.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initDiscovery(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		r := newRunner(env.Pass)

		if serveSchedule {
			c, err := newScheduler(ctx, cfg.Discovery.Schedule, r)
			if err != nil {
				return err
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()
			zap.L().Info("scheduler started", zap.String("schedule", cfg.Discovery.Schedule))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(ctx, r, env.Store, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "also run the cron schedule in this process")
	rootCmd.AddCommand(serveCmd)
}

type lastRunReader interface {
	LastRun(ctx context.Context) (*model.RunResult, error)
}

// newRouter builds the operator API. Passes triggered over HTTP run under
// baseCtx so they outlive the request.
func newRouter(baseCtx context.Context, r *runner, runs lastRunReader, allowedOrigins []string) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	mux.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": r.Running()})
	})

	mux.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
		if !r.Start(baseCtx) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a discovery pass is already running"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	mux.Get("/runs/last", func(w http.ResponseWriter, req *http.Request) {
		res, err := runs.LastRun(req.Context())
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no runs recorded"})
			return
		}
		if err != nil {
			zap.L().Error("load last run", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
