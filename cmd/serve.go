package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/velocityfibre/polelink/internal/model"
	"github.com/velocityfibre/polelink/internal/reconcile"
	"github.com/velocityfibre/polelink/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard read API",
	Long: `Serves linking status, pending conflicts and recent reports as JSON
for dashboard consumers, plus endpoints to trigger a reconciliation run
and create manual links.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "serve: open store")
		}
		defer st.Close()

		engine := reconcile.NewEngine(st, cfg.Reconcile)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st, engine),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the API routes.
func newRouter(st store.Store, engine *reconcile.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/summary", func(w http.ResponseWriter, req *http.Request) {
			s, err := reconcile.Summary(req.Context(), st)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, s)
		})

		r.Get("/conflicts", func(w http.ResponseWriter, req *http.Request) {
			conflicts, err := st.ListPendingConflicts(req.Context(), 100)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if conflicts == nil {
				conflicts = []model.Conflict{}
			}
			writeJSON(w, http.StatusOK, conflicts)
		})

		r.Get("/reports", func(w http.ResponseWriter, req *http.Request) {
			reports, err := st.ListRecentReports(req.Context(), 10)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if reports == nil {
				reports = []model.ReconciliationReport{}
			}
			writeJSON(w, http.StatusOK, reports)
		})

		r.Post("/reconcile", func(w http.ResponseWriter, req *http.Request) {
			// Runs are serialized by the engine; a second trigger while one
			// is active fails with ErrRunInProgress rather than queueing.
			// The run outlives the request, so detach from its context.
			runCtx := context.WithoutCancel(req.Context())
			go func() {
				report, err := engine.Run(runCtx)
				if err != nil {
					zap.L().Error("triggered reconciliation failed", zap.Error(err))
					return
				}
				zap.L().Info("triggered reconciliation complete",
					zap.Int("permissions_processed", report.PermissionsProcessed),
					zap.Int("new_links", report.NewLinks),
				)
			}()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		r.Post("/links", func(w http.ResponseWriter, req *http.Request) {
			var mlr model.ManualLinkRequest
			if err := json.NewDecoder(req.Body).Decode(&mlr); err != nil {
				writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
				return
			}
			link, err := engine.ManualLink(req.Context(), mlr)
			if err != nil {
				if eris.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusNotFound, err)
					return
				}
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusCreated, link)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
