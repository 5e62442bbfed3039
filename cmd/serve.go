package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/millscout-cli/internal/model"
	"github.com/sells-group/millscout-cli/internal/quality"
	"github.com/sells-group/millscout-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API and run the quality checker",
	Long:  "Exposes runs, entities, and the merge review queue as a JSON API for the review UI, and checks pipeline health against the configured targets on a timer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := quality.NewChecker(
			quality.NewCollector(st),
			quality.NewAlerter(cfg.Quality),
			cfg.Quality,
		)
		go checker.Run(ctx)

		router := buildRouter(st)
		port := resolvePort(servePort, cfg.Server.Port)
		return startServer(ctx, router, port)
	},
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// buildRouter assembles the review API over the store.
func buildRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", listRunsHandler(st))
		r.Get("/runs/{id}", getRunHandler(st))
		r.Get("/entities", listEntitiesHandler(st))
		r.Get("/entities/{id}", getEntityHandler(st))
		r.Get("/review", listReviewHandler(st))
		r.Post("/review/{id}", resolveReviewHandler(st))
	})

	return r
}

func listRunsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20)
		runs, err := st.ListRuns(r.Context(), store.RunFilter{Limit: limit})
		if err != nil {
			zap.L().Error("serve: list runs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func getRunHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := st.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func listEntitiesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tier, err := tierFromFlag(r.URL.Query().Get("tier"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter := store.EntityFilter{
			RunID:   r.URL.Query().Get("run"),
			Tier:    tier,
			Country: r.URL.Query().Get("country"),
			Limit:   queryInt(r, "limit", 100),
			Offset:  queryInt(r, "offset", 0),
		}
		entities, err := st.ListEntities(r.Context(), filter)
		if err != nil {
			zap.L().Error("serve: list entities", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list entities failed")
			return
		}
		writeJSON(w, http.StatusOK, entities)
	}
}

func getEntityHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ent, err := st.GetEntity(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		writeJSON(w, http.StatusOK, ent)
	}
}

func listReviewHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = model.ReviewPending
		}
		pairs, err := st.ListReviewPairs(r.Context(), status)
		if err != nil {
			zap.L().Error("serve: list review pairs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list review pairs failed")
			return
		}
		writeJSON(w, http.StatusOK, pairs)
	}
}

func resolveReviewHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		status, err := statusForAction(req.Action)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		pairID := chi.URLParam(r, "id")
		if err := st.ResolveReviewPair(r.Context(), pairID, status); err != nil {
			writeError(w, http.StatusNotFound, "review pair not found")
			return
		}

		zap.L().Info("serve: review pair resolved",
			zap.String("pair_id", pairID),
			zap.String("status", status),
		)
		writeJSON(w, http.StatusOK, map[string]string{
			"pair_id": pairID,
			"status":  status,
		})
	}
}

// queryInt parses an integer query parameter, falling back on absent or
// junk values.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
