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

	"github.com/sells-group/underwrite-cli/internal/datasource"
	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/resilience"
	"github.com/sells-group/underwrite-cli/internal/store"
	"github.com/sells-group/underwrite-cli/pkg/underwriting"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve deal, gate and comparison endpoints over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.WebhookURL != "" {
			go env.newChecker(cfg.Monitoring).Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("source", env.Source.Name()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

type api struct {
	env *appEnv
}

// buildRouter wires the HTTP surface over env.
func buildRouter(env *appEnv, allowedOrigins []string) http.Handler {
	a := &api{env: env}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok", "source": env.Source.Name()})
	})

	r.Route("/deals", func(r chi.Router) {
		r.Get("/", a.listDeals)
		r.Route("/{dealID}", func(r chi.Router) {
			r.Get("/runs", a.listRuns)
			r.Get("/runs/{runID}", a.getRun)
			r.Get("/gate", a.getGate)
			r.Post("/gate/override", a.overrideGate)
			r.Get("/gate/transitions", a.listTransitions)
			r.Get("/compare", a.compare)
			r.Get("/full-underwriting", a.fullUnderwriting)
		})
	})

	return r
}

type dealResponse struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Neighborhood string      `json:"neighborhood,omitempty"`
	Stage        model.Stage `json:"stage"`
	Ask          float64     `json:"ask"`
	GateState    string      `json:"gate_state"`
	RunCount     int         `json:"run_count"`
}

func (a *api) listDeals(w http.ResponseWriter, r *http.Request) {
	rows := a.env.dealRows(r.Context())
	out := make([]dealResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, dealResponse{
			ID:           row.Deal.ID,
			Name:         row.Deal.Name,
			Neighborhood: row.Deal.Neighborhood,
			Stage:        row.Deal.Stage,
			Ask:          row.Deal.Ask,
			GateState:    row.State,
			RunCount:     len(row.Deal.Runs),
		})
	}
	writeJSONStatus(w, http.StatusOK, out)
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.env.Source.ListRuns(r.Context(), chi.URLParam(r, "dealID"))
	if err != nil {
		writeError(w, err)
		return
	}
	model.SortRunsNewestFirst(runs)
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSONStatus(w, http.StatusOK, runs)
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.env.Source.GetRun(r.Context(), chi.URLParam(r, "dealID"), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, run)
}

func (a *api) getGate(w http.ResponseWriter, r *http.Request) {
	v, err := a.env.evaluateGate(r.Context(), chi.URLParam(r, "dealID"), r.URL.Query().Get("run"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, v)
}

type overrideRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	By      string `json:"by"`
}

func (a *api) overrideGate(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	dealID := chi.URLParam(r, "dealID")
	o := model.Override{Status: model.OverrideStatus(req.Status), Comment: req.Comment, By: req.By}
	if err := a.env.applyOverride(r.Context(), dealID, o); err != nil {
		writeError(w, err)
		return
	}
	v, err := a.env.evaluateGate(r.Context(), dealID, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, v)
}

func (a *api) listTransitions(w http.ResponseWriter, r *http.Request) {
	list, err := a.env.Store.ListTransitions(r.Context(), chi.URLParam(r, "dealID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.GateTransition{}
	}
	writeJSONStatus(w, http.StatusOK, list)
}

func (a *api) compare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runA, runB := q.Get("a"), q.Get("b")
	if runA == "" || runB == "" {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "query parameters a and b are required"})
		return
	}
	diff, err := a.env.compareRuns(r.Context(), chi.URLParam(r, "dealID"), runA, runB)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, diff)
}

func (a *api) fullUnderwriting(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")
	v, err := a.env.evaluateGate(r.Context(), dealID, "")
	if err != nil {
		writeError(w, err)
		return
	}
	if !v.Unlocked {
		writeJSONStatus(w, http.StatusForbidden, map[string]any{
			"error":    "full underwriting is locked",
			"deal_id":  dealID,
			"state":    v.State,
			"criteria": gate.UnlockCriteria,
		})
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{
		"deal_id": dealID,
		"status":  "unlocked",
		"state":   v.State,
		"run_id":  v.RunID,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var ve *gate.ValidationError
	var se *underwriting.StatusError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gate.ErrMalformedRun):
		return http.StatusUnprocessableEntity
	case errors.Is(err, datasource.ErrDealNotFound),
		errors.Is(err, datasource.ErrRunNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &se):
		return se.StatusCode
	case resilience.IsNetwork(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	body := map[string]string{"error": err.Error()}
	var ve *gate.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
		body["error"] = ve.Message
	}
	writeJSONStatus(w, status, body)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
