// Package server exposes the gateway over HTTP for the chat front end.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ggonzalez94/sonic-agent/internal/gateway"
	"github.com/ggonzalez94/sonic-agent/internal/id"
	"github.com/ggonzalez94/sonic-agent/internal/model"
	"github.com/ggonzalez94/sonic-agent/internal/providers"
	"github.com/ggonzalez94/sonic-agent/internal/strategy"
	"github.com/ggonzalez94/sonic-agent/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 64 << 10

// Deps are the engine pieces the handlers read from.
type Deps struct {
	Gateway      *gateway.Gateway
	Orchestrator *strategy.Orchestrator
	Registry     *providers.Registry
	Chain        id.Chain
	Logger       zerolog.Logger
}

type server struct {
	Deps
}

// NewHandler builds the router. Execute responses are always 200 with the
// gateway response; failures are described in its body.
func NewHandler(deps Deps) http.Handler {
	s := &server{Deps: deps}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/execute", s.execute)
		r.Post("/resolve", s.resolve)
		r.Get("/strategies", s.strategies)
		r.Get("/providers", s.providers)
	})
	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"chain":   s.Chain.CAIP2,
		"version": version.CLIVersion,
	})
}

func (s *server) execute(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Gateway.Dispatch(r.Context(), req))
}

func (s *server) resolve(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Gateway.Resolution(req))
}

func (s *server) strategies(w http.ResponseWriter, _ *http.Request) {
	listings := []model.StrategyListing{}
	if s.Orchestrator != nil {
		for _, def := range s.Orchestrator.Definitions() {
			listings = append(listings, def.Listing())
		}
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *server) providers(w http.ResponseWriter, _ *http.Request) {
	listings := []model.ProviderListing{}
	if s.Registry != nil {
		listings = s.Registry.Listing(s.Chain)
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request) (gateway.Request, bool) {
	var req gateway.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, "invalid request body: "+err.Error())
		return gateway.Request{}, false
	}
	if strings.TrimSpace(req.ActionID) == "" {
		writeError(w, http.StatusBadRequest, "action_id is required")
		return gateway.Request{}, false
	}
	return req, true
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Serve runs the handler on addr until ctx is cancelled, then drains for up
// to shutdownGrace.
func Serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

const shutdownGrace = 30 * time.Second
