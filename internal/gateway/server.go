// Package gateway exposes vault operations and queries over HTTP/JSON.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/yvault/internal/localchain"
	"github.com/3cpo-dev/yvault/internal/telemetry"
	"github.com/3cpo-dev/yvault/pkg/api"
)

// HeaderOperationID carries the id assigned to every request.
const HeaderOperationID = "X-Operation-ID"

type Options struct {
	Version string
	// Token, when set, is required on every state-changing request as a bearer
	// token or X-Auth-Token header.
	Token string
}

type Server struct {
	version string
	token   string
	chain   *localchain.Chain
	router  *mux.Router
	srv     *http.Server
	logger  zerolog.Logger
}

func New(chain *localchain.Chain, opts Options) *Server {
	s := &Server{
		version: opts.Version,
		token:   opts.Token,
		chain:   chain,
		logger:  log.With().Str("component", "gateway").Logger(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.withOperationID, s.instrument)

	r.HandleFunc("/v0/heartbeat", s.heartbeat).Methods(http.MethodGet)
	r.HandleFunc("/v0/vaults", s.listVaults).Methods(http.MethodGet)
	r.HandleFunc("/v0/vaults/{vault}/balance", s.totalBalance).Methods(http.MethodGet)
	r.HandleFunc("/v0/vaults/{vault}/supply", s.totalSupply).Methods(http.MethodGet)
	r.HandleFunc("/v0/vaults/{vault}/supported-token", s.supportedToken).Methods(http.MethodGet)
	r.HandleFunc("/v0/vaults/{vault}/share-token", s.shareToken).Methods(http.MethodGet)
	r.HandleFunc("/v0/vaults/{vault}/pending", s.pending).Methods(http.MethodGet)
	r.HandleFunc("/v0/registries/{registry}/vaults", s.registryVaults).Methods(http.MethodGet)
	r.HandleFunc("/v0/tokens/{token}/balances/{holder}", s.tokenBalance).Methods(http.MethodGet)

	r.Handle("/v0/vaults", s.authenticate(s.instantiate)).Methods(http.MethodPost)
	r.Handle("/v0/vaults/{vault}/deposit", s.authenticate(s.deposit)).Methods(http.MethodPost)
	r.Handle("/v0/vaults/{vault}/withdraw", s.authenticate(s.withdraw)).Methods(http.MethodPost)
	r.Handle("/v0/vaults/{vault}/strategy", s.authenticate(s.runStrategy)).Methods(http.MethodPost)
	r.Handle("/v0/vaults/{vault}/pending/{id}/resolve", s.authenticate(s.resolveBurn)).Methods(http.MethodPost)
	return r
}

type ctxKey struct{}

// OperationID returns the id the gateway assigned to the request.
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) withOperationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(HeaderOperationID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		labels := map[string]string{
			"component": "gateway",
			"endpoint":  endpoint,
			"method":    r.Method,
			"status":    fmt.Sprint(rec.status),
		}
		telemetry.TimerGlobal("yvault_gateway_request_duration", time.Since(start), labels)
		s.logger.Debug().
			Str("operation_id", OperationID(r.Context())).
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

func (s *Server) authenticate(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			auth := r.Header.Get("Authorization")
			x := r.Header.Get("X-Auth-Token")
			if auth != "Bearer "+s.token && x != s.token {
				writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{
					Error:       "unauthorized",
					Kind:        "UnauthorizedError",
					OperationID: OperationID(r.Context()),
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HeartbeatResponse{Time: time.Now(), Host: r.Host, Version: s.version})
}

func (s *Server) httpServer(addr string, tlsCfg TLSConfig) (*http.Server, error) {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	if !tlsCfg.Enabled() {
		return srv, nil
	}
	tc, err := tlsCfg.Build()
	if err != nil {
		return nil, err
	}
	srv.TLSConfig = tc
	srv.Handler = s.clientIdentity(tlsCfg.RequireClientCert)(s.router)
	return srv, nil
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	srv, err := s.httpServer(addr, TLSConfig{})
	if err != nil {
		return err
	}
	s.srv = srv
	s.logger.Info().Str("addr", addr).Msg("gateway listening")
	return srv.ListenAndServe()
}

// Run serves on addr, with TLS when tlsCfg is enabled, until ctx is done and
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, tlsCfg TLSConfig) error {
	srv, err := s.httpServer(addr, tlsCfg)
	if err != nil {
		return err
	}
	s.srv = srv
	errc := make(chan error, 1)
	go func() {
		if tlsCfg.Enabled() {
			errc <- srv.ListenAndServeTLS("", "")
			return
		}
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Bool("tls", tlsCfg.Enabled()).Msg("gateway listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.logger.Info().Msg("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return errors.New("server not running")
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
