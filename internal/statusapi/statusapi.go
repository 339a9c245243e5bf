// Package statusapi is the debug HTTP surface (spec.md's non-goal list
// excludes a management UI, but carries a status/metrics endpoint the
// same way the teacher's debug console did): a small mux.Router exposing
// per-server lifecycle state, a link-format object dump, and the
// Prometheus metrics handler.
//
// Grounded on glennswest-ipmiserial/server/server.go's New/setupRoutes/
// Run(ctx) shape — the embedded web dashboard and SSE console streaming
// are dropped (DESIGN.md §3.M), there being no console here to stream.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nordic-iot/lwm2m-carrier/internal/lifecycle"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
)

type Server struct {
	port       int
	log        *logrus.Logger
	contexts   *lifecycle.Manager
	reg        *registry.Registry
	router     *mux.Router
	httpServer *http.Server
}

func New(port int, log *logrus.Logger, contexts *lifecycle.Manager, reg *registry.Registry) *Server {
	s := &Server{
		port:     port,
		log:      log,
		contexts: contexts,
		reg:      reg,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/status").Subrouter()
	api.HandleFunc("", s.handleStatusAll).Methods("GET")
	api.HandleFunc("/{ssid}", s.handleStatusOne).Methods("GET")
	api.HandleFunc("/{ssid}/objects", s.handleObjects).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func loggingMiddleware(log *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "remote": r.RemoteAddr}).Debug("status api request")
			next.ServeHTTP(w, r)
		})
	}
}

type contextStatus struct {
	ShortServerID uint16 `json:"short_server_id"`
	State         string `json:"state"`
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	var out []contextStatus
	for ssid, c := range s.contexts.Contexts() {
		out = append(out, contextStatus{ShortServerID: ssid, State: c.State().String()})
	}
	writeJSON(w, out)
}

func (s *Server) handleStatusOne(w http.ResponseWriter, r *http.Request) {
	ssid, ok := parseSSID(mux.Vars(r)["ssid"])
	if !ok {
		http.Error(w, "invalid ssid", http.StatusBadRequest)
		return
	}
	c, ok := s.contexts.Contexts()[ssid]
	if !ok {
		http.Error(w, "unknown server", http.StatusNotFound)
		return
	}
	writeJSON(w, contextStatus{ShortServerID: ssid, State: c.State().String()})
}

// handleObjects dumps the registered object/instance tree in link-format
// the same way a real server's /.well-known/core discovery would,
// without requiring a live CoAP round trip from the caller.
func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	ssid, ok := parseSSID(mux.Vars(r)["ssid"])
	if !ok {
		http.Error(w, "invalid ssid", http.StatusBadRequest)
		return
	}
	body := s.reg.DiscoverAll(ssid)
	w.Header().Set("Content-Type", "application/link-format")
	_, _ = w.Write(body)
}

func parseSSID(s string) (uint16, bool) {
	var v uint16
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Run starts the HTTP server and blocks until ctx is cancelled, mirroring
// the teacher's Run(ctx) shutdown shape.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware(s.log))
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("status api context done, shutting down")
		_ = s.httpServer.Shutdown(context.Background())
	}()

	s.log.WithField("port", s.port).Info("starting status api")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
