// Package debugsrv exposes a small optional HTTP surface for liveness
// and metrics inspection, routed with gorilla/mux: a single
// unauthenticated debug mux rather than a full API, since the engine's
// actual outputs are the pub/sub topics, not HTTP.
package debugsrv

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/mjolnir42/velotrain/internal/metrics"
)

// Server is a short-lived wrapper around an http.Server bound to addr.
type Server struct {
	httpSrv *http.Server
}

// New builds a debug server on addr (host:port) exposing:
//   - GET /healthz: 200 "ok" as long as the process is up
//   - GET /metrics: a JSON dump of every registered go-metrics meter
//
// addr == "" disables the server entirely (Start/Stop become no-ops).
func New(addr string, reg *metrics.Registry) *Server {
	if addr == "" {
		return &Server{}
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/metrics", metricsHandler(reg)).Methods(http.MethodGet)

	return &Server{httpSrv: &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func metricsHandler(reg *metrics.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out := map[string]int64{}
		reg.Registry().Each(func(name string, i interface{}) {
			if m, ok := i.(gometrics.Meter); ok {
				out[name] = m.Count()
			}
		})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

// Start runs the server on its own goroutine, logging (not panicking)
// on any error other than a clean shutdown. A no-op when the server
// was built with an empty addr.
func (s *Server) Start() {
	if s.httpSrv == nil {
		return
	}
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		logrus.Warnf("debugsrv: listen %s: %v", s.httpSrv.Addr, err)
		return
	}
	logrus.Infof("debugsrv: listening on %s", ln.Addr())
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logrus.Warnf("debugsrv: serve: %v", err)
		}
	}()
}

// Stop closes the server and any open connections at once, if it was
// started.
func (s *Server) Stop() {
	if s.httpSrv == nil {
		return
	}
	_ = s.httpSrv.Close()
}
