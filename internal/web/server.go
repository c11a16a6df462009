// Package web exposes the local control API used by the rider's UI: device
// listing and connection, manual SOS, arming, support requests, metrics and
// a websocket event stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"rider-safety/internal/alert"
	"rider-safety/internal/connmgr"
	"rider-safety/internal/location"
	"rider-safety/internal/metrics"
)

// Deps are the components the API drives.
type Deps struct {
	Manager        *connmgr.Manager
	Store          *location.Store
	Dispatcher     *alert.Dispatcher
	Trigger        *alert.Trigger
	Hub            *Hub
	ConnectTimeout time.Duration
	Log            logrus.FieldLogger
}

type api struct {
	Deps
	log logrus.FieldLogger
}

// StatusResponse is served by GET /api/status.
type StatusResponse struct {
	State    connmgr.State   `json:"connection"`
	Fix      *location.Fix   `json:"fix"`
	FixSeq   uint64          `json:"fix_seq,omitempty"`
	FixAt    *time.Time      `json:"fix_at,omitempty"`
	Armed    bool            `json:"armed"`
	InFlight map[string]bool `json:"in_flight"`
	Clients  int             `json:"ws_clients"`
}

func Router(d Deps) *mux.Router {
	if d.ConnectTimeout <= 0 {
		d.ConnectTimeout = 30 * time.Second
	}
	a := &api{Deps: d, log: d.Log.WithField("component", "web")}

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")
	router.HandleFunc("/metrics", metrics.HandleMetrics).Methods("GET")
	router.HandleFunc("/ws", d.Hub.ServeWS).Methods("GET")

	sub := router.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/status", a.status).Methods("GET")
	sub.HandleFunc("/devices", a.devices).Methods("GET")
	sub.HandleFunc("/connect", a.connect).Methods("POST")
	sub.HandleFunc("/disconnect", a.disconnect).Methods("POST")
	sub.HandleFunc("/sos", a.sos).Methods("POST")
	sub.HandleFunc("/arm", a.arm).Methods("POST")
	sub.HandleFunc("/arm", a.disarm).Methods("DELETE")
	sub.HandleFunc("/support", a.support).Methods("POST")
	return router
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State: a.Manager.State(),
		Armed: a.Trigger.Armed(),
		InFlight: map[string]bool{
			string(alert.Emergency): a.Dispatcher.InFlight(alert.Emergency),
			string(alert.Support):   a.Dispatcher.InFlight(alert.Support),
		},
		Clients: a.Hub.Clients(),
	}
	if u, ok := a.Store.LastUpdate(); ok {
		resp.Fix = &u.Fix
		resp.FixSeq = u.Seq
		resp.FixAt = &u.At
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) devices(w http.ResponseWriter, r *http.Request) {
	devs, err := a.Manager.Scan(r.Context())
	if err != nil {
		a.log.WithError(err).Warn("device scan failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devs})
}

type connectRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

func (a *api) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.ConnectTimeout)
	defer cancel()
	err := a.Manager.Connect(ctx, connmgr.Device{Address: req.Address, Name: req.Name})
	switch {
	case errors.Is(err, connmgr.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, connmgr.ErrConnectFailed):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.Manager.State())
}

func (a *api) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := a.Manager.Disconnect(); err != nil {
		a.log.WithError(err).Warn("disconnect reported an error")
	}
	writeJSON(w, http.StatusOK, a.Manager.State())
}

// sos runs to completion even if the caller goes away.
func (a *api) sos(w http.ResponseWriter, r *http.Request) {
	res := a.Trigger.Manual(context.WithoutCancel(r.Context()))
	writeJSON(w, resultStatus(res), res)
}

func (a *api) arm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"armed": true, "intent": a.Trigger.Arm()})
}

func (a *api) disarm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"armed": false, "cancelled": a.Trigger.Disarm()})
}

func (a *api) support(w http.ResponseWriter, r *http.Request) {
	var details alert.SupportDetails
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	res := a.Dispatcher.Dispatch(context.WithoutCancel(r.Context()), alert.Request{Kind: alert.Support, Support: details})
	writeJSON(w, resultStatus(res), res)
}

func resultStatus(res alert.Result) int {
	switch res.Status {
	case alert.StatusSucceeded:
		return http.StatusOK
	case alert.StatusBusy:
		return http.StatusConflict
	case alert.StatusFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Server wraps the HTTP listener.
type Server struct {
	httpServer *http.Server
	log        logrus.FieldLogger
}

func NewServer(addr string, h http.Handler, log logrus.FieldLogger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log.WithField("component", "web"),
	}
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.log.Infof("Starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %v", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}
