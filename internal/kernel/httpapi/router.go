// Package httpapi exposes the scheduler and settings HTTP surfaces
// (§6.1/§6.2) plus a per-module status/info pair, all wrapped in the
// kernel's uniform result envelope.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/internal/kernel/loader"
	"github.com/R3E-Network/kernel/internal/kernel/result"
	"github.com/R3E-Network/kernel/internal/kernel/settings"
	"github.com/R3E-Network/kernel/internal/scheduler"
	"github.com/R3E-Network/kernel/internal/scheduler/housekeeper"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/logging"
	"github.com/R3E-Network/kernel/pkg/metrics"
)

// Server bundles the dependencies the HTTP surface mounts routes
// against.
type Server struct {
	Scheduler   *scheduler.Scheduler
	Housekeeper *housekeeper.Housekeeper
	Settings    *settings.Resolver
	Loader      *loader.Processor
	Registry    *descriptor.Registry
	Log         *logging.Logger
	Recorder    *metrics.Recorder
	StartedAt   time.Time
}

// NewRouter builds the mux.Router exposing every route in §6.1/§6.2
// plus the metrics endpoint and a per-module status/info pair.
func NewRouter(s *Server) *mux.Router {
	if s.Recorder == nil {
		s.Recorder = metrics.Default
	}
	r := mux.NewRouter()
	r.Use(recoveryMiddleware(s.Log))
	r.Use(loggingMiddleware(s.Log))
	r.Use(metricsMiddleware(s.Recorder))

	r.Handle("/metrics", s.Recorder.Handler())

	sched := r.PathPrefix("/scheduler").Subrouter()
	sched.HandleFunc("/events", s.listEvents).Methods(http.MethodGet)
	sched.HandleFunc("/events", s.createEvent).Methods(http.MethodPost)
	sched.HandleFunc("/events/{id}", s.getEvent).Methods(http.MethodGet)
	sched.HandleFunc("/events/{id}", s.updateEvent).Methods(http.MethodPatch)
	sched.HandleFunc("/events/{id}/pause", s.pauseEvent).Methods(http.MethodPost)
	sched.HandleFunc("/events/{id}/resume", s.resumeEvent).Methods(http.MethodPost)
	sched.HandleFunc("/events/{id}/cancel", s.cancelEvent).Methods(http.MethodPost)
	sched.HandleFunc("/events/{id}/run-now", s.runNowEvent).Methods(http.MethodPost)
	sched.HandleFunc("/cleanup/register", s.registerCleanup).Methods(http.MethodPost)
	sched.HandleFunc("/cleanup", s.listCleanup).Methods(http.MethodGet)
	sched.HandleFunc("/cleanup/run", s.runCleanup).Methods(http.MethodPost)

	set := r.PathPrefix("/settings").Subrouter()
	set.HandleFunc("", s.listSettings).Methods(http.MethodGet)
	set.HandleFunc("/{module_id}", s.getModuleSettings).Methods(http.MethodGet)
	set.HandleFunc("/{module_id}/{key}", s.putPreference).Methods(http.MethodPut)
	set.HandleFunc("/{module_id}/{key}", s.deletePreference).Methods(http.MethodDelete)

	for _, d := range s.Registry.Descriptors() {
		if d.APIEndpoints == nil {
			continue
		}
		prefix := d.APIEndpoints.URLPrefix
		moduleID := d.ModuleID
		mr := r.PathPrefix(prefix).Subrouter()
		mr.HandleFunc("/status", s.moduleStatus(moduleID)).Methods(http.MethodGet)
		mr.HandleFunc("/info", s.moduleInfo(moduleID, d)).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) moduleStatus(moduleID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := s.Loader.Record(moduleID)
		if rec == nil {
			writeEnvelope(w, http.StatusNotFound, result.Fail(
				kernelerrors.New(kernelerrors.CodeNotFound, "module not loaded")))
			return
		}
		writeEnvelope(w, http.StatusOK, result.Ok(map[string]interface{}{
			"module_id":        moduleID,
			"state":            rec.State,
			"services_created": rec.Runtime.ServicesCreated,
			"active_services":  rec.Runtime.ActiveServices,
			"last_updated":     rec.Runtime.LastUpdated,
			"fail_reason":      rec.FailReason,
		}))
	}
}

func (s *Server) moduleInfo(moduleID string, d *descriptor.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, result.Ok(map[string]interface{}{
			"module_id":    moduleID,
			"dependencies": d.Dependencies,
			"services":     d.ServicesAdvertised,
			"requires":     d.ServicesRequired,
		}))
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env result.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeResult(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		writeEnvelope(w, kernelerrors.HTTPStatus(err), result.Fail(err))
		return
	}
	writeEnvelope(w, http.StatusOK, result.Ok(data))
}

func writeError(w http.ResponseWriter, status int, code kernelerrors.Code, message string) {
	writeEnvelope(w, status, result.Fail(kernelerrors.New(code, message)))
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeParameterInvalid, "invalid request body", err)
	}
	return nil
}
