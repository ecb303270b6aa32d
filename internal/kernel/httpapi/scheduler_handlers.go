package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/kernel/internal/scheduler"
	"github.com/R3E-Network/kernel/internal/scheduler/housekeeper"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
)

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := scheduler.Filters{
		Status:       scheduler.Status(q.Get("status")),
		ModuleID:     q.Get("module_id"),
		FunctionName: q.Get("function_name"),
	}
	if raw := q.Get("recurring"); raw != "" {
		v := raw == "true" || raw == "1"
		f.Recurring = &v
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	events, err := s.Scheduler.List(r.Context(), f, limit)
	writeResult(w, events, err)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, err := s.Scheduler.Get(r.Context(), id)
	writeResult(w, ev, err)
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var spec scheduler.EventSpec
	if err := decodeBody(r, &spec); err != nil {
		writeResult(w, nil, err)
		return
	}
	ev, err := s.Scheduler.Schedule(r.Context(), spec)
	writeResult(w, ev, err)
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var fields scheduler.UpdateFields
	if err := decodeBody(r, &fields); err != nil {
		writeResult(w, nil, err)
		return
	}
	ev, err := s.Scheduler.Update(r.Context(), id, fields)
	writeResult(w, ev, err)
}

func (s *Server) pauseEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.Scheduler.Pause(r.Context(), mux.Vars(r)["id"])
	writeResult(w, ev, err)
}

func (s *Server) resumeEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.Scheduler.Resume(r.Context(), mux.Vars(r)["id"])
	writeResult(w, ev, err)
}

func (s *Server) cancelEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.Scheduler.Cancel(r.Context(), mux.Vars(r)["id"])
	writeResult(w, ev, err)
}

func (s *Server) runNowEvent(w http.ResponseWriter, r *http.Request) {
	err := s.Scheduler.RunNow(r.Context(), mux.Vars(r)["id"])
	writeResult(w, map[string]string{"status": "dispatched"}, err)
}

func (s *Server) registerCleanup(w http.ResponseWriter, r *http.Request) {
	if s.Housekeeper == nil {
		writeError(w, http.StatusNotImplemented, kernelerrors.CodeHandlerError, "housekeeper is not configured")
		return
	}
	var reg housekeeper.Registration
	if err := decodeBody(r, &reg); err != nil {
		writeResult(w, nil, err)
		return
	}
	created, err := s.Housekeeper.Register(r.Context(), reg)
	writeResult(w, created, err)
}

func (s *Server) listCleanup(w http.ResponseWriter, r *http.Request) {
	if s.Housekeeper == nil {
		writeError(w, http.StatusNotImplemented, kernelerrors.CodeHandlerError, "housekeeper is not configured")
		return
	}
	regs, err := s.Housekeeper.Registrations(r.Context())
	writeResult(w, regs, err)
}

func (s *Server) runCleanup(w http.ResponseWriter, r *http.Request) {
	if s.Housekeeper == nil {
		writeError(w, http.StatusNotImplemented, kernelerrors.CodeHandlerError, "housekeeper is not configured")
		return
	}
	dryRun := r.URL.Query().Get("dry_run") == "true"
	if regID := r.URL.Query().Get("registration_id"); regID != "" {
		report, err := s.Housekeeper.SweepOne(r.Context(), regID, dryRun)
		writeResult(w, report, err)
		return
	}
	reports, err := s.Housekeeper.Sweep(r.Context(), dryRun)
	writeResult(w, reports, err)
}
