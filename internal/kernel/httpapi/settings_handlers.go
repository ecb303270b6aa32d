package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/kernel/internal/kernel/result"
)

const defaultUserID = "default"

func (s *Server) settingsDatabase() string {
	return "framework"
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	modules := make(map[string]interface{})
	for _, moduleID := range s.Settings.ModuleIDs() {
		baseline := s.Settings.Baseline(moduleID)
		overrides := 0
		if prefs, err := s.Settings.StorePreferences(ctx, moduleID, s.settingsDatabase(), defaultUserID); err == nil {
			overrides = len(prefs)
		}
		typed, err := s.Settings.GetTyped(ctx, moduleID, s.settingsDatabase(), defaultUserID)
		if err != nil {
			continue
		}
		modules[moduleID] = map[string]interface{}{
			"settings":             typed,
			"baseline_count":       len(baseline),
			"user_overrides_count": overrides,
		}
	}
	writeEnvelope(w, http.StatusOK, result.Ok(map[string]interface{}{"modules": modules}))
}

func (s *Server) getModuleSettings(w http.ResponseWriter, r *http.Request) {
	moduleID := mux.Vars(r)["module_id"]
	typed, err := s.Settings.GetTyped(r.Context(), moduleID, s.settingsDatabase(), defaultUserID)
	writeResult(w, typed, err)
}

func (s *Server) putPreference(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		Value interface{} `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeResult(w, nil, err)
		return
	}
	err := s.Settings.SetPreference(r.Context(), vars["module_id"], vars["key"], body.Value, s.settingsDatabase(), defaultUserID)
	writeResult(w, map[string]string{"status": "ok"}, err)
}

func (s *Server) deletePreference(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := s.Settings.ClearPreference(r.Context(), vars["module_id"], vars["key"], s.settingsDatabase(), defaultUserID)
	writeResult(w, map[string]string{"status": "ok"}, err)
}
