// Package settings implements the settings resolver (C6): it collects
// per-module typed schemas during Phase 1, builds an immutable
// defaults⊕environment baseline during Phase 2, and at runtime merges
// that baseline with stored user preferences behind the schema's
// validation.
package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/metrics"
)

type moduleSchema struct {
	schema    interface{}
	envPrefix string
	defaults  map[string]interface{}
}

// Resolver implements the settings resolver. It satisfies
// loader.SettingsRegistrar.
type Resolver struct {
	mu       sync.RWMutex
	schemas  map[string]*moduleSchema
	baseline map[string]map[string]interface{}
	store    *Store
	recorder *metrics.Recorder
}

// New returns an empty Resolver. store may be nil if no module ever
// calls GetTyped with user-preference overlay (tests commonly do this).
func New(store *Store) *Resolver {
	return &Resolver{
		schemas:  make(map[string]*moduleSchema),
		baseline: make(map[string]map[string]interface{}),
		store:    store,
		recorder: metrics.Default,
	}
}

// RegisterSchema is called by C4 during Phase 1 for every module that
// declares a typed settings schema. It only extracts defaults; no I/O,
// no service calls.
func (r *Resolver) RegisterSchema(moduleID string, schema interface{}, envPrefix string) error {
	if schema == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[moduleID]; exists {
		return kernelerrors.New(kernelerrors.CodeMetadataConflict,
			fmt.Sprintf("module %q already registered a settings schema", moduleID))
	}
	r.schemas[moduleID] = &moduleSchema{
		schema:    schema,
		envPrefix: envPrefix,
		defaults:  defaultsFromSchema(schema),
	}
	return nil
}

// BuildBaseline computes baseline[module_id] = deepMerge(defaults,
// env) for every registered schema. Called once, at the start of
// Phase 2; the result is immutable afterward.
func (r *Resolver) BuildBaseline() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for moduleID, ms := range r.schemas {
		env := envOverrides(ms.envPrefix, ms.defaults)
		r.baseline[moduleID] = deepMerge(ms.defaults, env)
	}
}

// Baseline returns a copy of the baseline map for moduleID, or nil if
// the module never registered a schema.
func (r *Resolver) Baseline(moduleID string) map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return deepMerge(nil, r.baseline[moduleID])
}

// ModuleIDs returns every module_id that has registered a settings
// schema, used by the `GET /settings` listing endpoint.
func (r *Resolver) ModuleIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for moduleID := range r.schemas {
		out = append(out, moduleID)
	}
	return out
}

// GetTyped resolves merge(baseline[module_id],
// user_preferences[module_id, database, userID]) and populates a new
// instance of the module's schema type. Validation failures are
// reported as SETTINGS_VALIDATION_FAILED with every unassignable field
// named.
func (r *Resolver) GetTyped(ctx context.Context, moduleID, database, userID string) (interface{}, error) {
	r.mu.RLock()
	ms, ok := r.schemas[moduleID]
	baseline := r.baseline[moduleID]
	r.mu.RUnlock()
	if !ok {
		return nil, kernelerrors.New(kernelerrors.CodeSettingsValidationFailed,
			fmt.Sprintf("module %q has no registered settings schema", moduleID))
	}

	merged := deepMerge(baseline, nil)
	if r.store != nil {
		prefs, err := r.store.Get(ctx, database, moduleID, userID)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, prefs)
	}

	if r.recorder != nil {
		r.recorder.IncSettingsResolution(moduleID)
	}

	instance, problems := populateSchema(ms.schema, merged)
	if len(problems) > 0 {
		return nil, kernelerrors.New(kernelerrors.CodeSettingsValidationFailed,
			fmt.Sprintf("module %q settings validation failed: %v", moduleID, problems)).
			WithDetails("problems", problems)
	}
	return instance, nil
}

// SetPreference writes one user-preference row.
func (r *Resolver) SetPreference(ctx context.Context, moduleID, key string, value interface{}, database, userID string) error {
	if r.store == nil {
		return kernelerrors.New(kernelerrors.CodeStorageError, "settings resolver has no preference store configured")
	}
	return r.store.Set(ctx, database, moduleID, key, value, userID)
}

// ClearPreference deletes one user-preference row; the next
// resolution falls back to baseline.
func (r *Resolver) ClearPreference(ctx context.Context, moduleID, key, database, userID string) error {
	if r.store == nil {
		return kernelerrors.New(kernelerrors.CodeStorageError, "settings resolver has no preference store configured")
	}
	return r.store.Clear(ctx, database, moduleID, key, userID)
}

// StorePreferences returns the raw stored user-preference overrides
// for moduleID, used to report user_overrides_count on the settings
// listing endpoint. Returns an empty map (not an error) if no
// preference store is configured.
func (r *Resolver) StorePreferences(ctx context.Context, moduleID, database, userID string) (map[string]interface{}, error) {
	if r.store == nil {
		return map[string]interface{}{}, nil
	}
	return r.store.Get(ctx, database, moduleID, userID)
}

// deepMerge merges src over dst, recursing into nested maps. Neither
// argument is mutated; a fresh map is returned. src's values win on
// key collision.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if existing, ok := out[k]; ok {
			existingMap, existingIsMap := existing.(map[string]interface{})
			incomingMap, incomingIsMap := v.(map[string]interface{})
			if existingIsMap && incomingIsMap {
				out[k] = deepMerge(existingMap, incomingMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}
