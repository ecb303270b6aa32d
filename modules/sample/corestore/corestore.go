// Package corestore is an illustrative module exercising the bulk of
// the descriptor surface: an advertised auto-created service, a typed
// settings schema, a database schema, a health check, a graceful
// shutdown hook, and API endpoints. It stands in for the concrete
// business modules the runtime loads but does not itself define.
package corestore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
)

// ModuleID is this module's identity in the registry.
const ModuleID = "sample.corestore"

// ServiceName is what other modules resolve via container.Get.
const ServiceName = "sample.corestore.service"

// Settings is the typed schema registered with C6.
type Settings struct {
	MaxEntries   int `settings:"max_entries"`
	FlushOnClose bool `settings:"flush_on_close"`
}

// Module holds the in-process entry cache this sample exposes as a
// service. Store/Get are what corewatch calls through Service.
type Module struct {
	mu      sync.RWMutex
	entries map[string]string
	db      *sql.DB
	flushed bool
}

// EnforcesIntegrity satisfies descriptor.BaseContract: this module
// declares strict data-integrity mode, so the processor requires this
// method to exist and return true.
func (m *Module) EnforcesIntegrity() bool { return true }

// Service is the handle advertised to the container; it narrows
// Module's surface to what other modules are allowed to call.
type Service struct {
	module *Module
}

// Get returns a stored value and whether it was present.
func (s *Service) Get(key string) (string, bool) {
	s.module.mu.RLock()
	defer s.module.mu.RUnlock()
	v, ok := s.module.entries[key]
	return v, ok
}

// Set stores a value under key.
func (s *Service) Set(key, value string) {
	s.module.mu.Lock()
	defer s.module.mu.Unlock()
	s.module.entries[key] = value
}

// Len reports how many entries are currently held.
func (s *Service) Len() int {
	s.module.mu.RLock()
	defer s.module.mu.RUnlock()
	return len(s.module.entries)
}

// New builds this module's Descriptor. appContext is expected to carry
// a *sql.DB for the "framework" database (or any database the module
// declares its own schema against); corestore doesn't use a database
// connection directly in this sample, so appContext is accepted but
// unused beyond demonstrating the Constructor wiring.
func New() (*descriptor.Descriptor, error) {
	m := &Module{entries: make(map[string]string)}

	return descriptor.New(ModuleID).
		WithConstructor(func(appContext interface{}) (interface{}, error) {
			return m, nil
		}).
		Advertises(ServiceName, 10).
		AutoService("service", func(module interface{}) (interface{}, error) {
			mod, ok := module.(*Module)
			if !ok {
				return nil, fmt.Errorf("corestore: unexpected module instance type %T", module)
			}
			return &Service{module: mod}, nil
		}).
		WithSettingsSchema(Settings{MaxEntries: 1000, FlushOnClose: true}, "CORESTORE").
		WithDatabaseSchemas(descriptor.DatabaseSchema{
			DatabaseName: "sample",
			Tables: []descriptor.TableSpec{
				{
					Name: "corestore_entries",
					CreateSQL: `CREATE TABLE IF NOT EXISTS corestore_entries (
						key   TEXT PRIMARY KEY,
						value TEXT NOT NULL
					)`,
				},
			},
		}).
		Phase1("prime_cache", func(ctx context.Context) error {
			m.entries["startup"] = "ok"
			return nil
		}).
		Phase2("warm", nil, 10, func(ctx context.Context) error {
			m.mu.Lock()
			m.entries["warmed"] = "true"
			m.mu.Unlock()
			return nil
		}).
		WithShutdownGraceful("flush", func(ctx context.Context) error {
			m.mu.Lock()
			m.flushed = true
			m.mu.Unlock()
			return nil
		}, 5, 10).
		WithHealthCheck(30, func(ctx context.Context) error {
			return nil
		}).
		WithAPIEndpoints("service", "/sample/corestore").
		WithDataIntegrity(true, false).
		Build()
}
