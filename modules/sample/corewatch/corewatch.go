// Package corewatch is a second illustrative module: it requires the
// service corestore advertises and depends on corestore's Phase-2
// operation, demonstrating both the service-dependency and
// operation-dependency edges C4/C5 resolve.
package corewatch

import (
	"context"
	"fmt"

	"github.com/R3E-Network/kernel/internal/kernel/container"
	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/modules/sample/corestore"
)

// ModuleID is this module's identity in the registry.
const ModuleID = "sample.corewatch"

// Settings is the typed schema registered with C6.
type Settings struct {
	PollIntervalSeconds int `settings:"poll_interval_seconds"`
}

// Module observes corestore's entry count once per Phase-2 operation
// and records the last count it saw.
type Module struct {
	store     *corestore.Service
	lastCount int
	stopped   bool
}

// New builds this module's Descriptor. c is the container the
// Phase-2 operation resolves corestore's service from; the lookup is
// deferred to operation-run time since Phase-1 hasn't registered the
// service yet when descriptors are built.
func New(c *container.Container) (*descriptor.Descriptor, error) {
	m := &Module{}

	return descriptor.New(ModuleID).
		DependsOn(corestore.ModuleID).
		WithConstructor(func(appContext interface{}) (interface{}, error) {
			return m, nil
		}).
		Requires(corestore.ServiceName).
		WithSettingsSchema(Settings{PollIntervalSeconds: 60}, "COREWATCH").
		Phase2("observe", []string{corestore.ModuleID + ".warm"}, 20, func(ctx context.Context) error {
			svc, ok := c.Get(corestore.ServiceName).(*corestore.Service)
			if !ok {
				return fmt.Errorf("corewatch: %s did not resolve to a *corestore.Service", corestore.ServiceName)
			}
			m.store = svc
			m.lastCount = svc.Len()
			return nil
		}).
		WithShutdownGraceful("stop_watch", func(ctx context.Context) error {
			m.stopped = true
			return nil
		}, 5, 20).
		Build()
}
