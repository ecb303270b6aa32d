// Package loader implements the module processor (C4): for each
// discovered module, in dependency order, it validates metadata,
// reserves and registers services, instantiates the module,
// auto-creates declared services, and runs the Phase-1 method
// sequence. It hands Phase-2 operations off to the caller (normally
// C5) rather than executing them itself.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/kernel/internal/kernel/container"
	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/logging"
)

// State is where a module currently sits in the load/orchestration
// lifecycle. The processor only ever produces Phase1Done or Failed. The
// Phase-2 orchestrator does not write to these records: Phase-2
// outcomes are reported only in its Summary and OperationResults, so
// Ready and Degraded are not set on a ModuleRecord by any component.
type State string

const (
	StateLoading   State = "LOADING"
	StatePhase1Done State = "PHASE1_DONE"
	StateReady     State = "READY"
	StateDegraded  State = "DEGRADED"
	StateFailed    State = "FAILED"
)

// RuntimeInfo is the diagnostic section of a ModuleRecord: what got
// created and when it last changed.
type RuntimeInfo struct {
	ServicesCreated []string
	ActiveServices  []string
	LastUpdated     time.Time
}

// ModuleRecord is the per-module table entry C4 builds across steps
// 3-12; C5 does not update it. Record success must MERGE into this
// struct, never replace it wholesale — losing the services recorded in
// earlier steps is the specific regression this design guards against.
type ModuleRecord struct {
	Descriptor *descriptor.Descriptor
	Instance   interface{}
	State      State
	Runtime    RuntimeInfo
	FailReason string
}

// SettingsRegistrar is the subset of C6 that C4 submits typed schemas
// to during step 4. Defined here, implemented by the settings package,
// to avoid a processor -> settings import cycle.
type SettingsRegistrar interface {
	RegisterSchema(moduleID string, schema interface{}, envPrefix string) error
}

// Processor runs the module processor over a descriptor registry.
type Processor struct {
	container *container.Container
	settings  SettingsRegistrar
	log       *logging.Logger

	records map[string]*ModuleRecord
	order   []string
}

// New returns a Processor bound to the given container. settings may
// be nil if no module declares a typed schema.
func New(c *container.Container, settings SettingsRegistrar, log *logging.Logger) *Processor {
	return &Processor{
		container: c,
		settings:  settings,
		log:       log,
		records:   make(map[string]*ModuleRecord),
	}
}

// Records returns every ModuleRecord produced so far, in processing
// order.
func (p *Processor) Records() []*ModuleRecord {
	out := make([]*ModuleRecord, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.records[id])
	}
	return out
}

// Record returns the ModuleRecord for moduleID, or nil if it hasn't
// been processed.
func (p *Processor) Record(moduleID string) *ModuleRecord {
	return p.records[moduleID]
}

// Process runs every module in reg through the processor, in the
// dependency order reg.DependencyOrder() computes. appContext is
// passed to each module's Constructor. A Phase-1 failure on any module
// aborts the whole process immediately (Phase 1 is deliberately
// brittle); it is the caller's job to exit non-zero after logging the
// module name this returns.
func (p *Processor) Process(ctx context.Context, reg *descriptor.Registry, appContext interface{}) error {
	if err := reg.Validate(nil); err != nil {
		return err
	}

	order, err := reg.DependencyOrder()
	if err != nil {
		return err
	}

	for _, moduleID := range order {
		d := reg.Get(moduleID)
		if err := p.processOne(ctx, d, appContext); err != nil {
			if rec := p.records[moduleID]; rec != nil {
				rec.State = StateFailed
				rec.FailReason = err.Error()
			}
			return kernelerrors.Wrap(kernelerrors.CodePhase1Failed,
				fmt.Sprintf("module %q failed during load", moduleID), err)
		}
	}
	return nil
}

func (p *Processor) processOne(ctx context.Context, d *descriptor.Descriptor, appContext interface{}) error {
	rec := &ModuleRecord{Descriptor: d, State: StateLoading}
	p.records[d.ModuleID] = rec
	p.order = append(p.order, d.ModuleID)

	// Step 3: reserve advertised names before anything else commits.
	for _, svc := range d.ServicesAdvertised {
		if p.container.Has(svc.Name) {
			return kernelerrors.New(kernelerrors.CodeDuplicateService,
				fmt.Sprintf("module %q: service %q already registered", d.ModuleID, svc.Name))
		}
	}

	// Step 4: register typed settings schema (no I/O, no service calls).
	if d.SettingsSchema != nil && p.settings != nil {
		if err := p.settings.RegisterSchema(d.ModuleID, d.SettingsSchema, d.EnvPrefix); err != nil {
			return fmt.Errorf("register settings schema: %w", err)
		}
	}

	// Steps 5-9 (database schemas, API endpoints, health check, shutdown
	// hooks, phase2 operations) are descriptive: the information already
	// lives on d and is consumed directly by C3 (already ran), the HTTP
	// surface, and C5. Shutdown hooks are the one side effect among
	// them, registered here because C9 drains the container's list
	// regardless of which phase is still running.
	if d.ShutdownGraceful != nil {
		sg := d.ShutdownGraceful
		p.container.RegisterShutdown(d.ModuleID+"."+sg.Name, container.ShutdownGraceful,
			shutdownThunk(ctx, sg.Fn), time.Duration(sg.TimeoutSeconds)*time.Second, sg.Priority)
	}
	if d.ShutdownForce != nil {
		sf := d.ShutdownForce
		p.container.RegisterShutdown(d.ModuleID+"."+sf.Name, container.ShutdownForce,
			shutdownThunk(ctx, sf.Fn), time.Duration(sf.TimeoutSeconds)*time.Second, 0)
	}

	// Step 10: instantiate. The constructor must not reach into other
	// services; Go offers no static enforcement of that rule, so a
	// violation surfaces later as a Phase-2 failure, exactly as the
	// design accepts.
	var instance interface{}
	if d.Construct != nil {
		inst, err := d.Construct(appContext)
		if err != nil {
			return fmt.Errorf("construct module: %w", err)
		}
		instance = inst
	}
	rec.Instance = instance

	// Step 2 (deferred): integrity enforcement needs a live instance to
	// type-assert against, so it runs here rather than before
	// construction. Metadata-only violations were already rejected
	// before any module in the batch started processing: a duplicate
	// module_id by Registry.Add, a dangling depends_on by reg.Validate.
	if d.DataIntegrity.StrictMode || d.DataIntegrity.AntiMock {
		base, ok := instance.(descriptor.BaseContract)
		if !ok || !base.EnforcesIntegrity() {
			return kernelerrors.New(kernelerrors.CodeMissingIntegrityBase,
				fmt.Sprintf("module %q declares integrity flags but instance does not implement BaseContract", d.ModuleID))
		}
	}

	// Step 11: auto-create declared services and bind every advertised
	// name to either the auto-created instance or, absent one, to the
	// module instance itself.
	var created interface{} = instance
	if d.AutoServiceCreation != nil {
		svc, err := d.AutoServiceCreation.Factory(instance)
		if err != nil {
			return fmt.Errorf("auto-create service: %w", err)
		}
		created = svc
	}
	for _, svc := range d.ServicesAdvertised {
		if err := p.container.Register(svc.Name, created, svc.Priority); err != nil {
			return err
		}
		rec.Runtime.ServicesCreated = append(rec.Runtime.ServicesCreated, svc.Name)
		rec.Runtime.ActiveServices = append(rec.Runtime.ActiveServices, svc.Name)
	}

	// Step 12: Phase-1 sequence, in declared order. Any failure aborts
	// the whole process.
	for _, step := range d.Phase1Sequence {
		if step.Fn == nil {
			continue
		}
		if err := step.Fn(ctx); err != nil {
			return fmt.Errorf("phase1 step %q: %w", step.Name, err)
		}
	}

	// Step 13: record success by merging into the same record built
	// above, not by replacing it.
	rec.State = StatePhase1Done
	rec.Runtime.LastUpdated = time.Now().UTC()
	if p.log != nil {
		p.log.WithContext(ctx).Infof("module %q completed phase 1 with %d service(s)",
			d.ModuleID, len(rec.Runtime.ServicesCreated))
	}
	return nil
}

func shutdownThunk(ctx context.Context, fn func(ctx context.Context) error) func() error {
	return func() error {
		if fn == nil {
			return nil
		}
		return fn(ctx)
	}
}
