// Package descriptor implements the metadata registry (C2): the
// structured description of a module's services, dependencies, and
// lifecycle hooks. Go has no annotations, so a Descriptor is built with
// a small fluent Builder instead of being scanned off class
// attributes; the Builder is the "closed enumeration of annotation
// kinds" the original system expressed through decorators.
package descriptor

import (
	"context"
	"fmt"
	"sort"

	"github.com/R3E-Network/kernel/pkg/kernelerrors"
)

// ServiceSpec is one entry in services_advertised.
type ServiceSpec struct {
	Name     string
	Priority int
}

// AutoServiceCreation describes a service the processor must construct
// and attach to the module instance before Phase-1 runs.
type AutoServiceCreation struct {
	AttributeName string
	Factory       func(module interface{}) (interface{}, error)
}

// Phase1Step is one entry in the ordered phase1_sequence.
type Phase1Step struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Phase2Operation is one node in the Phase-2 dependency graph.
// Optional marks an operation whose failure degrades its module rather
// than failing it outright: a module reaches READY only if every
// non-optional operation succeeds.
type Phase2Operation struct {
	MethodName string
	DependsOn  []string
	Priority   int
	Fn         func(ctx context.Context) error
	Optional   bool
}

// APIEndpoints records a router attribute and URL prefix; mounting is
// deferred to the HTTP surface wiring, not performed here.
type APIEndpoints struct {
	RouterAttribute string
	URLPrefix       string
}

// ShutdownGraceful describes the module's graceful shutdown hook.
type ShutdownGraceful struct {
	Name           string
	Fn             func(ctx context.Context) error
	TimeoutSeconds int
	Priority       int
}

// ShutdownForce describes the module's forced shutdown hook.
type ShutdownForce struct {
	Name           string
	Fn             func(ctx context.Context) error
	TimeoutSeconds int
}

// HealthCheck is advisory: the core stores and exposes the
// declaration but does not poll it (see Open Question decisions in
// DESIGN.md).
type HealthCheck struct {
	IntervalSeconds int
	Fn              func(ctx context.Context) error
}

// DataIntegrity carries the module's integrity-mode flags. When
// StrictMode or AntiMock is set, Validate requires the module instance
// passed to it implement BaseContract.
type DataIntegrity struct {
	StrictMode bool
	AntiMock   bool
}

// BaseContract is the structural marker integrity-mode modules must
// implement; it stands in for "inheritance from a base contract" in a
// language without annotation-driven subclassing.
type BaseContract interface {
	EnforcesIntegrity() bool
}

// TableSpec is one table a module's database schema declares.
type TableSpec struct {
	Name      string
	CreateSQL string
}

// DatabaseSchema groups tables under one logical database name, as
// discovered from a module's DATABASE_NAME declaration.
type DatabaseSchema struct {
	DatabaseName string
	Tables       []TableSpec
}

// Constructor builds a module instance given the live app context. It
// must not perform service lookups or I/O beyond local assignment;
// that restriction is a developer contract the processor cannot
// enforce statically (see C4 step 10).
type Constructor func(appContext interface{}) (interface{}, error)

// Descriptor is the fully-built per-module metadata record: the
// Go-native stand-in for annotations scanned off a module class.
type Descriptor struct {
	ModuleID            string
	Dependencies        []string
	Construct           Constructor
	ServicesAdvertised  []ServiceSpec
	AutoServiceCreation *AutoServiceCreation
	ServicesRequired    []string
	Phase1Sequence      []Phase1Step
	Phase2Operations    []Phase2Operation
	APIEndpoints        *APIEndpoints
	ShutdownGraceful    *ShutdownGraceful
	ShutdownForce       *ShutdownForce
	HealthCheck         *HealthCheck
	DataIntegrity       DataIntegrity
	SettingsSchema      interface{} // zero-value instance of the module's typed settings schema, or nil
	EnvPrefix           string
	DatabaseSchemas     []DatabaseSchema
}

// Builder assembles a Descriptor field by field. It is the module
// author's equivalent of a class carrying annotations.
type Builder struct {
	d   Descriptor
	err error
}

// New starts a Builder for moduleID. moduleID must be a non-empty
// dotted identifier; emptiness is reported by Build.
func New(moduleID string) *Builder {
	return &Builder{d: Descriptor{ModuleID: moduleID}}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// DependsOn records module_id dependencies consulted by the loader to
// order module processing.
func (b *Builder) DependsOn(moduleIDs ...string) *Builder {
	b.d.Dependencies = append(b.d.Dependencies, moduleIDs...)
	return b
}

// WithConstructor sets the module's constructor. If never called, the
// processor treats the module as having no per-instance state: nil is
// passed through as the module instance.
func (b *Builder) WithConstructor(fn Constructor) *Builder {
	b.d.Construct = fn
	return b
}

// Advertises adds a service this module will register with the
// container, at the given shutdown/lookup priority.
func (b *Builder) Advertises(name string, priority int) *Builder {
	b.d.ServicesAdvertised = append(b.d.ServicesAdvertised, ServiceSpec{Name: name, Priority: priority})
	return b
}

// AutoService declares a service the processor constructs and attaches
// automatically. At most one may be set per module.
func (b *Builder) AutoService(attributeName string, factory func(module interface{}) (interface{}, error)) *Builder {
	if b.d.AutoServiceCreation != nil {
		return b.fail(kernelerrors.New(kernelerrors.CodeMetadataConflict,
			fmt.Sprintf("module %q declares more than one auto_service_creation", b.d.ModuleID)))
	}
	b.d.AutoServiceCreation = &AutoServiceCreation{AttributeName: attributeName, Factory: factory}
	return b
}

// Requires names a service that must resolve before this module's
// Phase-2 operations run.
func (b *Builder) Requires(serviceNames ...string) *Builder {
	b.d.ServicesRequired = append(b.d.ServicesRequired, serviceNames...)
	return b
}

// Phase1 appends a Phase-1 method. Order of calls is the order of
// execution.
func (b *Builder) Phase1(name string, fn func(ctx context.Context) error) *Builder {
	b.d.Phase1Sequence = append(b.d.Phase1Sequence, Phase1Step{Name: name, Fn: fn})
	return b
}

// Phase2 adds a required node to the Phase-2 dependency graph.
// dependsOn entries are either a service name or "module_id.method_name".
func (b *Builder) Phase2(methodName string, dependsOn []string, priority int, fn func(ctx context.Context) error) *Builder {
	return b.phase2(methodName, dependsOn, priority, fn, false)
}

// Phase2Optional adds a Phase-2 node whose failure degrades the module
// instead of failing it.
func (b *Builder) Phase2Optional(methodName string, dependsOn []string, priority int, fn func(ctx context.Context) error) *Builder {
	return b.phase2(methodName, dependsOn, priority, fn, true)
}

func (b *Builder) phase2(methodName string, dependsOn []string, priority int, fn func(ctx context.Context) error, optional bool) *Builder {
	b.d.Phase2Operations = append(b.d.Phase2Operations, Phase2Operation{
		MethodName: methodName,
		DependsOn:  dependsOn,
		Priority:   priority,
		Fn:         fn,
		Optional:   optional,
	})
	return b
}

// WithAPIEndpoints records the router attribute and URL prefix this
// module mounts under.
func (b *Builder) WithAPIEndpoints(routerAttribute, urlPrefix string) *Builder {
	b.d.APIEndpoints = &APIEndpoints{RouterAttribute: routerAttribute, URLPrefix: urlPrefix}
	return b
}

// WithShutdownGraceful sets the module's graceful shutdown hook.
// priority must fall within 1..1000 (enforced by Build).
func (b *Builder) WithShutdownGraceful(name string, fn func(ctx context.Context) error, timeoutSeconds, priority int) *Builder {
	b.d.ShutdownGraceful = &ShutdownGraceful{Name: name, Fn: fn, TimeoutSeconds: timeoutSeconds, Priority: priority}
	return b
}

// WithShutdownForce sets the module's forced shutdown hook.
func (b *Builder) WithShutdownForce(name string, fn func(ctx context.Context) error, timeoutSeconds int) *Builder {
	b.d.ShutdownForce = &ShutdownForce{Name: name, Fn: fn, TimeoutSeconds: timeoutSeconds}
	return b
}

// WithHealthCheck records an advisory health-check declaration.
func (b *Builder) WithHealthCheck(intervalSeconds int, fn func(ctx context.Context) error) *Builder {
	b.d.HealthCheck = &HealthCheck{IntervalSeconds: intervalSeconds, Fn: fn}
	return b
}

// WithDataIntegrity sets the module's integrity-mode flags.
func (b *Builder) WithDataIntegrity(strictMode, antiMock bool) *Builder {
	b.d.DataIntegrity = DataIntegrity{StrictMode: strictMode, AntiMock: antiMock}
	return b
}

// WithSettingsSchema attaches a zero-value instance of the module's
// typed settings schema; C6 reads its fields to build defaults.
func (b *Builder) WithSettingsSchema(schema interface{}, envPrefix string) *Builder {
	b.d.SettingsSchema = schema
	b.d.EnvPrefix = envPrefix
	return b
}

// WithDatabaseSchemas records the database/table declarations C3
// already materialized; kept here only for diagnostics.
func (b *Builder) WithDatabaseSchemas(schemas ...DatabaseSchema) *Builder {
	b.d.DatabaseSchemas = append(b.d.DatabaseSchemas, schemas...)
	return b
}

// Build validates single-module invariants and returns the completed
// Descriptor. Cross-module invariants (UNKNOWN_DEPENDENCY) are checked
// later by Registry.Validate, once every module's Descriptor is known.
func (b *Builder) Build() (*Descriptor, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.d.ModuleID == "" {
		return nil, kernelerrors.New(kernelerrors.CodeMetadataConflict, "module_id is required")
	}
	if b.d.ShutdownGraceful != nil {
		p := b.d.ShutdownGraceful.Priority
		if p < 1 || p > 1000 {
			return nil, kernelerrors.New(kernelerrors.CodeMetadataConflict,
				fmt.Sprintf("module %q shutdown_graceful.priority %d out of range 1..1000", b.d.ModuleID, p))
		}
	}
	d := b.d
	return &d, nil
}

// Registry collects every module's Descriptor and checks the
// invariants that only make sense once the whole set is known:
// services_required resolving to some module's advertisement, and
// phase2 depends_on referencing a known service or method.
type Registry struct {
	descriptors map[string]*Descriptor
	order       []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]*Descriptor)}
}

// Add registers d. Returns METADATA_CONFLICT if module_id repeats.
func (r *Registry) Add(d *Descriptor) error {
	if _, exists := r.descriptors[d.ModuleID]; exists {
		return kernelerrors.New(kernelerrors.CodeMetadataConflict,
			fmt.Sprintf("module_id %q registered more than once", d.ModuleID))
	}
	r.descriptors[d.ModuleID] = d
	r.order = append(r.order, d.ModuleID)
	return nil
}

// Descriptors returns every registered Descriptor in registration
// order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descriptors[id])
	}
	return out
}

// Get returns the Descriptor for moduleID, or nil if unknown.
func (r *Registry) Get(moduleID string) *Descriptor {
	return r.descriptors[moduleID]
}

// Validate checks the cross-module invariants C2's contract names:
// every services_required entry advertised somewhere, every phase2
// depends_on resolvable, and (when set) data-integrity base-contract
// enforcement against the supplied module instances.
//
// instances maps module_id to its constructed module value, used only
// to type-assert BaseContract for integrity-flagged modules; pass nil
// to skip that check (e.g. during descriptor-only validation before
// modules are instantiated).
func (r *Registry) Validate(instances map[string]interface{}) error {
	advertised := make(map[string]bool)
	methods := make(map[string]bool) // "module_id.method_name"
	for _, d := range r.descriptors {
		for _, s := range d.ServicesAdvertised {
			advertised[s.Name] = true
		}
		for _, op := range d.Phase2Operations {
			methods[d.ModuleID+"."+op.MethodName] = true
		}
	}

	for _, d := range r.descriptors {
		for _, req := range d.ServicesRequired {
			if !advertised[req] {
				return kernelerrors.New(kernelerrors.CodeUnknownDependency,
					fmt.Sprintf("module %q requires service %q, advertised by no module", d.ModuleID, req))
			}
		}
		for _, op := range d.Phase2Operations {
			for _, dep := range op.DependsOn {
				if advertised[dep] || methods[dep] {
					continue
				}
				return kernelerrors.New(kernelerrors.CodeUnknownDependency,
					fmt.Sprintf("module %q phase2 op %q depends on unknown %q", d.ModuleID, op.MethodName, dep))
			}
		}
		if (d.DataIntegrity.StrictMode || d.DataIntegrity.AntiMock) && instances != nil {
			inst, ok := instances[d.ModuleID]
			if !ok {
				continue
			}
			base, ok := inst.(BaseContract)
			if !ok || !base.EnforcesIntegrity() {
				return kernelerrors.New(kernelerrors.CodeMissingIntegrityBase,
					fmt.Sprintf("module %q declares integrity flags but does not implement BaseContract", d.ModuleID))
			}
		}
	}
	return nil
}

// DependencyOrder returns module ids sorted so that every module
// appears after its declared Dependencies, ties broken by module_id.
// Used by C4 to decide processing order before Phase-1 begins.
func (r *Registry) DependencyOrder() ([]string, error) {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)

	visited := make(map[string]int) // 0=unvisited, 1=in-progress, 2=done
	var out []string

	var visit func(id string) error
	visit = func(id string) error {
		switch visited[id] {
		case 2:
			return nil
		case 1:
			return kernelerrors.New(kernelerrors.CodeCyclicPhase2,
				fmt.Sprintf("dependency cycle detected at module %q", id))
		}
		visited[id] = 1
		d, ok := r.descriptors[id]
		if !ok {
			return kernelerrors.New(kernelerrors.CodeUnknownDependency,
				fmt.Sprintf("unknown module %q named as a dependency", id))
		}
		deps := append([]string(nil), d.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[id] = 2
		out = append(out, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}
