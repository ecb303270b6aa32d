// Package orchestrator implements the Phase-2 orchestrator (C5): it
// collects every module's Phase-2 operations into one dependency
// graph, topologically sorts it with a deterministic tie-break, and
// executes operations in that order. Failures are isolated per module
// instead of aborting the whole run, unlike Phase 1.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/R3E-Network/kernel/internal/kernel/container"
	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/logging"
)

// ModuleState is a module's outcome after Phase-2 completes.
type ModuleState string

const (
	ModuleReady    ModuleState = "READY"
	ModuleDegraded ModuleState = "DEGRADED"
	ModuleFailed   ModuleState = "FAILED"
)

// Summary is the counts C5 emits once every operation has run.
type Summary struct {
	Ready    int
	Degraded int
	Failed   int
}

// OperationResult records what happened to one (module_id, method_name)
// node.
type OperationResult struct {
	ModuleID   string
	MethodName string
	Err        error
}

type node struct {
	moduleID   string
	methodName string
	key        string
	dependsOn  []string // filtered to method-node keys only
	priority   int
	fn         func(ctx context.Context) error
	optional   bool
}

// Orchestrator runs the Phase-2 graph against a live container.
type Orchestrator struct {
	container *container.Container
	log       *logging.Logger
}

// New returns an Orchestrator bound to c.
func New(c *container.Container, log *logging.Logger) *Orchestrator {
	return &Orchestrator{container: c, log: log}
}

// Run executes every module's Phase-2 operations in topological order
// and returns the resulting summary plus per-operation results. A
// CYCLIC_PHASE2 error means no operation ran.
func (o *Orchestrator) Run(ctx context.Context, reg *descriptor.Registry) (Summary, []OperationResult, error) {
	nodes, servicesRequired, err := o.collect(reg)
	if err != nil {
		return Summary{}, nil, err
	}

	order, err := topoSort(nodes)
	if err != nil {
		return Summary{}, nil, err
	}

	requiredFailed := make(map[string]bool)
	optionalFailed := make(map[string]bool)
	var results []OperationResult

	for _, n := range order {
		var opErr error
		for _, svcName := range servicesRequired[n.moduleID] {
			if !o.container.Has(svcName) {
				opErr = kernelerrors.New(kernelerrors.CodeRequiredServiceMissing,
					fmt.Sprintf("module %q: required service %q unavailable for op %q", n.moduleID, svcName, n.methodName))
				break
			}
		}
		if opErr == nil && n.fn != nil {
			opErr = n.fn(ctx)
		}
		if opErr != nil {
			if n.optional {
				optionalFailed[n.moduleID] = true
			} else {
				requiredFailed[n.moduleID] = true
			}
			if o.log != nil {
				o.log.WithContext(ctx).WithField("module_id", n.moduleID).Warnf("phase2 op %q failed: %v", n.methodName, opErr)
			}
		}
		results = append(results, OperationResult{ModuleID: n.moduleID, MethodName: n.methodName, Err: opErr})
	}

	var summary Summary
	var advertised []string
	for _, d := range reg.Descriptors() {
		for _, s := range d.ServicesAdvertised {
			advertised = append(advertised, s.Name)
		}
		switch {
		case requiredFailed[d.ModuleID]:
			summary.Failed++
		case optionalFailed[d.ModuleID]:
			summary.Degraded++
		default:
			summary.Ready++
		}
	}

	if err := o.container.RequireAll(advertised); err != nil {
		return summary, results, err
	}

	return summary, results, nil
}

func (o *Orchestrator) collect(reg *descriptor.Registry) ([]node, map[string][]string, error) {
	methodKeys := make(map[string]bool)
	for _, d := range reg.Descriptors() {
		for _, op := range d.Phase2Operations {
			methodKeys[d.ModuleID+"."+op.MethodName] = true
		}
	}

	var nodes []node
	servicesRequired := make(map[string][]string)
	for _, d := range reg.Descriptors() {
		servicesRequired[d.ModuleID] = d.ServicesRequired
		for _, op := range d.Phase2Operations {
			var deps []string
			for _, dep := range op.DependsOn {
				if methodKeys[dep] {
					deps = append(deps, dep)
				}
				// Service-name dependencies are already satisfied: every
				// module's Phase-1 sequence (including auto-created
				// services) completes for the whole batch before any
				// Phase-2 operation runs.
			}
			nodes = append(nodes, node{
				moduleID:   d.ModuleID,
				methodName: op.MethodName,
				key:        d.ModuleID + "." + op.MethodName,
				dependsOn:  deps,
				priority:   op.Priority,
				fn:         op.Fn,
				optional:   op.Optional,
			})
		}
	}
	return nodes, servicesRequired, nil
}

// topoSort produces a deterministic linear order: Kahn's algorithm
// with the ready set broken by (priority, module_id, method_name) at
// every step, per the spec's determinism requirement.
func topoSort(nodes []node) ([]node, error) {
	byKey := make(map[string]*node, len(nodes))
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string)

	for i := range nodes {
		n := &nodes[i]
		byKey[n.key] = n
		if _, ok := indegree[n.key]; !ok {
			indegree[n.key] = 0
		}
	}
	for i := range nodes {
		n := &nodes[i]
		for _, dep := range n.dependsOn {
			indegree[n.key]++
			dependents[dep] = append(dependents[dep], n.key)
		}
	}

	ready := make([]string, 0, len(nodes))
	for key, deg := range indegree {
		if deg == 0 {
			ready = append(ready, key)
		}
	}

	var out []node
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := byKey[ready[i]], byKey[ready[j]]
			if a.priority != b.priority {
				return a.priority < b.priority
			}
			if a.moduleID != b.moduleID {
				return a.moduleID < b.moduleID
			}
			return a.methodName < b.methodName
		})

		key := ready[0]
		ready = ready[1:]
		out = append(out, *byKey[key])

		for _, depKey := range dependents[key] {
			indegree[depKey]--
			if indegree[depKey] == 0 {
				ready = append(ready, depKey)
			}
		}
	}

	if len(out) != len(nodes) {
		return nil, kernelerrors.New(kernelerrors.CodeCyclicPhase2, "phase2 operation graph contains a cycle")
	}
	return out, nil
}
