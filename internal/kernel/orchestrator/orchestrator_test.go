package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/kernel/internal/kernel/container"
	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioS1StartupOrdering mirrors spec scenario S1: setup must
// run strictly before load_baseline, and both services must resolve
// afterward.
func TestScenarioS1StartupOrdering(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register("core.database.service", "db", 10))
	require.NoError(t, c.Register("core.settings.service", "settings", 20))

	var order []string

	database, err := descriptor.New("core.database").
		Advertises("core.database.service", 10).
		Phase2("setup", nil, 20, func(ctx context.Context) error {
			order = append(order, "setup")
			return nil
		}).
		Build()
	require.NoError(t, err)

	settings, err := descriptor.New("core.settings").
		Advertises("core.settings.service", 20).
		Requires("core.database.service").
		Phase2("load_baseline", []string{"core.database.setup"}, 30, func(ctx context.Context) error {
			order = append(order, "load_baseline")
			return nil
		}).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(database))
	require.NoError(t, reg.Add(settings))

	o := New(c, nil)
	summary, _, err := o.Run(context.Background(), reg)
	require.NoError(t, err)

	assert.Equal(t, []string{"setup", "load_baseline"}, order)
	assert.Equal(t, 2, summary.Ready)
	assert.Equal(t, 0, summary.Degraded)
	assert.Equal(t, 0, summary.Failed)
}

func TestCyclicPhase2DetectsCycleBeforeAnyOperationRuns(t *testing.T) {
	c := container.New()
	var ran bool

	a, err := descriptor.New("a").
		Phase2("opA", []string{"b.opB"}, 10, func(ctx context.Context) error { ran = true; return nil }).
		Build()
	require.NoError(t, err)
	b, err := descriptor.New("b").
		Phase2("opB", []string{"a.opA"}, 10, func(ctx context.Context) error { ran = true; return nil }).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(a))
	require.NoError(t, reg.Add(b))

	o := New(c, nil)
	_, _, err = o.Run(context.Background(), reg)
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeCyclicPhase2))
	assert.False(t, ran)
}

func TestRequiredOperationFailureMarksModuleFailedAndIsolates(t *testing.T) {
	c := container.New()
	var otherRan bool

	failing, err := descriptor.New("failing").
		Phase2("op", nil, 10, func(ctx context.Context) error { return errors.New("boom") }).
		Build()
	require.NoError(t, err)
	other, err := descriptor.New("other").
		Phase2("op", nil, 10, func(ctx context.Context) error { otherRan = true; return nil }).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(failing))
	require.NoError(t, reg.Add(other))

	o := New(c, nil)
	summary, results, err := o.Run(context.Background(), reg)
	require.NoError(t, err)
	assert.True(t, otherRan)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Ready)

	var sawFailure bool
	for _, r := range results {
		if r.ModuleID == "failing" {
			sawFailure = r.Err != nil
		}
	}
	assert.True(t, sawFailure)
}

func TestOptionalOperationFailureDegradesModule(t *testing.T) {
	c := container.New()

	d, err := descriptor.New("m").
		Phase2("required", nil, 10, func(ctx context.Context) error { return nil }).
		Phase2Optional("optional", nil, 20, func(ctx context.Context) error { return errors.New("nope") }).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(d))

	o := New(c, nil)
	summary, _, err := o.Run(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Degraded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Ready)
}

func TestRequiredServiceMissingFailsOperationNotRun(t *testing.T) {
	c := container.New()

	d, err := descriptor.New("m").
		Requires("never.registered").
		Phase2("op", nil, 10, func(ctx context.Context) error { return nil }).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(d))

	o := New(c, nil)
	summary, results, err := o.Run(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.True(t, kernelerrors.Is(results[0].Err, kernelerrors.CodeRequiredServiceMissing))
}
