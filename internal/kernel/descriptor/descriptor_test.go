package descriptor

import (
	"context"
	"testing"

	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context) error { return nil }

func TestBuilderBuildsDescriptor(t *testing.T) {
	d, err := New("core.database").
		Advertises("core.database.service", 10).
		Phase2("setup", nil, 20, noop).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "core.database", d.ModuleID)
	require.Len(t, d.ServicesAdvertised, 1)
	assert.Equal(t, "core.database.service", d.ServicesAdvertised[0].Name)
}

func TestBuilderRejectsSecondAutoServiceCreation(t *testing.T) {
	factory := func(m interface{}) (interface{}, error) { return m, nil }
	_, err := New("m").
		AutoService("svc1", factory).
		AutoService("svc2", factory).
		Build()
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeMetadataConflict))
}

func TestBuilderRejectsMissingModuleID(t *testing.T) {
	_, err := New("").Build()
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeMetadataConflict))
}

func TestBuilderRejectsShutdownPriorityOutOfRange(t *testing.T) {
	_, err := New("m").WithShutdownGraceful("stop", noop, 5, 0).Build()
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeMetadataConflict))

	_, err = New("m").WithShutdownGraceful("stop", noop, 5, 1001).Build()
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeMetadataConflict))
}

func TestRegistryValidateCatchesUnknownServiceRequirement(t *testing.T) {
	settings, err := New("core.settings").Requires("core.database.service").Build()
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, r.Add(settings))

	err = r.Validate(nil)
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeUnknownDependency))
}

func TestRegistryValidateCatchesUnknownPhase2Dependency(t *testing.T) {
	settings, err := New("core.settings").
		Phase2("load_baseline", []string{"core.database.setup"}, 30, noop).
		Build()
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, r.Add(settings))

	err = r.Validate(nil)
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeUnknownDependency))
}

func TestRegistryValidatePassesWhenDependenciesResolve(t *testing.T) {
	database, err := New("core.database").
		Advertises("core.database.service", 10).
		Phase2("setup", nil, 20, noop).
		Build()
	require.NoError(t, err)

	settings, err := New("core.settings").
		Advertises("core.settings.service", 20).
		Requires("core.database.service").
		Phase2("load_baseline", []string{"core.database.setup"}, 30, noop).
		Build()
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, r.Add(database))
	require.NoError(t, r.Add(settings))
	assert.NoError(t, r.Validate(nil))
}

type strictModule struct{ enforces bool }

func (s strictModule) EnforcesIntegrity() bool { return s.enforces }

func TestRegistryValidateEnforcesBaseContract(t *testing.T) {
	d, err := New("core.integrity").WithDataIntegrity(true, false).Build()
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, r.Add(d))

	err = r.Validate(map[string]interface{}{"core.integrity": struct{}{}})
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeMissingIntegrityBase))

	err = r.Validate(map[string]interface{}{"core.integrity": strictModule{enforces: true}})
	assert.NoError(t, err)
}

func TestRegistryAddDuplicateModuleIDFails(t *testing.T) {
	d1, _ := New("m").Build()
	d2, _ := New("m").Build()

	r := NewRegistry()
	require.NoError(t, r.Add(d1))

	err := r.Add(d2)
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeMetadataConflict))
}

func TestDependencyOrderRespectsDependencies(t *testing.T) {
	database, _ := New("core.database").Build()
	settings, _ := New("core.settings").DependsOn("core.database").Build()

	r := NewRegistry()
	require.NoError(t, r.Add(settings))
	require.NoError(t, r.Add(database))

	order, err := r.DependencyOrder()
	require.NoError(t, err)
	require.Equal(t, []string{"core.database", "core.settings"}, order)
}

func TestDependencyOrderDetectsCycle(t *testing.T) {
	a, _ := New("a").DependsOn("b").Build()
	b, _ := New("b").DependsOn("a").Build()

	r := NewRegistry()
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))

	_, err := r.DependencyOrder()
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeCyclicPhase2))
}
