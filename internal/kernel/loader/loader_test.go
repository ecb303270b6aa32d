package loader

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

func TestProcessRegistersServicesAndRunsPhase1(t *testing.T) {
	c := container.New()
	var initCalled bool

	d, err := descriptor.New("core.database").
		Advertises("core.database.service", 10).
		Phase1("init", func(ctx context.Context) error { initCalled = true; return nil }).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(d))

	p := New(c, nil, nil)
	require.NoError(t, p.Process(context.Background(), reg, nil))

	assert.True(t, initCalled)
	assert.True(t, c.Has("core.database.service"))

	rec := p.Record("core.database")
	require.NotNil(t, rec)
	assert.Equal(t, StatePhase1Done, rec.State)
}

// TestRecordSuccessMergesNotReplaces guards against the regression the
// spec calls out explicitly: service registrations recorded in earlier
// steps must survive the final "record success" step.
func TestRecordSuccessMergesNotReplaces(t *testing.T) {
	c := container.New()

	d, err := descriptor.New("core.multi").
		Advertises("core.multi.one", 10).
		Advertises("core.multi.two", 11).
		Advertises("core.multi.three", 12).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(d))

	p := New(c, nil, nil)
	require.NoError(t, p.Process(context.Background(), reg, nil))

	rec := p.Record("core.multi")
	require.NotNil(t, rec)
	assert.ElementsMatch(t, []string{"core.multi.one", "core.multi.two", "core.multi.three"}, rec.Runtime.ServicesCreated)
	assert.ElementsMatch(t, []string{"core.multi.one", "core.multi.two", "core.multi.three"}, rec.Runtime.ActiveServices)
	assert.False(t, rec.Runtime.LastUpdated.IsZero())
}

func TestDuplicateServiceFailsBeforePhase1Runs(t *testing.T) {
	c := container.New()
	require.NoError(t, c.Register("taken", "existing", 1))

	var phase1Ran bool
	d, err := descriptor.New("m").
		Advertises("taken", 5).
		Phase1("init", func(ctx context.Context) error { phase1Ran = true; return nil }).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(d))

	p := New(c, nil, nil)
	err = p.Process(context.Background(), reg, nil)
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeDuplicateService))
	assert.False(t, phase1Ran)
}

func TestPhase1FailureAbortsAndIsWrapped(t *testing.T) {
	c := container.New()
	d, err := descriptor.New("m").
		Phase1("boom", func(ctx context.Context) error { return errors.New("explode") }).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(d))

	p := New(c, nil, nil)
	err = p.Process(context.Background(), reg, nil)
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodePhase1Failed))

	rec := p.Record("m")
	require.NotNil(t, rec)
	assert.Equal(t, StateFailed, rec.State)
}

type trackingBaseModule struct{}

func (trackingBaseModule) EnforcesIntegrity() bool { return true }

func TestIntegrityFlagsRequireBaseContract(t *testing.T) {
	c := container.New()
	d, err := descriptor.New("core.integrity").
		WithDataIntegrity(true, false).
		WithConstructor(func(appCtx interface{}) (interface{}, error) { return struct{}{}, nil }).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(d))

	p := New(c, nil, nil)
	err = p.Process(context.Background(), reg, nil)
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeMissingIntegrityBase))
}

func TestIntegrityFlagsSatisfiedByBaseContract(t *testing.T) {
	c := container.New()
	d, err := descriptor.New("core.integrity").
		WithDataIntegrity(true, false).
		WithConstructor(func(appCtx interface{}) (interface{}, error) { return trackingBaseModule{}, nil }).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(d))

	p := New(c, nil, nil)
	assert.NoError(t, p.Process(context.Background(), reg, nil))
}

func TestAutoServiceCreationBindsFactoryInstance(t *testing.T) {
	c := container.New()
	type realService struct{ name string }

	d, err := descriptor.New("m").
		Advertises("m.service", 10).
		AutoService("service", func(module interface{}) (interface{}, error) {
			return &realService{name: "created"}, nil
		}).
		Build()
	require.NoError(t, err)

	reg := descriptor.NewRegistry()
	require.NoError(t, reg.Add(d))

	p := New(c, nil, nil)
	require.NoError(t, p.Process(context.Background(), reg, nil))

	svc, ok := c.Get("m.service").(*realService)
	require.True(t, ok)
	assert.Equal(t, "created", svc.name)
}
