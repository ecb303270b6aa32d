// Package shutdown implements the shutdown coordinator (C9): it drains
// the scheduler, runs graceful handlers in ascending priority order
// bounded by their declared timeouts, then force handlers, and finally
// closes database handles.
package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/kernel/internal/kernel/container"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/logging"
	"github.com/R3E-Network/kernel/pkg/metrics"
)

// Drainer is the subset of the scheduler's lifecycle the coordinator
// needs: stop accepting new fires and let in-flight ones finish.
type Drainer interface {
	Stop(ctx context.Context) error
}

// DatabaseCloser is the subset of the bootstrap stage's lifecycle the
// coordinator needs to close database handles last.
type DatabaseCloser interface {
	Close() error
}

// Summary reports what happened during one Run.
type Summary struct {
	HandlersRun int
	Timeouts    int
	Errors      int
}

// Coordinator drives the ordered shutdown sequence.
type Coordinator struct {
	container *container.Container
	scheduler Drainer
	databases DatabaseCloser
	log       *logging.Logger
	recorder  *metrics.Recorder
	deadline  time.Duration

	mu           sync.Mutex
	inFlight     int
	shuttingDown bool
	drained      chan struct{}
}

// New builds a Coordinator. deadline is the global cap on the graceful
// phase (spec default 60s); zero uses that default.
func New(c *container.Container, scheduler Drainer, databases DatabaseCloser, log *logging.Logger, deadline time.Duration) *Coordinator {
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	return &Coordinator{
		container: c,
		scheduler: scheduler,
		databases: databases,
		log:       log,
		recorder:  metrics.Default,
		deadline:  deadline,
		drained:   make(chan struct{}),
	}
}

// Guard tracks one in-flight request so Run can wait for it to finish
// before running shutdown handlers. Returns false if shutdown has
// already been initiated, in which case the caller must reject the
// request rather than start it.
func (c *Coordinator) Guard() (release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shuttingDown {
		return nil, false
	}
	c.inFlight++
	return func() {
		c.mu.Lock()
		c.inFlight--
		n := c.inFlight
		done := c.shuttingDown
		c.mu.Unlock()
		if done && n == 0 {
			c.closeDrained()
		}
	}, true
}

func (c *Coordinator) closeDrained() {
	select {
	case <-c.drained:
	default:
		close(c.drained)
	}
}

// Run executes the full shutdown sequence: signal new-work rejection,
// drain in-flight requests, stop the scheduler, run graceful handlers,
// run force handlers, then close databases. It never returns an error;
// individual handler failures are recorded in the returned Summary.
func (c *Coordinator) Run(ctx context.Context) Summary {
	runCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	c.mu.Lock()
	c.shuttingDown = true
	noneInFlight := c.inFlight == 0
	c.mu.Unlock()
	if noneInFlight {
		c.closeDrained()
	}

	select {
	case <-c.drained:
	case <-runCtx.Done():
		c.log.WithContext(ctx).Warnf("shutdown: deadline reached before in-flight requests drained")
	}

	if c.scheduler != nil {
		if err := c.scheduler.Stop(runCtx); err != nil {
			c.log.WithContext(ctx).WithField("error", err.Error()).Warnf("shutdown: scheduler stop reported an error")
		}
	}

	summary := Summary{}
	c.runHandlers(runCtx, container.ShutdownGraceful, &summary)
	c.runHandlers(runCtx, container.ShutdownForce, &summary)

	if c.databases != nil {
		if err := c.databases.Close(); err != nil {
			c.log.WithContext(ctx).WithField("error", err.Error()).Warnf("shutdown: failed to close database handles")
			summary.Errors++
		}
	}

	c.log.WithContext(ctx).
		WithField("handlers_run", summary.HandlersRun).
		WithField("timeouts", summary.Timeouts).
		WithField("errors", summary.Errors).
		Infof("shutdown: sequence complete")
	return summary
}

func (c *Coordinator) runHandlers(ctx context.Context, kind container.ShutdownKind, summary *Summary) {
	handlers := c.container.ShutdownHandlers(kind)
	for _, h := range handlers {
		summary.HandlersRun++
		outcome := c.runOne(ctx, h)
		switch outcome {
		case outcomeTimeout:
			summary.Timeouts++
			c.recorder.IncShutdownHandler(string(kind), "timeout")
		case outcomeError:
			summary.Errors++
			c.recorder.IncShutdownHandler(string(kind), "error")
		default:
			c.recorder.IncShutdownHandler(string(kind), "success")
		}
	}
}

type handlerOutcome int

const (
	outcomeSuccess handlerOutcome = iota
	outcomeError
	outcomeTimeout
)

func (c *Coordinator) runOne(ctx context.Context, h container.ShutdownHandler) handlerOutcome {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.Handler()
	}()

	select {
	case <-handlerCtx.Done():
		c.log.WithContext(ctx).WithField("handler", h.Name).Warnf("shutdown: handler timed out")
		return outcomeTimeout
	case err := <-done:
		if err != nil {
			ke := kernelerrors.Wrap(kernelerrors.CodeHandlerError, "shutdown handler failed", err)
			c.log.WithContext(ctx).WithField("handler", h.Name).WithField("error", ke.Error()).Warnf("shutdown: handler failed")
			return outcomeError
		}
		return outcomeSuccess
	}
}
