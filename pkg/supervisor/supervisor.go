// Package supervisor coordinates process-wide start-up ordering and
// signal-driven graceful shutdown (A7): queue reachable, then workers up,
// then receivers bind; shutdown runs the same components in reverse order
// within a bounded deadline.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ingestpipe/pkg/audit"
	"ingestpipe/pkg/logger"
)

// Component is one independently startable/stoppable unit the supervisor
// owns: a receiver, a worker pool, the queue broker's readiness probe, the
// catalogue cache, and so on.
type Component interface {
	// Name identifies the component in logs and audit entries.
	Name() string
	// Start brings the component up. It returns once the component is
	// ready to serve or an unrecoverable start-up error occurs.
	Start(ctx context.Context) error
	// Stop shuts the component down, honouring ctx's deadline.
	Stop(ctx context.Context) error
}

// DefaultShutdownDeadline bounds how long the supervisor waits for every
// component's Stop to return before giving up.
const DefaultShutdownDeadline = 30 * time.Second

// Supervisor starts a fixed, ordered list of Components and tears them
// down in reverse order on a shutdown signal or a component failure.
type Supervisor struct {
	serviceName      string
	components       []Component
	auditLogger      audit.Logger
	shutdownDeadline time.Duration
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithAuditLogger records SUPERVISOR_START/SUPERVISOR_STOP audit entries.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Supervisor) { s.auditLogger = l }
}

// WithShutdownDeadline overrides DefaultShutdownDeadline.
func WithShutdownDeadline(d time.Duration) Option {
	return func(s *Supervisor) { s.shutdownDeadline = d }
}

// New builds a Supervisor that starts components in the given order.
func New(serviceName string, components []Component, opts ...Option) *Supervisor {
	s := &Supervisor{
		serviceName:      serviceName,
		components:       components,
		shutdownDeadline: DefaultShutdownDeadline,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts every component in order, then blocks until a shutdown signal
// arrives or a component reports a fatal error, then shuts everything down
// in reverse order.
func (s *Supervisor) Run(ctx context.Context) error {
	started, err := s.startAll(ctx)
	if err != nil {
		s.stopStarted(context.Background(), started)
		return err
	}

	s.auditEvent(ctx, audit.ActionSupervisorStart, "all components started")
	logger.Log.Info("supervisor: all components started", "service", s.serviceName, "components", len(started))

	sig := s.waitForSignal(ctx)
	logger.Log.Info("supervisor: shutdown initiated", "service", s.serviceName, "reason", sig)

	s.auditEvent(context.Background(), audit.ActionSupervisorStop, sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownDeadline)
	defer cancel()
	s.stopStarted(shutdownCtx, started)

	return nil
}

// startAll starts components in order, stopping at the first failure. It
// returns the components that started successfully, in start order, so the
// caller can unwind them even on a partial failure.
func (s *Supervisor) startAll(ctx context.Context) ([]Component, error) {
	started := make([]Component, 0, len(s.components))
	for _, c := range s.components {
		logger.Log.Info("supervisor: starting component", "component", c.Name())
		if err := c.Start(ctx); err != nil {
			return started, fmt.Errorf("supervisor: component %q failed to start: %w", c.Name(), err)
		}
		started = append(started, c)
	}
	return started, nil
}

// stopStarted stops components in reverse start order, logging but not
// aborting on a per-component stop error so the rest still get a chance to
// shut down cleanly.
func (s *Supervisor) stopStarted(ctx context.Context, started []Component) {
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		logger.Log.Info("supervisor: stopping component", "component", c.Name())
		if err := c.Stop(ctx); err != nil {
			logger.Log.Warn("supervisor: component stop failed", "component", c.Name(), "error", err)
		}
	}
}

// waitForSignal blocks until SIGINT/SIGTERM or ctx is cancelled, returning a
// short description of why it returned.
func (s *Supervisor) waitForSignal(ctx context.Context) string {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		return fmt.Sprintf("signal %s", sig)
	case <-ctx.Done():
		return "context cancelled"
	}
}

func (s *Supervisor) auditEvent(ctx context.Context, action audit.Action, reason string) {
	if s.auditLogger == nil {
		return
	}
	entry := audit.NewEntry().
		Service(s.serviceName).
		Method("supervisor.Run").
		Action(action).
		Outcome(audit.OutcomeSuccess).
		Meta("reason", reason).
		Build()
	if err := s.auditLogger.Log(ctx, entry); err != nil {
		logger.Log.Warn("supervisor: failed to log audit entry", "error", err)
	}
}
