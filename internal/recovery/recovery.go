// Package recovery provides generic startup recovery mechanisms for LeadPipe
// to handle application restarts gracefully. A crash can strand durable work
// mid-flight: outbox messages stuck in sending, jobs stuck in running.
// Components register here and the manager sweeps them once before the
// service starts accepting traffic.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable defines the interface for components that can recover their
// state after a restart.
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context) error
}

// RecoverableFunc adapts a plain function to the Recoverable interface.
type RecoverableFunc func(ctx context.Context) error

// RecoverState calls f.
func (f RecoverableFunc) RecoverState(ctx context.Context) error {
	return f(ctx)
}

// Manager orchestrates recovery of all registered components.
type Manager struct {
	names        []string
	recoverables []Recoverable
}

// NewManager creates a new recovery manager with no components registered.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a component that can be recovered. Components run in
// registration order.
func (m *Manager) Register(name string, r Recoverable) {
	m.names = append(m.names, name)
	m.recoverables = append(m.recoverables, r)
}

// RecoverAll performs recovery of all registered components. A failing
// component is logged and counted; the remaining components still get their
// chance to recover.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(m.recoverables))

	recoveredCount := 0
	errorCount := 0

	for i, recoverable := range m.recoverables {
		if err := recoverable.RecoverState(ctx); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", m.names[i])
			errorCount++
			continue
		}
		recoveredCount++
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)

	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(m.recoverables))
	}

	return nil
}
