// Infrastructure adapters wiring the store's background workers into recovery.
package recovery

import (
	"context"

	"github.com/BTreeMap/LeadPipe/internal/store"
)

// ForOutboxSender adapts the outbox sender's stale-message requeue so the
// manager can run it at startup.
func ForOutboxSender(s *store.OutboxSender) Recoverable {
	return RecoverableFunc(func(ctx context.Context) error {
		return s.RecoverStaleMessages()
	})
}

// ForJobRunner adapts the job runner's stale-job requeue so the manager can
// run it at startup.
func ForJobRunner(r *store.JobRunner) Recoverable {
	return RecoverableFunc(func(ctx context.Context) error {
		return r.RecoverStaleJobs()
	})
}
