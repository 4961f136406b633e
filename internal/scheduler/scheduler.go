// Package scheduler provides cron-driven background sweeps for LeadPipe.
//
// The re-engagement sweep periodically finds conversations that have gone
// quiet, skips anything frozen or already booked, and runs one cold nudge
// per contact through the engine's normal reply path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Default configuration constants for the scheduler.
const (
	// DefaultReengageCron runs the idle sweep every four hours.
	DefaultReengageCron = "0 */4 * * *"
	// DefaultReengageAfter is how long a conversation sits quiet before it
	// qualifies for a nudge.
	DefaultReengageAfter = 48 * time.Hour
	// DefaultSweepLimit caps how many contacts one sweep nudges.
	DefaultSweepLimit = 50
	// DefaultSweepTimeout bounds one full sweep pass.
	DefaultSweepTimeout = 5 * time.Minute
)

// ReEngager runs a re-engagement turn for one contact. The conversation
// engine implements it.
type ReEngager interface {
	ReEngage(ctx context.Context, contactID string) (models.Reply, error)
}

// Opts holds configuration options for the scheduler.
type Opts struct {
	ReengageCron  string
	ReengageAfter time.Duration
	SweepLimit    int
}

// Option defines a configuration option for the scheduler.
type Option func(*Opts)

// WithReengageCron sets the cron expression for the idle sweep.
func WithReengageCron(spec string) Option {
	return func(o *Opts) {
		o.ReengageCron = spec
	}
}

// WithReengageAfter sets the idle threshold before a contact is nudged.
func WithReengageAfter(d time.Duration) Option {
	return func(o *Opts) {
		o.ReengageAfter = d
	}
}

// WithSweepLimit caps the number of contacts nudged per sweep.
func WithSweepLimit(n int) Option {
	return func(o *Opts) {
		o.SweepLimit = n
	}
}

// Scheduler runs cron-based background jobs against the store and engine.
type Scheduler struct {
	cron          *cron.Cron
	st            store.Store
	engine        ReEngager
	reengageCron  string
	reengageAfter time.Duration
	sweepLimit    int
}

// NewScheduler creates the scheduler. The cron expression and idle threshold
// fall back to the LEADPIPE_REENGAGE_CRON and LEADPIPE_REENGAGE_AFTER
// (hours) environment variables, then to the defaults.
func NewScheduler(st store.Store, engine ReEngager, opts ...Option) *Scheduler {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ReengageCron == "" {
		cfg.ReengageCron = os.Getenv("LEADPIPE_REENGAGE_CRON")
	}
	if cfg.ReengageCron == "" {
		cfg.ReengageCron = DefaultReengageCron
	}
	if cfg.ReengageAfter <= 0 {
		if v := os.Getenv("LEADPIPE_REENGAGE_AFTER"); v != "" {
			if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
				cfg.ReengageAfter = time.Duration(hours) * time.Hour
			} else {
				slog.Warn("NewScheduler: invalid LEADPIPE_REENGAGE_AFTER, using default", "value", v)
			}
		}
	}
	if cfg.ReengageAfter <= 0 {
		cfg.ReengageAfter = DefaultReengageAfter
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = DefaultSweepLimit
	}

	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic
	// recovery so one bad sweep cannot kill the cron loop.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	return &Scheduler{
		cron:          c,
		st:            st,
		engine:        engine,
		reengageCron:  cfg.ReengageCron,
		reengageAfter: cfg.ReengageAfter,
		sweepLimit:    cfg.SweepLimit,
	}
}

// Start registers the re-engagement sweep and starts the cron loop.
func (s *Scheduler) Start() error {
	if err := s.AddJob(s.reengageCron, s.Sweep); err != nil {
		return fmt.Errorf("invalid re-engagement cron %q: %w", s.reengageCron, err)
	}
	s.cron.Start()
	slog.Info("Scheduler.Start: re-engagement sweep scheduled",
		"cron", s.reengageCron, "idleAfter", s.reengageAfter, "limit", s.sweepLimit)
	return nil
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Scheduler.Stop: scheduler stopped")
}

// Sweep runs one re-engagement pass: every conversation idle past the
// threshold gets one nudge through the engine. Frozen and booked
// conversations are skipped; contacts the engine declines to nudge are
// normal control flow, not errors.
func (s *Scheduler) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultSweepTimeout)
	defer cancel()

	idleBefore := time.Now().Add(-s.reengageAfter)
	states, err := s.st.ListIdleConversationStates(idleBefore, s.sweepLimit)
	if err != nil {
		slog.Error("Scheduler.Sweep: idle listing failed", "error", err)
		return
	}

	var nudged, skipped, failed int
	for _, state := range states {
		if state.Frozen || state.Booked {
			skipped++
			continue
		}
		_, err := s.engine.ReEngage(ctx, state.ContactID)
		switch {
		case err == nil:
			nudged++
		case errors.Is(err, models.ErrNoMatch), errors.Is(err, models.ErrConversationFrozen):
			// The conversation moved on between listing and nudging.
			skipped++
		default:
			slog.Error("Scheduler.Sweep: re-engage failed", "contactID", state.ContactID, "error", err)
			failed++
		}
		if ctx.Err() != nil {
			slog.Warn("Scheduler.Sweep: sweep timed out", "processed", nudged+skipped+failed, "of", len(states))
			break
		}
	}

	slog.Info("Scheduler.Sweep: re-engagement sweep complete",
		"idle", len(states), "nudged", nudged, "skipped", skipped, "failed", failed)
}
