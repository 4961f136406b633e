package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BTreeMap/LeadPipe/internal/calendar"
	"github.com/BTreeMap/LeadPipe/internal/engine"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/recovery"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twiliosms"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// Run assembles the full LeadPipe service from module options and blocks
// until a shutdown signal arrives. Components with a degraded mode fall back
// when unavailable (generative drafts, live calendar); components without
// one fail the boot (store, transport credentials).
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, schedulerOpts []scheduler.Option, apiOpts []Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.StateDir == "" {
		cfg.StateDir = os.Getenv("LEADPIPE_STATE_DIR")
	}
	if cfg.Channel == "" {
		cfg.Channel = os.Getenv("LEADPIPE_CHANNEL")
	}
	channel := strings.ToLower(strings.TrimSpace(cfg.Channel))
	if channel == "" {
		channel = "none"
	}

	// One instance per state directory.
	if cfg.StateDir != "" {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("failed to acquire state directory lock: %w", err)
		}
		defer lock.Release()
	}

	st, err := openStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	var gen genai.ClientInterface
	if client, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("Run: generative client unavailable, drafts fall back to playbook templates", "error", err)
	} else {
		gen = client
	}

	eng, err := engine.NewEngine(st, gen, buildSlotProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize conversation engine: %w", err)
	}

	msgService, err := buildMessagingService(channel, waOpts)
	if err != nil {
		return err
	}

	persist, ok := st.(store.PersistenceProvider)
	if !ok {
		return fmt.Errorf("store %T does not expose delivery persistence", st)
	}

	outboxSender := store.NewOutboxSender(persist.OutboxRepo(), buildSendFunc(msgService), 0)
	jobRunner := store.NewJobRunner(persist.JobRepo(), 0)
	jobRunner.RegisterHandler(engine.JobKindGhostCheck, eng.GhostCheckHandler())

	manager := recovery.NewManager()
	manager.Register("outbox", recovery.ForOutboxSender(outboxSender))
	manager.Register("jobs", recovery.ForJobRunner(jobRunner))
	if err := manager.RecoverAll(ctx); err != nil {
		slog.Warn("Run: startup recovery reported errors", "error", err)
	}

	go outboxSender.Run(ctx)
	go jobRunner.Run(ctx)

	if msgService != nil {
		if err := msgService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		defer msgService.Stop()

		messaging.NewResponseHandler(msgService, eng).Start(ctx)
		go pumpReceipts(ctx, msgService, st)
	}

	sched := scheduler.NewScheduler(st, eng, schedulerOpts...)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := NewServer(eng, st, apiOpts...)
	if twilioSvc, ok := msgService.(*messaging.TwilioService); ok {
		srv.MountWebhook("/twilio/sms", twilioSvc.TwilioWebhookHandler)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	slog.Info("Run: LeadPipe running", "addr", srv.Addr(), "channel", channel)

	<-ctx.Done()
	slog.Info("Run: shutdown signal received")
	if err := srv.Stop(); err != nil {
		slog.Error("Run: API server shutdown error", "error", err)
	}
	return nil
}

// openStore selects a backend from the configured DSN. Postgres URLs and
// key=value strings get the Postgres store, any other non-empty DSN is a
// SQLite path, and no DSN at all runs fully in memory.
func openStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("Run: no database DSN configured, using in-memory store (state is lost on restart)")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		s, err := store.NewPostgresStore(storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open Postgres store: %w", err)
		}
		return s, nil
	}
	s, err := store.NewSQLiteStore(storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite store: %w", err)
	}
	return s, nil
}

// buildSlotProvider wires the CRM calendar when credentials are configured
// and falls back to the static slot phrase otherwise.
func buildSlotProvider() calendar.SlotProvider {
	token := os.Getenv("LEADPIPE_CALENDAR_TOKEN")
	calendarID := os.Getenv("LEADPIPE_CALENDAR_ID")
	if token == "" || calendarID == "" {
		slog.Info("Run: no CRM calendar configured, using static slot offers")
		return calendar.NewStaticProvider("")
	}
	opts := []calendar.Option{calendar.WithToken(token), calendar.WithCalendarID(calendarID)}
	if u := os.Getenv("LEADPIPE_CALENDAR_URL"); u != "" {
		opts = append(opts, calendar.WithBaseURL(u))
	}
	if tz := os.Getenv("LEADPIPE_TZ"); tz != "" {
		opts = append(opts, calendar.WithTimezone(tz))
	}
	if loc := os.Getenv("LEADPIPE_CALENDAR_LOCATION"); loc != "" {
		opts = append(opts, calendar.WithLocationID(loc))
	}
	if uid := os.Getenv("LEADPIPE_CALENDAR_USER"); uid != "" {
		opts = append(opts, calendar.WithUserID(uid))
	}
	provider, err := calendar.NewCRMProvider(opts...)
	if err != nil {
		slog.Warn("Run: CRM calendar unavailable, using static slot offers", "error", err)
		return calendar.NewStaticProvider("")
	}
	return provider
}

// buildMessagingService constructs the delivery transport for the configured
// channel. The none channel returns a nil service: the outbox still drains,
// sends are logged and dropped.
func buildMessagingService(channel string, waOpts []whatsapp.Option) (messaging.Service, error) {
	switch channel {
	case "twilio":
		client, err := twiliosms.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case "whatsapp":
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	case "none":
		slog.Warn("Run: no delivery channel configured, outbound messages are logged and dropped")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown delivery channel %q (expected twilio, whatsapp, or none)", channel)
	}
}

// buildSendFunc translates claimed outbox messages into transport sends.
func buildSendFunc(msgService messaging.Service) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		payload, err := engine.DecodeTextPayload(msg.PayloadJSON)
		if err != nil {
			return fmt.Errorf("outbox payload %s: %w", msg.ID, err)
		}
		if msgService == nil {
			slog.Info("Run: dry-run send", "contactID", payload.ContactID, "body_length", len(payload.Body))
			return nil
		}
		return msgService.SendMessage(ctx, payload.ContactID, payload.Body)
	}
}

// pumpReceipts copies transport delivery receipts into the store.
func pumpReceipts(ctx context.Context, msgService messaging.Service, st store.Store) {
	for {
		select {
		case receipt, ok := <-msgService.Receipts():
			if !ok {
				return
			}
			if err := st.AddReceipt(receipt); err != nil {
				slog.Error("Run: failed to record receipt", "error", err, "to", receipt.To)
			}
		case <-ctx.Done():
			return
		}
	}
}
