package calendar

import (
	"context"
	"log/slog"
	"time"
)

// DefaultStaticSlots is the canned offer used when no CRM is configured.
// Shaped like CRM slot text so callers can compose it the same way.
const DefaultStaticSlots = "I've got 6:30 tonight or 10:15 tomorrow morning"

// StaticProvider serves a fixed slot phrase and records bookings without an
// upstream calendar. It backs demo deployments and acts as the fallback when
// the CRM is unreachable.
type StaticProvider struct {
	Slots string
	// now is a test hook.
	now func() time.Time
}

var _ SlotProvider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider serving the given slot phrase, or
// DefaultStaticSlots when empty.
func NewStaticProvider(slots string) *StaticProvider {
	if slots == "" {
		slots = DefaultStaticSlots
	}
	return &StaticProvider{Slots: slots, now: time.Now}
}

// SlotText returns the fixed slot phrase.
func (p *StaticProvider) SlotText(ctx context.Context) (string, error) {
	return p.Slots, nil
}

// Book accepts any parseable selection. Nothing is written anywhere; the
// conversation state carries the appointment.
func (p *StaticProvider) Book(ctx context.Context, req BookingRequest) error {
	start, err := ParseSelectedTime(req.SelectedTime, p.now(), time.Local)
	if err != nil {
		return err
	}
	slog.Info("StaticProvider.Book: simulated booking", "contactID", req.ContactID, "start", start.Format(time.RFC3339))
	return nil
}
