// Package calendar provides appointment slot lookup and booking for the
// closing stage.
//
// Slots come from a CRM free-slots API, are cached briefly, bucketed into
// morning and afternoon picks, and rendered as a short phrase the engine can
// drop into an offer ("I've got 9:15 AM tomorrow or 11:00 AM tomorrow
// morning, or 1:30 PM tomorrow afternoon"). A static provider stands in when
// no CRM is configured.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Errors returned by slot providers.
var (
	// ErrNoSlots means the provider had no usable slots inside business hours.
	ErrNoSlots = errors.New("no usable slots")
	// ErrTooFarAhead means the requested time is beyond the booking horizon.
	ErrTooFarAhead = errors.New("requested time too far ahead")
)

// Business hour bounds for offered slots, local time. The close runs into
// the evening because leads overwhelmingly pick after-work times.
const (
	businessOpenHour  = 8
	businessCloseHour = 20
)

// BookingRequest carries what the engine knows when a lead picks a time.
// SelectedTime is the lead's raw wording, e.g. "10:15 tomorrow works".
type BookingRequest struct {
	ContactID    string
	FirstName    string
	SelectedTime string
}

// SlotProvider yields formatted appointment options and books the one the
// lead picks.
type SlotProvider interface {
	SlotText(ctx context.Context) (string, error)
	Book(ctx context.Context, req BookingRequest) error
}

// selectedTimeRe pulls an hour, optional minutes, and optional meridiem out
// of free-form lead text.
var selectedTimeRe = regexp.MustCompile(`(\d{1,2}):?(\d{2})?\s*(pm|p\.m\.|am|a\.m\.)?`)

// ParseSelectedTime turns a lead's wording into a concrete local start time.
// "tomorrow" anywhere in the text moves the date forward one day; a missing
// or unparseable clock time defaults to 2 PM. A bare hour below opening
// reads as evening ("6:30" means 6:30 PM, nobody books a 6:30 AM sales
// call). Hours are clamped into business hours. Times more than two days
// out are rejected.
func ParseSelectedTime(text string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	lowered := strings.ToLower(strings.TrimSpace(text))
	nowLocal := now.In(loc)

	target := nowLocal
	if strings.Contains(lowered, "tomorrow") {
		target = nowLocal.AddDate(0, 0, 1)
	}

	hour, minute := 14, 0
	if m := selectedTimeRe.FindStringSubmatch(lowered); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm := 0
		if m[2] != "" {
			mm, _ = strconv.Atoi(m[2])
		}
		period := m[3]
		if strings.Contains(period, "pm") || strings.Contains(period, "p.m") {
			if h != 12 {
				h += 12
			}
		} else if (strings.Contains(period, "am") || strings.Contains(period, "a.m")) && h == 12 {
			h = 0
		} else if period == "" && h < businessOpenHour {
			h += 12
		}
		hour, minute = h, mm
	}
	if minute < 0 || minute > 59 {
		minute = 0
	}
	if hour < businessOpenHour {
		hour = businessOpenHour
	}
	if hour > businessCloseHour-1 {
		hour = businessCloseHour - 1
	}

	start := time.Date(target.Year(), target.Month(), target.Day(), hour, minute, 0, 0, loc)
	horizon := nowLocal.AddDate(0, 0, 2)
	if start.After(time.Date(horizon.Year(), horizon.Month(), horizon.Day(), 23, 59, 59, 0, loc)) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrTooFarAhead, start.Format(time.RFC3339))
	}
	return start, nil
}

// pickSpread selects up to max slots from a sorted list, keeping at least an
// hour between picks so the offer reads as two distinct options.
func pickSpread(slots []time.Time, max int) []time.Time {
	if len(slots) == 0 {
		return nil
	}
	picked := []time.Time{slots[0]}
	for _, s := range slots[1:] {
		if len(picked) >= max {
			break
		}
		if s.Sub(picked[len(picked)-1]) >= time.Hour {
			picked = append(picked, s)
		}
	}
	return picked
}

// formatSlot renders one slot as "9:15 AM tomorrow" or "1:30 PM Friday".
func formatSlot(t, now time.Time) string {
	day := t.Weekday().String()
	tomorrow := now.AddDate(0, 0, 1)
	if t.Year() == tomorrow.Year() && t.YearDay() == tomorrow.YearDay() {
		day = "tomorrow"
	}
	return t.Format("3:04 PM") + " " + day
}

// FormatSlotText buckets slots into morning and afternoon picks and renders
// the combined offer phrase. Slots outside business hours are ignored.
// Returns ErrNoSlots when nothing usable remains.
func FormatSlotText(slots []time.Time, now time.Time) (string, error) {
	var usable []time.Time
	for _, s := range slots {
		if h := s.Hour(); h >= businessOpenHour && h < businessCloseHour {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return "", ErrNoSlots
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i].Before(usable[j]) })

	var morning, afternoon []time.Time
	for _, s := range usable {
		switch h := s.Hour(); {
		case h >= businessOpenHour && h < 12:
			morning = append(morning, s)
		case h >= 13 && h < businessCloseHour:
			afternoon = append(afternoon, s)
		}
	}

	var options []string
	if picks := pickSpread(morning, 2); len(picks) > 0 {
		parts := make([]string, len(picks))
		for i, p := range picks {
			parts[i] = formatSlot(p, now)
		}
		options = append(options, strings.Join(parts, " or ")+" morning")
	}
	if picks := pickSpread(afternoon, 2); len(picks) > 0 {
		parts := make([]string, len(picks))
		for i, p := range picks {
			parts[i] = formatSlot(p, now)
		}
		options = append(options, strings.Join(parts, " or ")+" afternoon")
	}
	if len(options) == 0 {
		return "", ErrNoSlots
	}
	return "I've got " + strings.Join(options, ", or "), nil
}
