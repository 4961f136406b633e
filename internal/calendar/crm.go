package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// DefaultBaseURL is the production CRM endpoint.
const DefaultBaseURL = "https://services.leadconnectorhq.com"

// apiVersion is the CRM API version header value.
const apiVersion = "2021-04-15"

// Defaults for the CRM provider.
const (
	defaultCacheTTL     = 30 * time.Minute
	defaultFetchWindow  = 29 * 24 * time.Hour
	defaultHTTPTimeout  = 30 * time.Second
	appointmentDuration = 30 * time.Minute
)

// Opts holds configuration options for the CRM slot provider.
type Opts struct {
	BaseURL    string
	Token      string
	CalendarID string
	UserID     string
	LocationID string
	Timezone   string
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

// Option defines a configuration option for the CRM slot provider.
type Option func(*Opts)

// WithBaseURL overrides the CRM endpoint, e.g. for tests.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithToken sets the CRM access token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithCalendarID sets the calendar to fetch slots from and book against.
func WithCalendarID(id string) Option {
	return func(o *Opts) {
		o.CalendarID = id
	}
}

// WithUserID scopes slot lookup and booking to one CRM user.
func WithUserID(id string) Option {
	return func(o *Opts) {
		o.UserID = id
	}
}

// WithLocationID sets the CRM location the contact belongs to.
func WithLocationID(id string) Option {
	return func(o *Opts) {
		o.LocationID = id
	}
}

// WithTimezone sets the IANA timezone slots are offered in.
func WithTimezone(tz string) Option {
	return func(o *Opts) {
		o.Timezone = tz
	}
}

// WithCacheTTL overrides how long fetched slots are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.CacheTTL = ttl
	}
}

// WithHTTPClient overrides the HTTP client, e.g. for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// CRMProvider fetches free slots from the CRM and books appointments.
// Fetched slots are cached briefly so one conversation turn never triggers
// more than one upstream call.
type CRMProvider struct {
	httpClient *http.Client
	baseURL    string
	token      string
	calendarID string
	userID     string
	locationID string
	timezone   string
	loc        *time.Location
	cacheTTL   time.Duration

	mu        sync.RWMutex
	cached    []time.Time
	fetchedAt time.Time

	// now is a test hook.
	now func() time.Time
}

var _ SlotProvider = (*CRMProvider)(nil)

// NewCRMProvider creates a CRM-backed slot provider. Token and calendar ID
// are required.
func NewCRMProvider(opts ...Option) (*CRMProvider, error) {
	cfg := Opts{
		BaseURL:  DefaultBaseURL,
		Timezone: "America/Chicago",
		CacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("CRM access token is required")
	}
	if cfg.CalendarID == "" {
		return nil, fmt.Errorf("CRM calendar ID is required")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	slog.Debug("CRMProvider initialized", "calendarID", cfg.CalendarID, "timezone", cfg.Timezone, "cacheTTL", cfg.CacheTTL)
	return &CRMProvider{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		calendarID: cfg.CalendarID,
		userID:     cfg.UserID,
		locationID: cfg.LocationID,
		timezone:   cfg.Timezone,
		loc:        loc,
		cacheTTL:   cfg.CacheTTL,
		now:        time.Now,
	}, nil
}

// SlotText returns the formatted offer phrase for the next available slots.
func (c *CRMProvider) SlotText(ctx context.Context) (string, error) {
	slots, err := c.freeSlots(ctx)
	if err != nil {
		return "", err
	}
	text, err := FormatSlotText(slots, c.now().In(c.loc))
	if err != nil {
		return "", err
	}
	return text, nil
}

// Book creates a confirmed 30-minute appointment at the time the lead picked.
func (c *CRMProvider) Book(ctx context.Context, req BookingRequest) error {
	start, err := ParseSelectedTime(req.SelectedTime, c.now(), c.loc)
	if err != nil {
		return err
	}
	firstName := req.FirstName
	if firstName == "" {
		firstName = "Lead"
	}

	payload := map[string]any{
		"calendarId":        c.calendarID,
		"contactId":         req.ContactID,
		"startTime":         start.Format(time.RFC3339),
		"endTime":           start.Add(appointmentDuration).Format(time.RFC3339),
		"title":             "Life Insurance Review - " + firstName,
		"appointmentStatus": "confirmed",
		"selectedTimezone":  c.timezone,
	}
	if c.userID != "" {
		payload["assignedUserId"] = c.userID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal booking payload failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/calendars/events/appointments", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build booking request failed: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("booking request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("booking failed with status %d: %s", resp.StatusCode, string(detail))
	}
	slog.Info("CRMProvider.Book: appointment booked", "contactID", req.ContactID, "start", start.Format(time.RFC3339))
	return nil
}

// freeSlots fetches upcoming slots, serving from cache when fresh.
func (c *CRMProvider) freeSlots(ctx context.Context) ([]time.Time, error) {
	c.mu.RLock()
	if len(c.cached) > 0 && c.now().Sub(c.fetchedAt) < c.cacheTTL {
		slots := c.cached
		c.mu.RUnlock()
		return slots, nil
	}
	c.mu.RUnlock()

	now := c.now()
	q := url.Values{}
	q.Set("startDate", strconv.FormatInt(now.UnixMilli(), 10))
	q.Set("endDate", strconv.FormatInt(now.Add(defaultFetchWindow).UnixMilli(), 10))
	q.Set("timezone", c.timezone)
	if c.userID != "" {
		q.Set("userId", c.userID)
	}

	reqURL := fmt.Sprintf("%s/calendars/%s/free-slots?%s", c.baseURL, url.PathEscape(c.calendarID), q.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build slot request failed: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("slot fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slot fetch failed with status %d", resp.StatusCode)
	}

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode slot response failed: %w", err)
	}
	slots := c.parseSlots(collectSlotStrings(payload))
	if len(slots) == 0 {
		return nil, ErrNoSlots
	}

	c.mu.Lock()
	c.cached = slots
	c.fetchedAt = c.now()
	c.mu.Unlock()

	slog.Info("CRMProvider.freeSlots: fetched slots", "calendarID", c.calendarID, "count", len(slots))
	return slots, nil
}

func (c *CRMProvider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Version", apiVersion)
}

// parseSlots converts raw timestamp strings into local times, dropping
// anything unparseable.
func (c *CRMProvider) parseSlots(raw []string) []time.Time {
	var out []time.Time
	for _, s := range raw {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			// Some calendars return naive local timestamps.
			t, err = time.ParseInLocation("2006-01-02T15:04:05", s, c.loc)
			if err != nil {
				continue
			}
		}
		out = append(out, t.In(c.loc))
	}
	return out
}

// collectSlotStrings walks the various response shapes the CRM returns:
// a map of date keys to slot lists, a map of date keys to {"slots": [...]},
// or a bare list. Entries may be timestamp strings or objects carrying a
// startTime or start field.
func collectSlotStrings(v any) []string {
	var out []string
	switch val := v.(type) {
	case map[string]any:
		if inner, ok := val["slots"]; ok {
			out = append(out, collectSlotStrings(inner)...)
			return out
		}
		if s, ok := val["startTime"].(string); ok {
			return append(out, s)
		}
		if s, ok := val["start"].(string); ok {
			return append(out, s)
		}
		for _, entry := range val {
			out = append(out, collectSlotStrings(entry)...)
		}
	case []any:
		for _, entry := range val {
			out = append(out, collectSlotStrings(entry)...)
		}
	case string:
		out = append(out, val)
	}
	return out
}
