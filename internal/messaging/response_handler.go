// Package messaging provides response handling for inbound lead messages.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ResponseAction defines a hook function that processes a lead's response.
// It receives the lead's canonical phone number, response text, and timestamp.
// It should return true if the response was handled, false otherwise.
type ResponseAction func(ctx context.Context, from, responseText string, timestamp int64) (handled bool, err error)

// ConversationEngine is the slice of the engine the response handler drives.
// Defined here to avoid importing the engine package.
type ConversationEngine interface {
	ProcessMessage(ctx context.Context, msg models.LeadMessage) (models.Reply, error)
}

// ResponseHandler routes inbound messages from a transport into the
// conversation engine. Per-contact override hooks (pause, human takeover)
// are checked first; everything else becomes an engine turn. The engine
// owns opt-out handling and reply delivery, so a handled turn needs no
// follow-up send here.
type ResponseHandler struct {
	// hooks maps canonicalized phone numbers to response action functions
	hooks map[string]ResponseAction
	// mu protects concurrent access to the hooks map
	mu sync.RWMutex
	// msgService provides recipient canonicalization and the inbound channel
	msgService Service
	// engine runs the conversation turn for unhooked contacts
	engine ConversationEngine
}

// NewResponseHandler creates a new ResponseHandler with the given messaging
// service and conversation engine.
func NewResponseHandler(msgService Service, engine ConversationEngine) *ResponseHandler {
	return &ResponseHandler{
		hooks:      make(map[string]ResponseAction),
		msgService: msgService,
		engine:     engine,
	}
}

// RegisterHook registers a response action for a specific contact.
// The recipient should be a canonicalizable phone number.
func (rh *ResponseHandler) RegisterHook(recipient string, action ResponseAction) error {
	// Validate and canonicalize recipient
	canonicalRecipient, err := rh.msgService.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		slog.Error("ResponseHandler RegisterHook validation failed", "error", err, "recipient", recipient)
		return fmt.Errorf("invalid recipient: %w", err)
	}

	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.hooks[canonicalRecipient] = action

	slog.Debug("ResponseHandler hook registered", "recipient", canonicalRecipient)
	return nil
}

// UnregisterHook removes a response action for a specific contact.
func (rh *ResponseHandler) UnregisterHook(recipient string) error {
	// Validate and canonicalize recipient
	canonicalRecipient, err := rh.msgService.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		slog.Error("ResponseHandler UnregisterHook validation failed", "error", err, "recipient", recipient)
		return fmt.Errorf("invalid recipient: %w", err)
	}

	rh.mu.Lock()
	defer rh.mu.Unlock()
	delete(rh.hooks, canonicalRecipient)

	slog.Debug("ResponseHandler hook unregistered", "recipient", canonicalRecipient)
	return nil
}

// IsHookRegistered checks if a hook is registered for the given recipient.
func (rh *ResponseHandler) IsHookRegistered(recipient string) bool {
	// Validate and canonicalize recipient
	canonicalRecipient, err := rh.msgService.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		slog.Debug("ResponseHandler IsHookRegistered validation failed", "error", err, "recipient", recipient)
		return false
	}

	rh.mu.RLock()
	defer rh.mu.RUnlock()
	_, exists := rh.hooks[canonicalRecipient]
	return exists
}

// ProcessResponse processes an incoming response. A registered hook gets the
// first look; when none claims the message, the engine runs a turn. Duplicate
// and frozen-conversation turns are dropped quietly.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	// Validate and canonicalize the sender
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	slog.Debug("ResponseHandler processing response", "from", canonicalFrom, "body_length", len(response.Body))

	// Check for registered hook
	rh.mu.RLock()
	action, hasHook := rh.hooks[canonicalFrom]
	rh.mu.RUnlock()

	if hasHook {
		slog.Debug("ResponseHandler executing hook", "from", canonicalFrom)
		handled, err := action(ctx, canonicalFrom, response.Body, response.Time)
		if err != nil {
			slog.Error("ResponseHandler hook execution failed", "error", err, "from", canonicalFrom)
			return fmt.Errorf("hook execution failed: %w", err)
		}

		if handled {
			slog.Info("ResponseHandler response handled by hook", "from", canonicalFrom)
			return nil
		}
		// Hook exists but didn't claim the response, fall through to the engine
		slog.Debug("ResponseHandler hook did not handle response", "from", canonicalFrom)
	}

	var receivedAt time.Time
	if response.Time > 0 {
		receivedAt = time.Unix(response.Time, 0)
	}
	msg := models.LeadMessage{
		MessageID:  response.MessageID,
		ContactID:  canonicalFrom,
		Body:       response.Body,
		ReceivedAt: receivedAt,
	}

	reply, err := rh.engine.ProcessMessage(ctx, msg)
	switch {
	case err == nil:
		slog.Info("ResponseHandler engine turn complete",
			"from", canonicalFrom, "source", reply.Source, "stage", reply.Stage, "booked", reply.Booked)
		return nil
	case errors.Is(err, models.ErrDuplicateMessage):
		slog.Debug("ResponseHandler duplicate inbound dropped", "from", canonicalFrom)
		return nil
	case errors.Is(err, models.ErrConversationFrozen):
		slog.Info("ResponseHandler message for frozen conversation dropped", "from", canonicalFrom)
		return nil
	default:
		slog.Error("ResponseHandler engine turn failed", "error", err, "from", canonicalFrom)
		return fmt.Errorf("engine turn failed: %w", err)
	}
}

// GetHookCount returns the number of currently registered hooks.
func (rh *ResponseHandler) GetHookCount() int {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return len(rh.hooks)
}

// ListRegisteredRecipients returns a slice of all recipients with registered hooks.
func (rh *ResponseHandler) ListRegisteredRecipients() []string {
	rh.mu.RLock()
	defer rh.mu.RUnlock()

	recipients := make([]string, 0, len(rh.hooks))
	for recipient := range rh.hooks {
		recipients = append(recipients, recipient)
	}
	return recipients
}

// Start begins processing responses from the messaging service.
// This should be called once to start the response processing loop.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")

	go func() {
		defer slog.Info("ResponseHandler stopped response processing")

		for {
			select {
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}

				// Process the response
				if err := rh.ProcessResponse(ctx, response); err != nil {
					slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
				}

			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()

	slog.Info("ResponseHandler response processing started")
}

// SetAutoCleanupTimeout sets up automatic removal of a hook after a specified
// duration. Useful for pauses that should lapse on their own.
func (rh *ResponseHandler) SetAutoCleanupTimeout(recipient string, duration time.Duration) {
	go func() {
		time.Sleep(duration)
		if err := rh.UnregisterHook(recipient); err != nil {
			slog.Debug("Auto-cleanup failed for response hook", "error", err, "recipient", recipient)
		} else {
			slog.Debug("Auto-cleaned up response hook", "recipient", recipient, "after", duration)
		}
	}()
}

// CreatePauseHook creates a hook that holds the engine out of a conversation
// while a human owns the thread. Inbound messages are swallowed without a
// reply; the thread stays visible in the CRM.
func CreatePauseHook() ResponseAction {
	return func(ctx context.Context, from, responseText string, timestamp int64) (bool, error) {
		slog.Info("PauseHook holding engine out of conversation", "from", from, "body_length", len(responseText))
		return true, nil
	}
}

// CreateTakeoverHook creates a hook that routes a contact's inbound messages
// to a human-facing callback instead of the engine.
func CreateTakeoverHook(forward func(ctx context.Context, from, body string, timestamp int64) error) ResponseAction {
	return func(ctx context.Context, from, responseText string, timestamp int64) (bool, error) {
		slog.Debug("TakeoverHook forwarding response", "from", from, "body_length", len(responseText))
		if forward == nil {
			slog.Warn("TakeoverHook has no forward callback, swallowing message", "from", from)
			return true, nil
		}
		if err := forward(ctx, from, responseText, timestamp); err != nil {
			return false, fmt.Errorf("takeover forward failed: %w", err)
		}
		return true, nil
	}
}
