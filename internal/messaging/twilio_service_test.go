package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliosms"
)

// Ensure TwilioService implements Service interface
func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliosms.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+1 (555) 000-1111", "hello there"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "15550001111" {
		t.Errorf("expected canonical recipient 15550001111, got %q", mock.SentMessages[0].To)
	}
	if mock.SentMessages[0].Body != "hello there" {
		t.Errorf("body mangled: %q", mock.SentMessages[0].Body)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("expected sent receipt, got %s", receipt.Status)
		}
		if receipt.To != "15550001111" {
			t.Errorf("expected receipt for canonical recipient, got %s", receipt.To)
		}
	default:
		t.Fatal("expected a sent receipt")
	}
}

func TestTwilioService_SendMessage_InvalidRecipient(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	if err := svc.SendMessage(context.Background(), "", "hello"); err == nil {
		t.Error("expected error for empty recipient")
	}
	if err := svc.SendMessage(context.Background(), "12345", "hello"); err == nil {
		t.Error("expected error for recipient shorter than 6 digits")
	}
}

func TestTwilioService_SendMessage_AfterStop(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	err := svc.SendMessage(context.Background(), "15550001111", "hello")
	if err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioService_ValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{name: "E.164 number", recipient: "+15550001111", want: "15550001111"},
		{name: "formatted number", recipient: "+1 (555) 000-1111", want: "15550001111"},
		{name: "already canonical", recipient: "15550001111", want: "15550001111"},
		{name: "empty", recipient: "", wantErr: true},
		{name: "no digits", recipient: "abc-def", wantErr: true},
		{name: "too short", recipient: "+123", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateAndCanonicalizeRecipient(tt.recipient)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.recipient)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func postTwilioWebhook(t *testing.T, svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, req)
	return rec
}

func TestTwilioWebhookHandler_EmitsResponse(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	form := url.Values{}
	form.Set("From", "+15550001111")
	form.Set("Body", "how much is it")
	form.Set("MessageSid", "SM42")

	rec := postTwilioWebhook(t, svc, form)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case resp := <-svc.Responses():
		if resp.From != "+15550001111" {
			t.Errorf("expected From preserved, got %q", resp.From)
		}
		if resp.Body != "how much is it" {
			t.Errorf("expected body preserved, got %q", resp.Body)
		}
		if resp.MessageID != "SM42" {
			t.Errorf("expected MessageSid carried as MessageID, got %q", resp.MessageID)
		}
		if resp.Time == 0 {
			t.Error("expected timestamp set")
		}
	case <-time.After(time.Second):
		t.Fatal("webhook did not emit a response")
	}
}

func TestTwilioWebhookHandler_MissingFields(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())

	form := url.Values{}
	form.Set("From", "+15550001111")

	rec := postTwilioWebhook(t, svc, form)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing body, got %d", rec.Code)
	}
}

// End to end through the transport: webhook intake feeds the response loop,
// which runs an engine turn for the sender.
func TestTwilioWebhook_DrivesEngineTurn(t *testing.T) {
	eng := &stubEngine{reply: models.Reply{Text: "happy to help", Source: models.ReplySourceTrigger}}
	svc := NewTwilioService(twiliosms.NewMockClient())
	handler := NewResponseHandler(svc, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler.Start(ctx)

	form := url.Values{}
	form.Set("From", "+1 (555) 000-1111")
	form.Set("Body", "what does it cost")
	form.Set("MessageSid", "SM99")
	postTwilioWebhook(t, svc, form)

	deadline := time.After(2 * time.Second)
	for eng.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("engine never received the webhook message")
		case <-time.After(10 * time.Millisecond):
		}
	}

	msg, _ := eng.lastCall()
	if msg.ContactID != "15550001111" {
		t.Errorf("expected canonical contact ID, got %q", msg.ContactID)
	}
	if msg.MessageID != "SM99" {
		t.Errorf("expected MessageSid forwarded for dedup, got %q", msg.MessageID)
	}
}
