package messaging

import (
	"context"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/twiliosms"
)

func TestHookRegistry_DefaultFactories(t *testing.T) {
	registry := NewHookRegistry()

	if !registry.IsRegistered(HookTypePause) {
		t.Error("pause factory should be registered by default")
	}
	if !registry.IsRegistered(HookTypeTakeover) {
		t.Error("takeover factory should be registered by default")
	}

	types := registry.ListRegisteredTypes()
	if len(types) != 2 {
		t.Errorf("expected 2 default factories, got %d", len(types))
	}
}

func TestHookRegistry_CreatePauseHook(t *testing.T) {
	registry := NewHookRegistry()
	svc := NewTwilioService(twiliosms.NewMockClient())

	hook, err := registry.CreateHook(HookTypePause, nil, svc)
	if err != nil {
		t.Fatalf("CreateHook failed: %v", err)
	}

	handled, err := hook(context.Background(), "15550001111", "hello", 0)
	if err != nil {
		t.Fatalf("pause hook errored: %v", err)
	}
	if !handled {
		t.Error("pause hook should claim the message")
	}
}

func TestHookRegistry_TakeoverNeedsCustomFactory(t *testing.T) {
	registry := NewHookRegistry()
	svc := NewTwilioService(twiliosms.NewMockClient())

	if _, err := registry.CreateHook(HookTypeTakeover, nil, svc); err == nil {
		t.Error("default takeover factory should refuse without a callback")
	}

	// Wiring code replaces the factory with one that closes over its callback.
	registry.RegisterFactory(HookTypeTakeover, func(params map[string]string, msgService Service) (ResponseAction, error) {
		return CreateTakeoverHook(func(ctx context.Context, from, body string, timestamp int64) error {
			return nil
		}), nil
	})

	hook, err := registry.CreateHook(HookTypeTakeover, nil, svc)
	if err != nil {
		t.Fatalf("custom takeover factory failed: %v", err)
	}
	if hook == nil {
		t.Fatal("expected hook from custom factory")
	}
}

func TestHookRegistry_UnknownType(t *testing.T) {
	registry := NewHookRegistry()
	svc := NewTwilioService(twiliosms.NewMockClient())

	if _, err := registry.CreateHook(HookType("carrier_pigeon"), nil, svc); err == nil {
		t.Error("expected error for unregistered hook type")
	}
}
