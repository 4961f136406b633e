package recovery

import (
	"context"
	"errors"
	"testing"
)

func TestRecoverAllRunsComponentsInOrder(t *testing.T) {
	var order []string
	m := NewManager()
	m.Register("first", RecoverableFunc(func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	}))
	m.Register("second", RecoverableFunc(func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	}))

	if err := m.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Expected components recovered in registration order, got %v", order)
	}
}

func TestRecoverAllContinuesPastFailures(t *testing.T) {
	var ran []string
	m := NewManager()
	m.Register("broken", RecoverableFunc(func(ctx context.Context) error {
		ran = append(ran, "broken")
		return errors.New("stale scan failed")
	}))
	m.Register("healthy", RecoverableFunc(func(ctx context.Context) error {
		ran = append(ran, "healthy")
		return nil
	}))

	err := m.RecoverAll(context.Background())
	if err == nil {
		t.Fatal("Expected RecoverAll to report the failed component")
	}
	if len(ran) != 2 {
		t.Errorf("Expected recovery to continue past the failure, ran %v", ran)
	}
}

func TestRecoverAllWithNoComponents(t *testing.T) {
	if err := NewManager().RecoverAll(context.Background()); err != nil {
		t.Errorf("Expected empty manager to recover cleanly, got %v", err)
	}
}
