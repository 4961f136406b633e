// Package messaging provides hook registry for per-contact override hooks
package messaging

import (
	"fmt"
	"log/slog"
	"sync"
)

// HookType identifies a kind of per-contact override hook.
type HookType string

const (
	// HookTypePause holds the engine out of a conversation without replying.
	HookTypePause HookType = "pause"
	// HookTypeTakeover routes a contact's messages to a human-facing callback.
	HookTypeTakeover HookType = "takeover"
)

// HookFactory defines a function that creates a response hook from parameters
type HookFactory func(params map[string]string, msgService Service) (ResponseAction, error)

// HookRegistry manages the mapping of hook type names to factory functions
type HookRegistry struct {
	factories map[HookType]HookFactory
	mu        sync.RWMutex
}

// NewHookRegistry creates a new hook registry with default factories
func NewHookRegistry() *HookRegistry {
	registry := &HookRegistry{
		factories: make(map[HookType]HookFactory),
	}

	// Register default hook factories
	registry.registerDefaultFactories()

	return registry
}

// registerDefaultFactories registers the default hook factory functions
func (hr *HookRegistry) registerDefaultFactories() {
	// Pause hook factory
	hr.factories[HookTypePause] = func(params map[string]string, msgService Service) (ResponseAction, error) {
		return CreatePauseHook(), nil
	}

	// Takeover hook factory. A takeover needs a live forward callback, which
	// cannot be rebuilt from string parameters; wiring code that wants
	// takeovers registers its own factory with the callback closed over.
	hr.factories[HookTypeTakeover] = func(params map[string]string, msgService Service) (ResponseAction, error) {
		return nil, fmt.Errorf("takeover hooks need a forward callback - register a custom factory at wiring time")
	}

	slog.Debug("HookRegistry registered default factories", "count", len(hr.factories))
}

// RegisterFactory registers a custom hook factory function
func (hr *HookRegistry) RegisterFactory(hookType HookType, factory HookFactory) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.factories[hookType] = factory
	slog.Debug("HookRegistry registered custom factory", "hookType", hookType)
}

// CreateHook creates a hook using the registered factory for the given type
func (hr *HookRegistry) CreateHook(hookType HookType, params map[string]string, msgService Service) (ResponseAction, error) {
	hr.mu.RLock()
	factory, exists := hr.factories[hookType]
	hr.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no factory registered for hook type: %s", hookType)
	}

	hook, err := factory(params, msgService)
	if err != nil {
		return nil, fmt.Errorf("failed to create hook of type %s: %w", hookType, err)
	}

	slog.Debug("HookRegistry created hook successfully", "hookType", hookType)
	return hook, nil
}

// ListRegisteredTypes returns all registered hook types
func (hr *HookRegistry) ListRegisteredTypes() []HookType {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	types := make([]HookType, 0, len(hr.factories))
	for hookType := range hr.factories {
		types = append(types, hookType)
	}
	return types
}

// IsRegistered checks if a hook type has a registered factory
func (hr *HookRegistry) IsRegistered(hookType HookType) bool {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	_, exists := hr.factories[hookType]
	return exists
}
