// Package headless runs background drain tasks without an interactive runtime.
//
// A Service owns a single execution slot. Wake starts the registered task if
// the slot is free; otherwise it asks the running task's owner to check again
// once it finishes. Duplicate wakes are redundant, not additive.
package headless

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// DefaultTaskKey is the key the background drain task is registered under.
const DefaultTaskKey = "BackgroundEventTask"

// ErrTaskNotRegistered is returned when no provider exists for a key.
var ErrTaskNotRegistered = errors.New("headless: task not registered")

// Task is one bounded background run. It must return when ctx is done.
type Task func(ctx context.Context) error

// TaskProvider builds the task for a run. It is called once per run.
type TaskProvider func() Task

// Registry maps task keys to providers.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]TaskProvider)}
}

// RegisterTask installs provider under key, replacing any previous one.
func (r *Registry) RegisterTask(key string, provider TaskProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[key] = provider
}

// Unregister removes the provider for key.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, key)
}

// Lookup returns the provider for key.
func (r *Registry) Lookup(key string) (TaskProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tasks[key]
	if !ok {
		return nil, ErrTaskNotRegistered
	}
	return p, nil
}

// Keys returns the registered keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.tasks))
	for k := range r.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
