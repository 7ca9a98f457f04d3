package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"

	"github.com/google/uuid"
)

// Task is one unit of work driven by the registry.
type Task func(ctx context.Context) error

// TaskObserver receives task lifecycle notifications, e.g. for metrics.
type TaskObserver interface {
	TaskStarted(name string)
	TaskFinished(name string, duration time.Duration, err error)
}

type Options struct {
	Observer TaskObserver
}

type resource struct {
	cell     any
	typeName string
}

type taskEntry struct {
	id        string
	name      string
	startedAt time.Time
}

type completion struct {
	entry    taskEntry
	duration time.Duration
	err      error
}

// Registry owns the spawned tasks of the host and a table of named shared
// resources. Resources live as long as the registry.
type Registry struct {
	options Options
	logger  logging.Logger

	mutex     sync.Mutex
	resources map[string]resource
	running   map[string]taskEntry
	completed []completion
	notify    chan struct{}
}

func NewRegistry(options Options, logger logging.Logger) *Registry {
	return &Registry{
		options:   options,
		logger:    logger,
		resources: make(map[string]resource),
		running:   make(map[string]taskEntry),
		notify:    make(chan struct{}, 1),
	}
}

// Register stores value under name. A name can be registered once; the
// resource's type is fixed by that registration.
func Register[T any](r *Registry, name string, value T) (*Cell[T], error) {
	if name == "" {
		return nil, errors.NewValidationError("resource name cannot be empty", nil)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, exists := r.resources[name]; exists {
		return nil, errors.NewConflictError("resource already registered", nil).
			WithContext("resource", name).
			WithContext("type", existing.typeName)
	}

	cell := newCell(name, value)
	r.resources[name] = resource{cell: cell, typeName: typeName[T]()}
	r.logger.Debugf("Registered resource, name: %s, type: %s", name, typeName[T]())
	return cell, nil
}

// Lookup returns the cell registered under name. Asking for the wrong type
// is a programming error and fails with a validation error.
func Lookup[T any](r *Registry, name string) (*Cell[T], error) {
	r.mutex.Lock()
	res, exists := r.resources[name]
	r.mutex.Unlock()

	if !exists {
		return nil, errors.NewNotFoundError("resource not found", nil).WithContext("resource", name)
	}

	cell, ok := res.cell.(*Cell[T])
	if !ok {
		return nil, errors.NewValidationError("resource type mismatch", nil).
			WithContext("resource", name).
			WithContext("requested_type", typeName[T]()).
			WithContext("registered_type", res.typeName)
	}
	return cell, nil
}

// Names lists registered resource names in order.
func (r *Registry) Names() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spawn starts task in its own goroutine and returns its id. It may be
// called at any time, including from inside another task while Drive runs.
func (r *Registry) Spawn(ctx context.Context, name string, task Task) string {
	entry := taskEntry{
		id:        uuid.NewString(),
		name:      name,
		startedAt: time.Now(),
	}

	r.mutex.Lock()
	r.running[entry.id] = entry
	r.mutex.Unlock()

	r.logger.Debugf("Spawned task, name: %s, id: %s", name, entry.id)
	if r.options.Observer != nil {
		r.options.Observer.TaskStarted(name)
	}

	go r.run(ctx, entry, task)
	return entry.id
}

// Pending is the number of spawned tasks that have not completed.
func (r *Registry) Pending() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.running)
}

// Drive waits for every spawned task, including tasks spawned while it
// runs, handling completions in the order they happen. A failed task is
// logged and never cancels the others. Drive returns nil once nothing is
// pending, or ctx's error if ctx ends first.
func (r *Registry) Drive(ctx context.Context) error {
	for {
		r.mutex.Lock()
		batch := r.completed
		r.completed = nil
		pending := len(r.running)
		r.mutex.Unlock()

		for _, c := range batch {
			r.report(c)
		}

		if pending == 0 {
			r.logger.Debugf("All tasks completed")
			return nil
		}

		select {
		case <-r.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Registry) run(ctx context.Context, entry taskEntry, task Task) {
	err := r.invoke(ctx, entry, task)

	r.mutex.Lock()
	delete(r.running, entry.id)
	r.completed = append(r.completed, completion{
		entry:    entry,
		duration: time.Since(entry.startedAt),
		err:      err,
	})
	r.mutex.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Registry) invoke(ctx context.Context, entry taskEntry, task Task) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.NewTaskError("task panicked", fmt.Errorf("%v", recovered)).
				WithContext("task", entry.name).
				WithContext("task_id", entry.id)
		}
	}()

	if err := task(ctx); err != nil {
		return errors.NewTaskError("task failed", err).
			WithContext("task", entry.name).
			WithContext("task_id", entry.id)
	}
	return nil
}

func (r *Registry) report(c completion) {
	if c.err != nil {
		r.logger.Errorf("Task failed, name: %s, id: %s, duration: %v, error: %v", c.entry.name, c.entry.id, c.duration, c.err)
	} else {
		r.logger.Debugf("Task completed, name: %s, id: %s, duration: %v", c.entry.name, c.entry.id, c.duration)
	}
	if r.options.Observer != nil {
		r.options.Observer.TaskFinished(c.entry.name, c.duration, c.err)
	}
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
