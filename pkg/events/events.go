// Package events implements the lifecycle event-dispatch table used by the stores.
//
// Stores announce lifecycle changes (a site was created, a group is about to be deleted, a
// group's capabilities changed, ...) by calling Dispatch. Components that react to those
// changes register handlers once during bootstrap. Handlers run synchronously, in
// registration order, with the caller's context, so they join the caller's transaction.
// The first handler error aborts dispatch and is returned to the store, which returns it
// to its caller.
package events

import (
	"context"
	"fmt"
	"sync"
)

// Kind identifies the entity an event is about
type Kind string

const (
	KindUser             Kind = "user"
	KindGroup            Kind = "group"
	KindSite             Kind = "site"
	KindPage             Kind = "page"
	KindRole             Kind = "role"
	KindGlobalPermission Kind = "global_permission"
	KindPagePermission   Kind = "page_permission"
)

// Lifecycle identifies the point in an entity's lifecycle
type Lifecycle string

const (
	PreSave    Lifecycle = "pre_save"
	PostSave   Lifecycle = "post_save"
	PreDelete  Lifecycle = "pre_delete"
	PostDelete Lifecycle = "post_delete"
	// RelationChanged fires after a many-to-many relation of the entity changed
	// (group capabilities, user group membership, user capabilities).
	RelationChanged Lifecycle = "relation_changed"
)

// Event describes a lifecycle change
type Event struct {
	Kind      Kind
	Lifecycle Lifecycle
	ID        int64
	// Created is set on PostSave when the entity was inserted
	Created bool
	// Relation names the relation for RelationChanged events
	Relation string
}

func (e Event) String() string {
	if e.Relation != "" {
		return fmt.Sprintf("%s.%s(%s) id=%d", e.Kind, e.Lifecycle, e.Relation, e.ID)
	}
	return fmt.Sprintf("%s.%s id=%d", e.Kind, e.Lifecycle, e.ID)
}

// Handler reacts to an event
type Handler func(ctx context.Context, ev Event) error

type key struct {
	kind      Kind
	lifecycle Lifecycle
}

// Registry maps (Kind, Lifecycle) pairs to ordered handler lists
type Registry struct {
	mu       sync.RWMutex
	handlers map[key][]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[key][]Handler)}
}

// On registers h for the given kind and lifecycle point
func (r *Registry) On(kind Kind, lifecycle Lifecycle, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{kind, lifecycle}
	r.handlers[k] = append(r.handlers[k], h)
}

// Handlers returns the number of handlers registered for kind and lifecycle
func (r *Registry) Handlers(kind Kind, lifecycle Lifecycle) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[key{kind, lifecycle}])
}

// Dispatch invokes the handlers registered for ev in order. A nil registry
// dispatches nothing.
func (r *Registry) Dispatch(ctx context.Context, ev Event) error {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	hs := append([]Handler(nil), r.handlers[key{ev.Kind, ev.Lifecycle}]...)
	r.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			return fmt.Errorf("%s handler: %w", ev, err)
		}
	}
	return nil
}
