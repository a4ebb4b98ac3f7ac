package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/cmsroles/pkg/events"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

// Store handles user and group persistence
type Store struct {
	db     *storage.DB
	events *events.Registry
}

// NewStore creates a new directory store. registry may be nil.
func NewStore(db *storage.DB, registry *events.Registry) *Store {
	return &Store{db: db, events: registry}
}

func (s *Store) dispatch(ctx context.Context, ev events.Event) error {
	return s.events.Dispatch(ctx, ev)
}

// placeholders returns "$start, $start+1, ..." for n arguments
func placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ps, ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
