package audit

import (
	"context"
	"sync"

	"github.com/platinummonkey/cmsroles/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error
}

// NoopLogger drops every event
type NoopLogger struct{}

func (NoopLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

// StructuredLogger writes audit events as structured log lines
type StructuredLogger struct {
	log *observability.Logger
}

// NewStructuredLogger creates an audit logger on top of the structured logger
func NewStructuredLogger(log *observability.Logger) *StructuredLogger {
	return &StructuredLogger{log: log.WithField("component", "audit")}
}

func (l *StructuredLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit_id":   event.ID,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"role_id":    event.RoleID,
		"role_name":  event.RoleName,
	}
	if event.UserID != nil {
		fields["user_id"] = *event.UserID
	}
	if event.SiteID != nil {
		fields["site_id"] = *event.SiteID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}
	if event.Changes != nil {
		fields["before"] = event.Changes.Before
		fields["after"] = event.Changes.After
	}

	entry := l.log.ForContext(ctx).WithFields(fields)
	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}
	if event.Status == EventStatusFailure {
		entry.WithField("error", event.ErrorMessage).Warn(msg)
		return nil
	}
	entry.Info(msg)
	return nil
}

// MemoryLogger keeps events in memory, mostly for tests and dry runs
type MemoryLogger struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryLogger creates an empty in-memory audit logger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of the recorded events
func (l *MemoryLogger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	return out
}

// OfType returns the recorded events of one type
func (l *MemoryLogger) OfType(eventType EventType) []*Event {
	var out []*Event
	for _, e := range l.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets every recorded event
func (l *MemoryLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
