package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role definition events
	EventTypeRoleCreate     EventType = "role.create"
	EventTypeRoleUpdate     EventType = "role.update"
	EventTypeRoleDelete     EventType = "role.delete"
	EventTypeRoleModeSwitch EventType = "role.mode_switch"

	// Assignment events
	EventTypeRoleGrant   EventType = "role.grant"
	EventTypeRoleUngrant EventType = "role.ungrant"

	// Maintenance events
	EventTypeRoleAbsorb EventType = "role.absorb"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
)

// Event represents a single audit log entry
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	RoleID   int64  `json:"role_id,omitempty"`
	RoleName string `json:"role_name,omitempty"`
	UserID   *int64 `json:"user_id,omitempty"`
	SiteID   *int64 `json:"site_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// NewEvent returns an event stamped with a fresh id and the current time
func NewEvent(eventType EventType, roleID int64, roleName string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    EventStatusSuccess,
		RoleID:    roleID,
		RoleName:  roleName,
	}
}

// ForUser scopes the event to a user on a site
func (e *Event) ForUser(userID, siteID int64) *Event {
	e.UserID = &userID
	e.SiteID = &siteID
	return e
}

// WithMetadata attaches one metadata entry
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Failed marks the event as failed with err
func (e *Event) Failed(err error) *Event {
	if err != nil {
		e.Status = EventStatusFailure
		e.ErrorMessage = err.Error()
	}
	return e
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
