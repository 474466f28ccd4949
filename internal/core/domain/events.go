package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Change data capture sources consumed by the admin security monitor.
const (
	ChangeSourceUserRoles           = "user_roles"
	ChangeSourceBootstrapTokens     = "bootstrap_tokens"
	ChangeSourcePrivilegeEscalation = "privilege_escalation_attempts"
)

// Change operations carried in envelopes.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// ChangeEvent is a row-level change notification for a watched table.
type ChangeEvent struct {
	Table      string         `json:"table"`
	Operation  string         `json:"operation"`
	CommitTime time.Time      `json:"commit_time"`
	New        map[string]any `json:"new,omitempty"`
	Old        map[string]any `json:"old,omitempty"`
}

// Row returns the post-change image, falling back to the pre-change image for deletes.
func (e ChangeEvent) Row() map[string]any {
	if len(e.New) > 0 {
		return e.New
	}
	return e.Old
}

// String reads a column as a trimmed string.
func (e ChangeEvent) String(column string) string {
	row := e.Row()
	if row == nil {
		return ""
	}
	switch v := row[column].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Bool reads a column as a boolean; unknown values yield false.
func (e ChangeEvent) Bool(column string) bool {
	row := e.Row()
	if row == nil {
		return false
	}
	switch v := row[column].(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	default:
		return false
	}
}

// AlertRaisedEvent represents the payload for sessec.security.alert messages.
type AlertRaisedEvent struct {
	EventID     string
	AlertID     string
	AlertType   AlertType
	Severity    Severity
	UserID      string
	ThreatScore int
	RaisedAt    time.Time
	Metadata    map[string]any
}

// LockdownTriggeredEvent represents the payload for sessec.security.lockdown messages.
type LockdownTriggeredEvent struct {
	EventID     string
	UserID      string
	AlertID     string
	Reason      string
	TriggeredAt time.Time
	ExpiresAt   time.Time
}
