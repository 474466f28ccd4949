package domain

import "time"

// Session represents a persisted session bound to a device fingerprint and network identity.
type Session struct {
	ID                      string
	UserID                  string
	DeviceFingerprint       string
	IPAddress               *string
	UserAgent               *string
	SecurityScore           int
	LastValidation          time.Time
	ExpiresAt               time.Time
	SuspiciousActivityCount int
	CreatedAt               time.Time
}

// IsExpired reports whether the session is past its expiry at the supplied moment.
func (s Session) IsExpired(at time.Time) bool {
	return s.ExpiresAt.Before(at)
}

// IsActive reports whether the session is still usable at the supplied moment.
func (s Session) IsActive(at time.Time) bool {
	return !s.IsExpired(at)
}

// Session flags raised during validation.
const (
	FlagDeviceFingerprintMismatch = "device_fingerprint_mismatch"
	FlagIPAddressChange           = "ip_address_change"
	FlagUserAgentChange           = "user_agent_change"
)

// SessionValidation is the outcome of scoring a session request against stored metadata.
type SessionValidation struct {
	Valid         bool
	SecurityScore int
	Flags         []string
	Reason        string
}

// SessionRotation describes a newly issued session identity.
type SessionRotation struct {
	Success      bool
	NewSessionID string
	ExpiresAt    time.Time
}

// ConcurrencyCheck summarises enforcement of the active session cap for a user.
type ConcurrencyCheck struct {
	ActiveSessions int
	MaxAllowed     int
	LimitEnforced  bool
	Evicted        []string
}
