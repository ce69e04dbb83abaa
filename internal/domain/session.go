package domain

import "time"

// SessionStatus is a broker session's lifecycle state (spec §3, §6).
type SessionStatus string

const (
	SessionPending   SessionStatus = "Pending"
	SessionActive    SessionStatus = "Active"
	SessionCompleted SessionStatus = "Completed"
	SessionFailed    SessionStatus = "Failed"
	SessionCancelled SessionStatus = "Cancelled"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// Session binds one live agent connection to a task; at most one
// non-terminal session may exist per task (spec §3, §5 rule 5).
type Session struct {
	ID              string
	TaskID          string
	HarnessID       string
	Status          SessionStatus
	StartedAt       time.Time
	LastHeartbeatAt *time.Time
	CompletedAt     *time.Time
	Error           *string
}

// Harness is a connected agent runtime advertising capability tokens
// (spec §3).
type Harness struct {
	ID           string
	Capabilities []string
	Connected    bool
	LastSeenAt   time.Time
}

// HeartbeatInterval and PongDeadline implement the broker protocol's
// liveness contract (spec §6).
const (
	HeartbeatInterval = 30 * time.Second
	PongDeadline      = 10 * time.Second
	ReconnectGrace    = 60 * time.Second
)

// IdempotencyEntry is a cached response for a replayed write (spec §3,
// §4.8), keyed by (Key, ScopeHash).
type IdempotencyEntry struct {
	Key            string
	Method         string
	Path           string
	ScopeHash      string
	RequestHash    string
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// IdempotencyTTL is the entry lifetime (spec §3, §4.8).
const IdempotencyTTL = 24 * time.Hour
