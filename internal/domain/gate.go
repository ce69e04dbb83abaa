package domain

import "time"

// ScopeType selects whether a Gate applies to an entire repo or to a
// single task's lineage.
type ScopeType string

const (
	ScopeRepo ScopeType = "Repo"
	ScopeTask ScopeType = "Task"
)

// Gate is a quality check: a command run per review, at either repo or
// task scope (spec §3).
type Gate struct {
	ID               string
	ScopeType        ScopeType
	ScopeID          string
	Name             string
	Command          string
	TimeoutSecs      int
	MaxRetries       int
	PollIntervalSecs int
	MaxPendingSecs   int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// GateResultStatus is the outcome of a single gate execution attempt.
type GateResultStatus string

const (
	GateRunning   GateResultStatus = "Running"
	GatePending   GateResultStatus = "Pending"
	GatePassed    GateResultStatus = "Passed"
	GateFailed    GateResultStatus = "Failed"
	GateTimeout   GateResultStatus = "Timeout"
	GateEscalated GateResultStatus = "Escalated"
)

// GateResult is one execution attempt, keyed by (GateID, ReviewID, Attempt)
// (spec §3).
type GateResult struct {
	GateID      string
	ReviewID    string
	TaskID      string
	Status      GateResultStatus
	Stdout      string
	Stderr      string
	ExitCode    *int
	Attempt     int
	StartedAt   time.Time
	CompletedAt *time.Time
}

// MaxTailBytes is the rolling tail-truncation limit applied to captured
// stdout/stderr per stream (spec §4.5).
const MaxTailBytes = 64 * 1024

// TailTruncate keeps only the last MaxTailBytes of s, matching the
// scheduler's rolling-tail capture discipline.
func TailTruncate(s string) string {
	if len(s) <= MaxTailBytes {
		return s
	}
	return s[len(s)-MaxTailBytes:]
}

// ClassifyExitCode maps a gate process's exit code to an outcome per the
// table in spec §4.5. killed reports the process was terminated by the
// scheduler's deadline rather than exiting on its own.
func ClassifyExitCode(exitCode int, killed bool) GateResultStatus {
	if killed {
		return GateTimeout
	}
	switch exitCode {
	case 0:
		return GatePassed
	case 75:
		return GatePending
	default:
		return GateFailed
	}
}

// ValidateGateName enforces uniqueness of a gate name within its scope.
func ValidateGateName(name string, existing []string) error {
	for _, n := range existing {
		if n == name {
			return Conflict("gate name %q already registered in this scope", name)
		}
	}
	return nil
}
