package domain

import "time"

// TaskKind drives an identifier's prefix and its place in the hierarchy.
type TaskKind string

const (
	KindMilestone TaskKind = "Milestone"
	KindTask      TaskKind = "Task"
	KindSubtask   TaskKind = "Subtask"
)

// TaskStatus is the task's position in the status machine (spec §4.3).
type TaskStatus string

const (
	StatusPending       TaskStatus = "Pending"
	StatusInProgress    TaskStatus = "InProgress"
	StatusInReview      TaskStatus = "InReview"
	StatusAwaitingHuman TaskStatus = "AwaitingHuman"
	StatusCompleted     TaskStatus = "Completed"
	StatusCancelled     TaskStatus = "Cancelled"
)

// Priority is ordered Urgent < High < Normal < Low; lower value sorts first.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "Urgent"
	case PriorityHigh:
		return "High"
	case PriorityNormal:
		return "Normal"
	case PriorityLow:
		return "Low"
	default:
		return "Normal"
	}
}

// Task is the polymorphic unit of work: a Milestone, Task, or Subtask
// sharing one identifier space and one status machine (spec §3, §9).
type Task struct {
	ID          string
	RepoID      string
	ParentID    *string
	Kind        TaskKind
	Description string
	Context     string
	Priority    Priority
	Status      TaskStatus
	BlockedBy   map[string]struct{}

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Depth returns the hierarchy depth implied by Kind: root 0, mid 1, leaf 2.
func (t *Task) Depth() int {
	switch t.Kind {
	case KindMilestone:
		return 0
	case KindTask:
		return 1
	case KindSubtask:
		return 2
	default:
		return -1
	}
}

// ValidateHierarchy enforces spec §3's hierarchy rule: Milestone has no
// parent; Task's parent must be a Milestone or absent; Subtask's parent
// must be a Task.
func ValidateHierarchy(kind TaskKind, parent *Task) error {
	switch kind {
	case KindMilestone:
		if parent != nil {
			return InvalidHierarchy("milestone cannot have a parent")
		}
	case KindTask:
		if parent != nil && parent.Kind != KindMilestone {
			return InvalidHierarchy("task parent must be a milestone or absent")
		}
	case KindSubtask:
		if parent == nil || parent.Kind != KindTask {
			return InvalidHierarchy("subtask parent must be a task")
		}
	default:
		return InvalidHierarchy("unknown task kind %q", kind)
	}
	return nil
}

// validStatusTransitions lists transitions reachable purely by status
// value (the operations table of §4.3 drives the rest via explicit calls).
var validStatusTransitions = map[TaskStatus][]TaskStatus{
	StatusPending:       {StatusInProgress, StatusAwaitingHuman, StatusCancelled},
	StatusInProgress:    {StatusInReview, StatusAwaitingHuman, StatusCancelled, StatusCompleted},
	StatusInReview:      {StatusInProgress, StatusAwaitingHuman, StatusCompleted, StatusCancelled},
	StatusAwaitingHuman: {StatusPending, StatusInProgress, StatusInReview},
	StatusCompleted:     {},
	StatusCancelled:     {},
}

// CanTransition reports whether the status machine permits from -> to.
// Completed/Cancelled are terminal except via the human set_status
// override, which callers apply without consulting this table.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range validStatusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// VcsType selects the version-control backend behind a TaskVcs record.
type VcsType string

const (
	VcsGit VcsType = "Git"
	VcsJj  VcsType = "Jj"
)

// TaskVcs is the per-task VCS artifact, 1:1 with started tasks (spec §3).
type TaskVcs struct {
	TaskID      string
	RepoID      string
	VcsType     VcsType
	RefName     string
	ChangeID    string
	BaseCommit  string
	HeadCommit  *string
	StartCommit string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ArchivedAt  *time.Time
}
