package domain

import "time"

// ReviewStatus is the review's position in the three-phase pipeline
// (spec §4.4).
type ReviewStatus string

const (
	ReviewGatesPending    ReviewStatus = "GatesPending"
	ReviewGatesEscalated  ReviewStatus = "GatesEscalated"
	ReviewAgentPending    ReviewStatus = "AgentPending"
	ReviewHumanPending    ReviewStatus = "HumanPending"
	ReviewApproved        ReviewStatus = "Approved"
	ReviewChangesRequested ReviewStatus = "ChangesRequested"
	// ReviewSuperseded marks a GatesPending review frozen by a fresh
	// submit before its gates ever passed (spec §4.5/§9: each submit
	// gets its own Review and its own retry budget).
	ReviewSuperseded ReviewStatus = "Superseded"
)

func (s ReviewStatus) Terminal() bool {
	return s == ReviewApproved || s == ReviewChangesRequested || s == ReviewSuperseded
}

// Review is the single active review attached to a task while it is
// InReview (spec §3).
type Review struct {
	ID                string
	TaskID            string
	Status            ReviewStatus
	SubmittedAt       time.Time
	GatesCompletedAt  *time.Time
	AgentCompletedAt  *time.Time
	HumanCompletedAt  *time.Time
}

// CommentAuthor distinguishes agent from human review comments.
type CommentAuthor string

const (
	AuthorAgent CommentAuthor = "Agent"
	AuthorHuman CommentAuthor = "Human"
)

// CommentSide selects which side of a diff a comment anchors to.
type CommentSide string

const (
	SideLeft  CommentSide = "Left"
	SideRight CommentSide = "Right"
)

// ReviewComment is an append-only annotation on a review; only
// ResolvedAt may mutate after creation (spec §3, §4.4).
type ReviewComment struct {
	ID         string
	ReviewID   string
	TaskID     string
	Author     CommentAuthor
	FilePath   string
	LineStart  *int
	LineEnd    *int
	Side       CommentSide
	Body       string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// ValidateCommentLines enforces spec §3: if both bounds are present,
// LineStart must not exceed LineEnd.
func ValidateCommentLines(start, end *int) error {
	if start != nil && end != nil && *start > *end {
		return InvalidInput("line_start (%d) must be <= line_end (%d)", *start, *end)
	}
	return nil
}

// reviewTransitions encodes the diagram in spec §4.4.
var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewGatesPending:   {ReviewAgentPending, ReviewGatesEscalated, ReviewSuperseded},
	ReviewGatesEscalated: {ReviewAgentPending},
	ReviewAgentPending:   {ReviewHumanPending, ReviewChangesRequested},
	ReviewHumanPending:   {ReviewApproved, ReviewChangesRequested},
	ReviewApproved:       {},
	ReviewChangesRequested: {},
}

// CanTransitionReview reports whether the review phase machine permits
// from -> to.
func CanTransitionReview(from, to ReviewStatus) bool {
	for _, s := range reviewTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
