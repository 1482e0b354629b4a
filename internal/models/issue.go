package models

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joescharf/bd/internal/bderr"
)

// IssueStatus represents the state of an issue.
type IssueStatus string

const (
	StatusOpen       IssueStatus = "open"
	StatusInProgress IssueStatus = "in_progress"
	StatusBlocked    IssueStatus = "blocked"
	StatusClosed     IssueStatus = "closed"
)

// IsValid checks if the status value is valid.
func (s IssueStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed:
		return true
	}
	return false
}

// validTransitions maps each status to the statuses it may move to.
// closed → open is the reopen path.
var validTransitions = map[IssueStatus][]IssueStatus{
	StatusOpen:       {StatusInProgress, StatusBlocked, StatusClosed},
	StatusInProgress: {StatusOpen, StatusBlocked, StatusClosed},
	StatusBlocked:    {StatusOpen, StatusInProgress, StatusClosed},
	StatusClosed:     {StatusOpen},
}

// CanTransition reports whether from → to is an allowed status change.
func CanTransition(from, to IssueStatus) bool {
	for _, v := range validTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// IssueType categorizes the kind of work.
type IssueType string

const (
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeTask    IssueType = "task"
	TypeEpic    IssueType = "epic"
	TypeChore   IssueType = "chore"
	TypeSpike   IssueType = "spike"
	TypeDoc     IssueType = "doc"
)

// IsValid checks if the issue type value is valid.
func (t IssueType) IsValid() bool {
	switch t {
	case TypeBug, TypeFeature, TypeTask, TypeEpic, TypeChore, TypeSpike, TypeDoc:
		return true
	}
	return false
}

// Field size limits.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 64 * 1024
)

var labelRe = regexp.MustCompile(`^[a-z0-9][a-z0-9/_-]{0,63}$`)

// ValidLabel reports whether the label matches the allowed shape.
func ValidLabel(label string) bool {
	return labelRe.MatchString(label)
}

// LinkRef is the outgoing half of a link as rendered on an Issue.
type LinkRef struct {
	To   string   `json:"to"`
	Type LinkType `json:"type"`
}

// Issue represents a trackable work item. The JSON shape is the stable
// programmatic contract: fields are never removed within a major version,
// and consumers must ignore unknown fields.
type Issue struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Type        IssueType   `json:"type"`
	Priority    int         `json:"priority"`
	Status      IssueStatus `json:"status"`
	Assignee    *string     `json:"assignee"`
	Labels      []string    `json:"labels"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ClosedAt    *time.Time  `json:"closed_at"`
	CloseReason *string     `json:"close_reason"`
	Links       []LinkRef   `json:"links"`
}

// Validate checks field values before persistence.
func (i *Issue) Validate() error {
	title := strings.TrimSpace(i.Title)
	if title == "" {
		return bderr.New(bderr.CodeInvalidField, "title is required")
	}
	if strings.ContainsAny(i.Title, "\n\r") {
		return bderr.New(bderr.CodeInvalidField, "title must be a single line")
	}
	if n := utf8.RuneCountInString(i.Title); n > MaxTitleLen {
		return bderr.New(bderr.CodeInvalidField, "title must be %d characters or less (got %d)", MaxTitleLen, n)
	}
	if len(i.Description) > MaxDescriptionLen {
		return bderr.New(bderr.CodeInvalidField, "description must be %d bytes or less (got %d)", MaxDescriptionLen, len(i.Description))
	}
	if i.Priority < 0 || i.Priority > 4 {
		return bderr.New(bderr.CodeInvalidField, "priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if !i.Status.IsValid() {
		return bderr.New(bderr.CodeInvalidField, "invalid status: %s", i.Status)
	}
	if !i.Type.IsValid() {
		return bderr.New(bderr.CodeInvalidField, "invalid issue type: %s", i.Type)
	}
	for _, l := range i.Labels {
		if !ValidLabel(l) {
			return bderr.New(bderr.CodeInvalidField, "invalid label: %q", l)
		}
	}
	if i.Status == StatusClosed {
		if i.CloseReason == nil || strings.TrimSpace(*i.CloseReason) == "" {
			return bderr.New(bderr.CodeInvalidField, "closed issues require a close reason")
		}
		if i.ClosedAt == nil {
			return bderr.New(bderr.CodeInvalidField, "closed issues must have closed_at timestamp")
		}
	} else if i.ClosedAt != nil {
		return bderr.New(bderr.CodeInvalidField, "non-closed issues cannot have closed_at timestamp")
	}
	return nil
}

// Clone returns a deep copy. Callers hold snapshots; mutations go back
// through the service.
func (i *Issue) Clone() *Issue {
	c := *i
	if i.Assignee != nil {
		a := *i.Assignee
		c.Assignee = &a
	}
	if i.ClosedAt != nil {
		t := *i.ClosedAt
		c.ClosedAt = &t
	}
	if i.CloseReason != nil {
		r := *i.CloseReason
		c.CloseReason = &r
	}
	c.Labels = append([]string(nil), i.Labels...)
	c.Links = append([]LinkRef(nil), i.Links...)
	return &c
}

// HasLabel reports whether the issue carries the label (case-sensitive).
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}
