package models

import "time"

// EventKind categorizes audit trail events.
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventFieldChange  EventKind = "field_change"
	EventStatusChange EventKind = "status_change"
	EventLinkAdded    EventKind = "link_added"
	EventLinkRemoved  EventKind = "link_removed"
	EventCommentAdded EventKind = "comment_added"
)

// Event is an append-only audit record. For field_change events Before and
// After hold "field=value" pairs; for status_change they hold the bare
// statuses. Events are immutable after write.
type Event struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	Kind      EventKind `json:"kind"`
	Before    *string   `json:"before,omitempty"`
	After     *string   `json:"after,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
}

// Comment is an append-only entry on an issue.
type Comment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}
