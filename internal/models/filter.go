package models

import "time"

// IssueFilter is a conjunction of constraints for listing issues. Zero
// values mean "no constraint".
type IssueFilter struct {
	Statuses     []IssueStatus // status ∈ set
	Types        []IssueType   // type ∈ set
	PriorityMax  *int          // priority ≤ p
	Assignee     *string       // assignee = a
	Labels       []string      // issue carries at least one of these labels
	UpdatedSince *time.Time    // updated_at ≥ t
	Text         string        // title or description substring
	Limit        int
}
