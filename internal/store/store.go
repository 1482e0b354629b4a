// Package store provides durable, transactional persistence for issues,
// links, labels, comments, and events on an embedded SQLite database.
package store

import (
	"context"
	"time"

	"github.com/joescharf/bd/internal/graph"
	"github.com/joescharf/bd/internal/models"
)

// LinkDirection selects which side of the link table to read.
type LinkDirection string

const (
	DirOutgoing LinkDirection = "out"
	DirIncoming LinkDirection = "in"
	DirBoth     LinkDirection = "both"
)

// StatusCounts aggregates issue counts per status.
type StatusCounts struct {
	Total      int
	Open       int
	InProgress int
	Blocked    int
	Closed     int
}

// Reader is the read side of the store. Reads never observe partial writes:
// each call runs against a consistent view.
type Reader interface {
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	IssueExists(ctx context.Context, id string) (bool, error)
	ListIssues(ctx context.Context, filter models.IssueFilter) ([]*models.Issue, error)

	GetLinks(ctx context.Context, issueID string, dir LinkDirection) ([]models.Link, error)

	ListEvents(ctx context.Context, issueID string) ([]models.Event, error)
	ListComments(ctx context.Context, issueID string) ([]models.Comment, error)

	// Snapshot materializes a consistent read view of all issues and links
	// for the graph engine. It holds no writer lock.
	Snapshot(ctx context.Context) (*graph.Snapshot, error)

	CountByStatus(ctx context.Context) (StatusCounts, error)
	// AvgLeadTimeHours is the mean open-to-close duration of closed issues.
	AvgLeadTimeHours(ctx context.Context) (float64, error)
}

// Tx is the mutation surface. All mutators run inside a transaction opened
// by RunInTransaction; nothing is visible to readers until commit.
type Tx interface {
	Reader

	PutIssue(ctx context.Context, issue *models.Issue) error
	PutLink(ctx context.Context, link models.Link) error
	DeleteLink(ctx context.Context, from, to string, typ models.LinkType) error

	AppendComment(ctx context.Context, c *models.Comment) error
	AppendEvent(ctx context.Context, e *models.Event) error
	// LastEventTime returns the newest event timestamp for the issue, or the
	// zero time when the issue has no events.
	LastEventTime(ctx context.Context, issueID string) (time.Time, error)
}

// Store is the persistence contract backing the engine.
type Store interface {
	Reader

	// RunInTransaction executes fn inside a serialized write transaction.
	// fn returning an error rolls everything back.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}
