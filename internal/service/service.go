// Package service is the façade coordinating models, the store, and the
// graph engine. Every mutating operation validates first, runs inside one
// store transaction, consults the engine for graph invariants, appends one
// event per logical change, and only then commits. No partial mutation is
// ever visible.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/bd/internal/bderr"
	"github.com/joescharf/bd/internal/graph"
	"github.com/joescharf/bd/internal/idgen"
	"github.com/joescharf/bd/internal/models"
	"github.com/joescharf/bd/internal/store"
)

// DefaultStaleAfter is the horizon used by Stale when the caller does not
// supply one.
const DefaultStaleAfter = 30 * 24 * time.Hour

// Service exposes the tracker's operations to the CLI and the MCP surface.
type Service struct {
	store  store.Store
	minter *idgen.Minter
	now    func() time.Time
	actor  string
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a deterministic clock (BD_NOW).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMinter injects an id minter, used by tests for deterministic entropy.
func WithMinter(m *idgen.Minter) Option {
	return func(s *Service) { s.minter = m }
}

// WithActor sets the default actor recorded on events when a call does not
// name one.
func WithActor(actor string) Option {
	return func(s *Service) { s.actor = actor }
}

// New creates a Service over the given store.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		minter: idgen.New(),
		now:    time.Now,
		actor:  "bd",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) resolveActor(actor string) string {
	if actor != "" {
		return actor
	}
	return s.actor
}

// nextEventTime returns a timestamp strictly after every event already
// recorded for the issue, clamping non-monotonic clocks to last + 1ms.
func (s *Service) nextEventTime(ctx context.Context, tx store.Tx, issueID string) (time.Time, error) {
	now := s.now().UTC()
	last, err := tx.LastEventTime(ctx, issueID)
	if err != nil {
		return time.Time{}, err
	}
	if !last.IsZero() && !now.After(last) {
		now = last.Add(time.Millisecond)
	}
	return now, nil
}

// --- Create ---

// CreateParams holds the caller-supplied fields for a new issue.
type CreateParams struct {
	Title       string
	Description string
	Type        models.IssueType
	Priority    *int
	Assignee    string
	Labels      []string
	Actor       string
}

// CreateIssue mints an id, validates, persists, and records the creation
// event, all in one transaction.
func (s *Service) CreateIssue(ctx context.Context, p CreateParams) (*models.Issue, error) {
	now := s.now().UTC()

	issue := &models.Issue{
		Title:       p.Title,
		Description: p.Description,
		Type:        p.Type,
		Priority:    2,
		Status:      models.StatusOpen,
		Labels:      sortedLabelSet(p.Labels),
		Links:       []models.LinkRef{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if issue.Type == "" {
		issue.Type = models.TypeTask
	}
	if p.Priority != nil {
		issue.Priority = *p.Priority
	}
	if p.Assignee != "" {
		a := p.Assignee
		issue.Assignee = &a
	}
	if err := issue.Validate(); err != nil {
		return nil, err
	}

	err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		id, err := s.minter.Mint(issue.Title, now, func(candidate string) (bool, error) {
			return tx.IssueExists(ctx, candidate)
		})
		if err != nil {
			return err
		}
		issue.ID = id

		if err := tx.PutIssue(ctx, issue); err != nil {
			return err
		}
		after := string(issue.Status)
		return tx.AppendEvent(ctx, &models.Event{
			IssueID:   issue.ID,
			Kind:      models.EventCreated,
			After:     &after,
			Timestamp: now,
			Actor:     s.resolveActor(p.Actor),
		})
	})
	if err != nil {
		return nil, err
	}
	return issue, nil
}

func sortedLabelSet(labels []string) []string {
	set := map[string]bool{}
	for _, l := range labels {
		set[l] = true
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// --- Read ---

// GetIssue returns one issue with labels and outgoing links.
func (s *Service) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	return s.store.GetIssue(ctx, id)
}

// ListIssues returns issues matching the filter conjunction.
func (s *Service) ListIssues(ctx context.Context, filter models.IssueFilter) ([]*models.Issue, error) {
	return s.store.ListIssues(ctx, filter)
}

// History returns the issue's event log, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]models.Event, error) {
	if _, err := s.store.GetIssue(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// Comments returns the issue's comments, oldest first.
func (s *Service) Comments(ctx context.Context, id string) ([]models.Comment, error) {
	if _, err := s.store.GetIssue(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, id)
}

// --- Update ---

// UpdateParams names the mutable fields. Nil pointers leave a field
// untouched. Status changes to or from closed must go through CloseIssue
// and ReopenIssue so the close reason is captured.
type UpdateParams struct {
	Title         string
	HasTitle      bool
	Description   string
	HasDesc       bool
	Type          models.IssueType
	Priority      *int
	Status        models.IssueStatus
	Assignee      string
	HasAssignee   bool
	ClearAssignee bool
	Actor         string
}

// UpdateResult reports whether the update changed anything. Re-applying an
// identical update is not an error; it reports Changed=false.
type UpdateResult struct {
	Issue   *models.Issue
	Changed bool
}

type fieldChange struct {
	kind   models.EventKind
	before string
	after  string
}

// UpdateIssue applies the requested field changes, emitting one event per
// changed field. An update that changes nothing commits nothing.
func (s *Service) UpdateIssue(ctx context.Context, id string, p UpdateParams) (*UpdateResult, error) {
	var result *UpdateResult
	err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		issue, err := tx.GetIssue(ctx, id)
		if err != nil {
			return err
		}

		var changes []fieldChange

		if p.HasTitle && p.Title != issue.Title {
			changes = append(changes, fieldChange{models.EventFieldChange, "title=" + issue.Title, "title=" + p.Title})
			issue.Title = p.Title
		}
		if p.HasDesc && p.Description != issue.Description {
			changes = append(changes, fieldChange{models.EventFieldChange, "description=" + issue.Description, "description=" + p.Description})
			issue.Description = p.Description
		}
		if p.Type != "" && p.Type != issue.Type {
			changes = append(changes, fieldChange{models.EventFieldChange, "type=" + string(issue.Type), "type=" + string(p.Type)})
			issue.Type = p.Type
		}
		if p.Priority != nil && *p.Priority != issue.Priority {
			changes = append(changes, fieldChange{models.EventFieldChange,
				fmt.Sprintf("priority=%d", issue.Priority), fmt.Sprintf("priority=%d", *p.Priority)})
			issue.Priority = *p.Priority
		}
		if p.ClearAssignee && issue.Assignee != nil {
			changes = append(changes, fieldChange{models.EventFieldChange, "assignee=" + *issue.Assignee, "assignee="})
			issue.Assignee = nil
		} else if p.HasAssignee && (issue.Assignee == nil || *issue.Assignee != p.Assignee) {
			before := ""
			if issue.Assignee != nil {
				before = *issue.Assignee
			}
			changes = append(changes, fieldChange{models.EventFieldChange, "assignee=" + before, "assignee=" + p.Assignee})
			a := p.Assignee
			issue.Assignee = &a
		}
		if p.Status != "" && p.Status != issue.Status {
			if p.Status == models.StatusClosed {
				return bderr.New(bderr.CodeInvalidTransition, "use close to close an issue (a reason is required)")
			}
			if issue.Status == models.StatusClosed {
				return bderr.New(bderr.CodeInvalidTransition, "use reopen to reopen a closed issue")
			}
			if !models.CanTransition(issue.Status, p.Status) {
				return bderr.New(bderr.CodeInvalidTransition, "cannot move %s from %s to %s", id, issue.Status, p.Status)
			}
			changes = append(changes, fieldChange{models.EventStatusChange, string(issue.Status), string(p.Status)})
			issue.Status = p.Status
		}

		if len(changes) == 0 {
			result = &UpdateResult{Issue: issue, Changed: false}
			return nil
		}

		ts, err := s.nextEventTime(ctx, tx, id)
		if err != nil {
			return err
		}
		issue.UpdatedAt = ts
		if err := issue.Validate(); err != nil {
			return err
		}
		if err := tx.PutIssue(ctx, issue); err != nil {
			return err
		}
		for _, ch := range changes {
			before, after := ch.before, ch.after
			if err := tx.AppendEvent(ctx, &models.Event{
				IssueID:   id,
				Kind:      ch.kind,
				Before:    &before,
				After:     &after,
				Timestamp: ts,
				Actor:     s.resolveActor(p.Actor),
			}); err != nil {
				return err
			}
			ts = ts.Add(time.Millisecond)
		}
		result = &UpdateResult{Issue: issue, Changed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CloseIssue transitions the issue to closed with a required reason.
func (s *Service) CloseIssue(ctx context.Context, id, reason, actor string) (*models.Issue, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, bderr.New(bderr.CodeInvalidField, "close requires a non-empty reason")
	}

	var closed *models.Issue
	err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		issue, err := tx.GetIssue(ctx, id)
		if err != nil {
			return err
		}
		if !models.CanTransition(issue.Status, models.StatusClosed) {
			return bderr.New(bderr.CodeInvalidTransition, "cannot close %s from status %s", id, issue.Status)
		}

		ts, err := s.nextEventTime(ctx, tx, id)
		if err != nil {
			return err
		}

		before := string(issue.Status)
		issue.Status = models.StatusClosed
		issue.ClosedAt = &ts
		issue.CloseReason = &reason
		issue.UpdatedAt = ts
		if err := tx.PutIssue(ctx, issue); err != nil {
			return err
		}

		after := string(models.StatusClosed)
		if err := tx.AppendEvent(ctx, &models.Event{
			IssueID: id, Kind: models.EventStatusChange,
			Before: &before, After: &after,
			Timestamp: ts, Actor: s.resolveActor(actor),
		}); err != nil {
			return err
		}
		cb, ca := "closed_at=", "closed_at="+ts.UTC().Format(time.RFC3339Nano)
		if err := tx.AppendEvent(ctx, &models.Event{
			IssueID: id, Kind: models.EventFieldChange,
			Before: &cb, After: &ca,
			Timestamp: ts.Add(time.Millisecond), Actor: s.resolveActor(actor),
		}); err != nil {
			return err
		}
		closed = issue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// ReopenIssue moves a closed issue back to open, clearing closed_at and the
// close reason.
func (s *Service) ReopenIssue(ctx context.Context, id, actor string) (*models.Issue, error) {
	var reopened *models.Issue
	err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		issue, err := tx.GetIssue(ctx, id)
		if err != nil {
			return err
		}
		if issue.Status != models.StatusClosed {
			return bderr.New(bderr.CodeInvalidTransition, "cannot reopen %s: status is %s", id, issue.Status)
		}

		ts, err := s.nextEventTime(ctx, tx, id)
		if err != nil {
			return err
		}

		prevClosedAt := ""
		if issue.ClosedAt != nil {
			prevClosedAt = issue.ClosedAt.UTC().Format(time.RFC3339Nano)
		}
		issue.Status = models.StatusOpen
		issue.ClosedAt = nil
		issue.CloseReason = nil
		issue.UpdatedAt = ts
		if err := tx.PutIssue(ctx, issue); err != nil {
			return err
		}

		before, after := string(models.StatusClosed), string(models.StatusOpen)
		if err := tx.AppendEvent(ctx, &models.Event{
			IssueID: id, Kind: models.EventStatusChange,
			Before: &before, After: &after,
			Timestamp: ts, Actor: s.resolveActor(actor),
		}); err != nil {
			return err
		}
		cb, ca := "closed_at="+prevClosedAt, "closed_at="
		if err := tx.AppendEvent(ctx, &models.Event{
			IssueID: id, Kind: models.EventFieldChange,
			Before: &cb, After: &ca,
			Timestamp: ts.Add(time.Millisecond), Actor: s.resolveActor(actor),
		}); err != nil {
			return err
		}
		reopened = issue
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reopened, nil
}

// --- Labels and comments ---

// AddLabel attaches a label; adding a label the issue already has reports
// Changed=false.
func (s *Service) AddLabel(ctx context.Context, id, label, actor string) (*UpdateResult, error) {
	if !models.ValidLabel(label) {
		return nil, bderr.New(bderr.CodeInvalidField, "invalid label: %q", label)
	}
	return s.mutateLabels(ctx, id, actor, func(labels []string) ([]string, bool) {
		for _, l := range labels {
			if l == label {
				return labels, false
			}
		}
		out := append(append([]string(nil), labels...), label)
		sort.Strings(out)
		return out, true
	})
}

// RemoveLabel detaches a label; removing an absent label reports
// Changed=false.
func (s *Service) RemoveLabel(ctx context.Context, id, label, actor string) (*UpdateResult, error) {
	return s.mutateLabels(ctx, id, actor, func(labels []string) ([]string, bool) {
		out := make([]string, 0, len(labels))
		for _, l := range labels {
			if l != label {
				out = append(out, l)
			}
		}
		return out, len(out) != len(labels)
	})
}

func (s *Service) mutateLabels(ctx context.Context, id, actor string, f func([]string) ([]string, bool)) (*UpdateResult, error) {
	var result *UpdateResult
	err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		issue, err := tx.GetIssue(ctx, id)
		if err != nil {
			return err
		}
		next, changed := f(issue.Labels)
		if !changed {
			result = &UpdateResult{Issue: issue, Changed: false}
			return nil
		}

		ts, err := s.nextEventTime(ctx, tx, id)
		if err != nil {
			return err
		}
		before := "labels=" + strings.Join(issue.Labels, ",")
		after := "labels=" + strings.Join(next, ",")
		issue.Labels = next
		issue.UpdatedAt = ts
		if err := tx.PutIssue(ctx, issue); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &models.Event{
			IssueID: id, Kind: models.EventFieldChange,
			Before: &before, After: &after,
			Timestamp: ts, Actor: s.resolveActor(actor),
		}); err != nil {
			return err
		}
		result = &UpdateResult{Issue: issue, Changed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddComment appends a comment and its audit event.
func (s *Service) AddComment(ctx context.Context, id, author, body string) (*models.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, bderr.New(bderr.CodeInvalidField, "comment body is required")
	}

	var comment *models.Comment
	err := s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		if _, err := tx.GetIssue(ctx, id); err != nil {
			return err
		}
		ts, err := s.nextEventTime(ctx, tx, id)
		if err != nil {
			return err
		}
		comment = &models.Comment{
			IssueID:   id,
			Author:    s.resolveActor(author),
			Body:      body,
			Timestamp: ts,
		}
		if err := tx.AppendComment(ctx, comment); err != nil {
			return err
		}
		after := comment.ID
		return tx.AppendEvent(ctx, &models.Event{
			IssueID: id, Kind: models.EventCommentAdded,
			After:     &after,
			Timestamp: ts, Actor: comment.Author,
		})
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// --- Links ---

// AddLink normalizes the relationship to canonical form, verifies both
// endpoints, and for blocking links consults the engine against a trial of
// the current graph before writing. A rejected cycle leaves the store
// untouched.
func (s *Service) AddLink(ctx context.Context, from, to string, typ models.LinkType, actor string) (*models.Link, error) {
	link, err := models.NormalizeLink(from, to, typ)
	if err != nil {
		return nil, err
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		for _, id := range []string{link.From, link.To} {
			ok, err := tx.IssueExists(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return bderr.New(bderr.CodeIssueNotFound, "issue not found: %s", id)
			}
		}

		if link.Type == models.LinkBlocks {
			snap, err := tx.Snapshot(ctx)
			if err != nil {
				return err
			}
			if path, cyclic := snap.WouldCycle(link.From, link.To); cyclic {
				return bderr.Cycle(path)
			}
		}

		ts, err := s.nextEventTime(ctx, tx, link.From)
		if err != nil {
			return err
		}
		link.CreatedAt = ts
		if err := tx.PutLink(ctx, link); err != nil {
			return err
		}
		after := fmt.Sprintf("%s %s", link.Type, link.To)
		return tx.AppendEvent(ctx, &models.Event{
			IssueID: link.From, Kind: models.EventLinkAdded,
			After:     &after,
			Timestamp: ts, Actor: s.resolveActor(actor),
		})
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// RemoveLink deletes a relationship given in any spelling.
func (s *Service) RemoveLink(ctx context.Context, from, to string, typ models.LinkType, actor string) error {
	link, err := models.NormalizeLink(from, to, typ)
	if err != nil {
		return err
	}

	return s.store.RunInTransaction(ctx, func(tx store.Tx) error {
		if err := tx.DeleteLink(ctx, link.From, link.To, link.Type); err != nil {
			return err
		}
		ts, err := s.nextEventTime(ctx, tx, link.From)
		if err != nil {
			return err
		}
		after := fmt.Sprintf("%s %s", link.Type, link.To)
		return tx.AppendEvent(ctx, &models.Event{
			IssueID: link.From, Kind: models.EventLinkRemoved,
			After:     &after,
			Timestamp: ts, Actor: s.resolveActor(actor),
		})
	})
}

// LinkView renders one relationship from a given issue's perspective.
type LinkView struct {
	Other string          `json:"other"`
	Type  models.LinkType `json:"type"`
	// Inward is true when the stored edge points at the issue and its type
	// has no inverse spelling to render.
	Inward bool `json:"inward,omitempty"`
}

// Links lists all relationships of an issue in both directions, rewriting
// incoming edges to their inverse spelling where the vocabulary has one.
func (s *Service) Links(ctx context.Context, id string) ([]LinkView, error) {
	if _, err := s.store.GetIssue(ctx, id); err != nil {
		return nil, err
	}
	links, err := s.store.GetLinks(ctx, id, store.DirBoth)
	if err != nil {
		return nil, err
	}

	views := make([]LinkView, 0, len(links))
	for _, l := range links {
		if l.From == id {
			views = append(views, LinkView{Other: l.To, Type: l.Type})
			continue
		}
		if inv, ok := l.Type.Inverse(); ok {
			views = append(views, LinkView{Other: l.From, Type: inv})
		} else {
			views = append(views, LinkView{Other: l.From, Type: l.Type, Inward: true})
		}
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Other != views[j].Other {
			return views[i].Other < views[j].Other
		}
		return views[i].Type < views[j].Type
	})
	return views, nil
}

// --- Derived queries ---

// Ready returns the issues ready to work on right now, in stable work order.
func (s *Service) Ready(ctx context.Context) ([]*models.Issue, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.resolveNodes(ctx, snap.Ready())
}

// Swarm returns the topological layering of all non-closed issues.
func (s *Service) Swarm(ctx context.Context) ([][]*graph.Node, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Swarm()
}

// Graph returns the render-neutral node/edge structure.
func (s *Service) Graph(ctx context.Context) (graph.ExportData, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return graph.ExportData{}, err
	}
	return snap.Export(), nil
}

// Ancestors lists everything that must close before id becomes ready.
func (s *Service) Ancestors(ctx context.Context, id string) ([]*graph.Node, error) {
	snap, err := s.snapshotWithIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.Ancestors(id), nil
}

// Descendants lists everything id transitively blocks.
func (s *Service) Descendants(ctx context.Context, id string) ([]*graph.Node, error) {
	snap, err := s.snapshotWithIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.Descendants(id), nil
}

func (s *Service) snapshotWithIssue(ctx context.Context, id string) (*graph.Snapshot, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Node(id) == nil {
		return nil, bderr.New(bderr.CodeIssueNotFound, "issue not found: %s", id)
	}
	return snap, nil
}

// Orphans returns open or in-progress issues with no links at all.
func (s *Service) Orphans(ctx context.Context) ([]*models.Issue, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.resolveNodes(ctx, snap.Orphans())
}

// Stale returns open or in-progress issues untouched for longer than
// staleAfter (default 30 days), oldest first.
func (s *Service) Stale(ctx context.Context, staleAfter time.Duration) ([]*models.Issue, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.resolveNodes(ctx, snap.Stale(s.now().UTC().Add(-staleAfter)))
}

// Stats reports the aggregate metrics.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return store.CollectStats(ctx, s.store)
}

// resolveNodes loads full issues for engine nodes, preserving order.
func (s *Service) resolveNodes(ctx context.Context, nodes []*graph.Node) ([]*models.Issue, error) {
	out := make([]*models.Issue, 0, len(nodes))
	for _, n := range nodes {
		issue, err := s.store.GetIssue(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	return out, nil
}
