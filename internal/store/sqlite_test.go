package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bd/internal/bderr"
	"github.com/joescharf/bd/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "issues.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testIssue(id string, priority int) *models.Issue {
	return &models.Issue{
		ID:        id,
		Title:     "issue " + id,
		Type:      models.TypeTask,
		Priority:  priority,
		Status:    models.StatusOpen,
		Labels:    []string{},
		Links:     []models.LinkRef{},
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

func putIssue(t *testing.T, s *SQLiteStore, issue *models.Issue) {
	t.Helper()
	err := s.RunInTransaction(context.Background(), func(tx Tx) error {
		return tx.PutIssue(context.Background(), issue)
	})
	require.NoError(t, err)
}

func putLink(t *testing.T, s *SQLiteStore, from, to string, typ models.LinkType) {
	t.Helper()
	err := s.RunInTransaction(context.Background(), func(tx Tx) error {
		return tx.PutLink(context.Background(), models.Link{From: from, To: to, Type: typ, CreatedAt: testTime})
	})
	require.NoError(t, err)
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, ".beads", "issues.db"))
	require.NoError(t, err)
	defer s.Close()
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "issues.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	putIssue(t, s, testIssue("aaaa0001", 2))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.GetIssue(context.Background(), "aaaa0001")
	require.NoError(t, err)
	assert.Equal(t, "issue aaaa0001", got.Title)
}

func TestNewSQLiteStore_SchemaMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "issues.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE meta SET value = '99' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewSQLiteStore(dbPath)
	require.Error(t, err)
	assert.Equal(t, bderr.CodeSchemaMismatch, bderr.CodeOf(err))
	assert.Equal(t, bderr.ExitSchemaMismatch, bderr.ExitCode(err))
}

func TestIssueRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assignee := "agent-7"
	reason := "fixed in 1.2"
	closedAt := testTime.Add(time.Hour)
	issue := &models.Issue{
		ID:          "deadbeef",
		Title:       "Crash on empty config",
		Description: "panic when .beads/config.yaml is empty",
		Type:        models.TypeBug,
		Priority:    1,
		Status:      models.StatusClosed,
		Assignee:    &assignee,
		Labels:      []string{"area/config", "crash"},
		Links:       []models.LinkRef{},
		CreatedAt:   testTime,
		UpdatedAt:   testTime.Add(time.Hour),
		ClosedAt:    &closedAt,
		CloseReason: &reason,
	}
	putIssue(t, s, issue)

	got, err := s.GetIssue(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, issue, got)
}

func TestGetIssue_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetIssue(context.Background(), "missing1")
	require.Error(t, err)
	assert.Equal(t, bderr.CodeIssueNotFound, bderr.CodeOf(err))
}

func TestIssueExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putIssue(t, s, testIssue("aaaa0001", 2))

	ok, err := s.IssueExists(ctx, "aaaa0001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IssueExists(ctx, "bbbb0001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutIssue_UpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := testIssue("aaaa0001", 2)
	putIssue(t, s, issue)

	issue.Title = "renamed"
	issue.Labels = []string{"keep"}
	issue.UpdatedAt = testTime.Add(time.Minute)
	putIssue(t, s, issue)

	got, err := s.GetIssue(ctx, "aaaa0001")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, []string{"keep"}, got.Labels)
	assert.Equal(t, testTime, got.CreatedAt, "created_at is immutable")
}

func TestListIssues_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testIssue("aaaa0001", 0)
	a.Type = models.TypeBug
	a.Description = "the parser crashes on unicode"
	a.Labels = []string{"backend"}
	putIssue(t, s, a)

	b := testIssue("bbbb0001", 3)
	b.Status = models.StatusClosed
	now := testTime.Add(time.Hour)
	reason := "done"
	b.ClosedAt = &now
	b.CloseReason = &reason
	putIssue(t, s, b)

	c := testIssue("cccc0001", 2)
	assignee := "agent-7"
	c.Assignee = &assignee
	c.UpdatedAt = testTime.Add(2 * time.Hour)
	putIssue(t, s, c)

	ids := func(issues []*models.Issue) []string {
		var out []string
		for _, i := range issues {
			out = append(out, i.ID)
		}
		return out
	}

	got, err := s.ListIssues(ctx, models.IssueFilter{Statuses: []models.IssueStatus{models.StatusOpen}})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa0001", "cccc0001"}, ids(got))

	got, err = s.ListIssues(ctx, models.IssueFilter{Types: []models.IssueType{models.TypeBug}})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa0001"}, ids(got))

	pmax := 1
	got, err = s.ListIssues(ctx, models.IssueFilter{PriorityMax: &pmax})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa0001"}, ids(got))

	got, err = s.ListIssues(ctx, models.IssueFilter{Assignee: &assignee})
	require.NoError(t, err)
	assert.Equal(t, []string{"cccc0001"}, ids(got))

	got, err = s.ListIssues(ctx, models.IssueFilter{Labels: []string{"backend", "frontend"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa0001"}, ids(got))

	since := testTime.Add(90 * time.Minute)
	got, err = s.ListIssues(ctx, models.IssueFilter{UpdatedSince: &since})
	require.NoError(t, err)
	assert.Equal(t, []string{"cccc0001"}, ids(got))

	got, err = s.ListIssues(ctx, models.IssueFilter{Text: "unicode"})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa0001"}, ids(got))

	got, err = s.ListIssues(ctx, models.IssueFilter{Text: "aaaa0001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa0001"}, ids(got), "title substring")

	// Conjunction: open AND priority<=1.
	got, err = s.ListIssues(ctx, models.IssueFilter{
		Statuses:    []models.IssueStatus{models.StatusOpen},
		PriorityMax: &pmax,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa0001"}, ids(got))

	got, err = s.ListIssues(ctx, models.IssueFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestLinks_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putIssue(t, s, testIssue("aaaa0001", 2))
	putIssue(t, s, testIssue("bbbb0001", 2))
	putLink(t, s, "aaaa0001", "bbbb0001", models.LinkBlocks)

	out, err := s.GetLinks(ctx, "aaaa0001", DirOutgoing)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "bbbb0001", out[0].To)
	assert.Equal(t, models.LinkBlocks, out[0].Type)

	in, err := s.GetLinks(ctx, "bbbb0001", DirIncoming)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "aaaa0001", in[0].From)

	both, err := s.GetLinks(ctx, "bbbb0001", DirBoth)
	require.NoError(t, err)
	assert.Len(t, both, 1)

	// Duplicate insert is rejected.
	err = s.RunInTransaction(ctx, func(tx Tx) error {
		return tx.PutLink(ctx, models.Link{From: "aaaa0001", To: "bbbb0001", Type: models.LinkBlocks, CreatedAt: testTime})
	})
	require.Error(t, err)
	assert.Equal(t, bderr.CodeDuplicateLink, bderr.CodeOf(err))

	// Delete.
	err = s.RunInTransaction(ctx, func(tx Tx) error {
		return tx.DeleteLink(ctx, "aaaa0001", "bbbb0001", models.LinkBlocks)
	})
	require.NoError(t, err)

	out, err = s.GetLinks(ctx, "aaaa0001", DirOutgoing)
	require.NoError(t, err)
	assert.Empty(t, out)

	// Deleting again reports not found.
	err = s.RunInTransaction(ctx, func(tx Tx) error {
		return tx.DeleteLink(ctx, "aaaa0001", "bbbb0001", models.LinkBlocks)
	})
	assert.Equal(t, bderr.CodeLinkNotFound, bderr.CodeOf(err))
}

func TestRunInTransaction_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(tx Tx) error {
		if err := tx.PutIssue(ctx, testIssue("aaaa0001", 2)); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	ok, err := s.IssueExists(ctx, "aaaa0001")
	require.NoError(t, err)
	assert.False(t, ok, "rolled-back write must not be visible")
}

func TestEvents_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putIssue(t, s, testIssue("aaaa0001", 2))

	before := "open"
	after := "in_progress"
	err := s.RunInTransaction(ctx, func(tx Tx) error {
		if err := tx.AppendEvent(ctx, &models.Event{
			IssueID: "aaaa0001", Kind: models.EventCreated, Timestamp: testTime, Actor: "agent-7",
		}); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &models.Event{
			IssueID: "aaaa0001", Kind: models.EventStatusChange,
			Before: &before, After: &after,
			Timestamp: testTime.Add(time.Second), Actor: "agent-7",
		})
	})
	require.NoError(t, err)

	events, err := s.ListEvents(ctx, "aaaa0001")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventCreated, events[0].Kind)
	assert.Equal(t, models.EventStatusChange, events[1].Kind)
	assert.Equal(t, "open", *events[1].Before)
	assert.Equal(t, "in_progress", *events[1].After)
	assert.NotEmpty(t, events[0].ID)

	last, err := s.LastEventTime(ctx, "aaaa0001")
	require.NoError(t, err)
	assert.Equal(t, testTime.Add(time.Second), last)

	last, err = s.LastEventTime(ctx, "none")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestComments_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putIssue(t, s, testIssue("aaaa0001", 2))

	err := s.RunInTransaction(ctx, func(tx Tx) error {
		return tx.AppendComment(ctx, &models.Comment{
			IssueID: "aaaa0001", Author: "agent-7", Body: "looking into this", Timestamp: testTime,
		})
	})
	require.NoError(t, err)

	comments, err := s.ListComments(ctx, "aaaa0001")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "looking into this", comments[0].Body)
	assert.NotEmpty(t, comments[0].ID)
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putIssue(t, s, testIssue("aaaa0001", 0))
	putIssue(t, s, testIssue("bbbb0001", 2))
	putLink(t, s, "aaaa0001", "bbbb0001", models.LinkBlocks)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())

	ready := snap.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "aaaa0001", ready[0].ID)
}

func TestCountByStatusAndLeadTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putIssue(t, s, testIssue("aaaa0001", 2))

	wip := testIssue("bbbb0001", 2)
	wip.Status = models.StatusInProgress
	putIssue(t, s, wip)

	closed := testIssue("cccc0001", 2)
	closed.Status = models.StatusClosed
	closedAt := testTime.Add(12 * time.Hour)
	reason := "done"
	closed.ClosedAt = &closedAt
	closed.CloseReason = &reason
	putIssue(t, s, closed)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCounts{Total: 3, Open: 1, InProgress: 1, Closed: 1}, counts)

	lead, err := s.AvgLeadTimeHours(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, lead, 0.01)
}

func TestCollectStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putIssue(t, s, testIssue("aaaa0001", 2))
	putIssue(t, s, testIssue("bbbb0001", 2))
	putLink(t, s, "aaaa0001", "bbbb0001", models.LinkBlocks)

	stats, err := CollectStats(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Counts.Total)
	assert.Equal(t, 1, stats.Ready)
}

func TestTimestampOrderingIsLexicographic(t *testing.T) {
	// Fixed-width storage keeps whole-second and fractional timestamps
	// ordered under the TEXT collation ListIssues sorts with.
	s := newTestStore(t)
	ctx := context.Background()

	early := testIssue("aaaa0001", 2)
	early.UpdatedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	putIssue(t, s, early)

	late := testIssue("bbbb0001", 2)
	late.UpdatedAt = time.Date(2024, 6, 1, 12, 0, 0, 500_000_000, time.UTC)
	putIssue(t, s, late)

	got, err := s.ListIssues(ctx, models.IssueFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bbbb0001", got[0].ID, "fractional second sorts after whole second")
}
