package store

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/bd/internal/bderr"
	"github.com/joescharf/bd/internal/graph"
	"github.com/joescharf/bd/internal/models"

	_ "modernc.org/sqlite"
)

// timeFormat is a fixed-width UTC RFC 3339 variant. Fixed width keeps TEXT
// timestamps lexicographically ordered, which the updated_at index relies on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	queries
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path,
// applies the schema, and verifies the stored schema version.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, bderr.Wrap(bderr.CodeIoError, err, "create db directory")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, bderr.Wrap(bderr.CodeIoError, err, "open database")
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, bderr.Wrap(bderr.CodeIoError, err, "%s", pragma)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, bderr.Wrap(bderr.CodeIoError, err, "apply schema")
	}

	if err := checkSchemaVersion(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{queries: queries{q: db}, db: db}, nil
}

func checkSchemaVersion(db *sql.DB) error {
	var stored string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, SchemaVersion)
		if err != nil {
			return bderr.Wrap(bderr.CodeIoError, err, "record schema version")
		}
		return nil
	case err != nil:
		return bderr.Wrap(bderr.CodeIoError, err, "read schema version")
	case stored != SchemaVersion:
		return bderr.New(bderr.CodeSchemaMismatch, "database schema version %s, this binary expects %s", stored, SchemaVersion)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RunInTransaction executes fn inside a serialized write transaction. Any
// error from fn rolls the transaction back; commit errors are mapped to the
// storage taxonomy.
func (s *SQLiteStore) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLErr(err, "begin transaction")
	}

	committed := false
	defer func() {
		if !committed {
			_ = dbtx.Rollback()
		}
	}()

	if err := fn(&sqliteTx{queries{q: dbtx}}); err != nil {
		return err
	}

	if err := dbtx.Commit(); err != nil {
		return mapSQLErr(err, "commit transaction")
	}
	committed = true
	return nil
}

// sqliteTx exposes the mutation surface over an open transaction.
type sqliteTx struct {
	queries
}

var _ Tx = (*sqliteTx)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx so the same query code
// serves direct reads and transactional reads.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// newULID generates a sortable row id for append-only tables.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// mapSQLErr translates driver errors into the storage taxonomy.
func mapSQLErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return bderr.Wrap(bderr.CodeTimeout, err, "%s", op)
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return bderr.Wrap(bderr.CodeStoreBusy, err, "%s", op)
	}
	return bderr.Wrap(bderr.CodeIoError, err, "%s", op)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, bderr.Wrap(bderr.CodeIoError, err, "parse stored timestamp %q", s)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func strPtrArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// --- Issues ---

const issueColumns = `id, title, description, type, priority, status, assignee, created_at, updated_at, closed_at, close_reason`

func (s queries) scanIssue(row interface{ Scan(...any) error }) (*models.Issue, error) {
	var (
		i                     models.Issue
		assignee, closeReason sql.NullString
		createdAt, updatedAt  string
		closedAt              sql.NullString
	)
	err := row.Scan(&i.ID, &i.Title, &i.Description, &i.Type, &i.Priority, &i.Status,
		&assignee, &createdAt, &updatedAt, &closedAt, &closeReason)
	if err != nil {
		return nil, err
	}
	i.Assignee = nullStr(assignee)
	i.CloseReason = nullStr(closeReason)
	if i.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if i.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func (s queries) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	issue, err := s.scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, bderr.New(bderr.CodeIssueNotFound, "issue not found: %s", id)
	}
	if err != nil {
		return nil, mapSQLErr(err, "get issue")
	}
	if err := s.hydrate(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// hydrate fills labels and outgoing links.
func (s queries) hydrate(ctx context.Context, issue *models.Issue) error {
	labels, err := s.issueLabels(ctx, issue.ID)
	if err != nil {
		return err
	}
	issue.Labels = labels

	links, err := s.GetLinks(ctx, issue.ID, DirOutgoing)
	if err != nil {
		return err
	}
	refs := make([]models.LinkRef, 0, len(links))
	for _, l := range links {
		refs = append(refs, models.LinkRef{To: l.To, Type: l.Type})
	}
	issue.Links = refs
	return nil
}

func (s queries) issueLabels(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT label FROM labels WHERE issue_id = ? ORDER BY label`, issueID)
	if err != nil {
		return nil, mapSQLErr(err, "get labels")
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, mapSQLErr(err, "scan label")
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func (s queries) IssueExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, mapSQLErr(err, "check issue exists")
	}
	return true, nil
}

func (s queries) ListIssues(ctx context.Context, filter models.IssueFilter) ([]*models.Issue, error) {
	var (
		where []string
		args  []any
	)

	if len(filter.Statuses) > 0 {
		where = append(where, `status IN (`+placeholders(len(filter.Statuses))+`)`)
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.Types) > 0 {
		where = append(where, `type IN (`+placeholders(len(filter.Types))+`)`)
		for _, ty := range filter.Types {
			args = append(args, string(ty))
		}
	}
	if filter.PriorityMax != nil {
		where = append(where, `priority <= ?`)
		args = append(args, *filter.PriorityMax)
	}
	if filter.Assignee != nil {
		where = append(where, `assignee = ?`)
		args = append(args, *filter.Assignee)
	}
	if len(filter.Labels) > 0 {
		where = append(where, `EXISTS (SELECT 1 FROM labels WHERE labels.issue_id = issues.id AND labels.label IN (`+placeholders(len(filter.Labels))+`))`)
		for _, l := range filter.Labels {
			args = append(args, l)
		}
	}
	if filter.UpdatedSince != nil {
		where = append(where, `updated_at >= ?`)
		args = append(args, fmtTime(*filter.UpdatedSince))
	}
	if filter.Text != "" {
		where = append(where, `(instr(title, ?) > 0 OR instr(description, ?) > 0)`)
		args = append(args, filter.Text, filter.Text)
	}

	query := `SELECT ` + issueColumns + ` FROM issues`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY priority ASC, updated_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLErr(err, "list issues")
	}
	defer rows.Close()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := s.scanIssue(rows)
		if err != nil {
			return nil, mapSQLErr(err, "scan issue")
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLErr(err, "list issues")
	}
	for _, issue := range issues {
		if err := s.hydrate(ctx, issue); err != nil {
			return nil, err
		}
	}
	return issues, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s queries) PutIssue(ctx context.Context, issue *models.Issue) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			type = excluded.type,
			priority = excluded.priority,
			status = excluded.status,
			assignee = excluded.assignee,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at,
			close_reason = excluded.close_reason`,
		issue.ID, issue.Title, issue.Description, string(issue.Type), issue.Priority,
		string(issue.Status), strPtrArg(issue.Assignee), fmtTime(issue.CreatedAt),
		fmtTime(issue.UpdatedAt), fmtTimePtr(issue.ClosedAt), strPtrArg(issue.CloseReason),
	)
	if err != nil {
		return mapSQLErr(err, "put issue")
	}

	// Reconcile the label set.
	if _, err := s.q.ExecContext(ctx, `DELETE FROM labels WHERE issue_id = ?`, issue.ID); err != nil {
		return mapSQLErr(err, "clear labels")
	}
	for _, label := range issue.Labels {
		if _, err := s.q.ExecContext(ctx, `INSERT INTO labels (issue_id, label) VALUES (?, ?)`, issue.ID, label); err != nil {
			return mapSQLErr(err, "put label")
		}
	}
	return nil
}

// --- Links ---

func (s queries) GetLinks(ctx context.Context, issueID string, dir LinkDirection) ([]models.Link, error) {
	var (
		cond string
		args []any
	)
	switch dir {
	case DirOutgoing:
		cond, args = `from_id = ?`, []any{issueID}
	case DirIncoming:
		cond, args = `to_id = ?`, []any{issueID}
	case DirBoth:
		cond, args = `(from_id = ? OR to_id = ?)`, []any{issueID, issueID}
	default:
		return nil, bderr.New(bderr.CodeInvariant, "unknown link direction: %s", dir)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT from_id, to_id, type, created_at FROM links
		WHERE `+cond+` ORDER BY from_id, to_id, type`, args...)
	if err != nil {
		return nil, mapSQLErr(err, "get links")
	}
	defer rows.Close()

	var links []models.Link
	for rows.Next() {
		var (
			l  models.Link
			at string
		)
		if err := rows.Scan(&l.From, &l.To, &l.Type, &at); err != nil {
			return nil, mapSQLErr(err, "scan link")
		}
		if l.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s queries) PutLink(ctx context.Context, link models.Link) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO links (from_id, to_id, type, created_at) VALUES (?, ?, ?, ?)`,
		link.From, link.To, string(link.Type), fmtTime(link.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return bderr.New(bderr.CodeDuplicateLink, "link already exists: %s %s %s", link.From, link.Type, link.To)
		}
		return mapSQLErr(err, "put link")
	}
	return nil
}

func (s queries) DeleteLink(ctx context.Context, from, to string, typ models.LinkType) error {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM links WHERE from_id = ? AND to_id = ? AND type = ?`,
		from, to, string(typ))
	if err != nil {
		return mapSQLErr(err, "delete link")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapSQLErr(err, "delete link")
	}
	if n == 0 {
		return bderr.New(bderr.CodeLinkNotFound, "no link %s %s %s", from, typ, to)
	}
	return nil
}

// --- Comments and events ---

func (s queries) AppendComment(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = newULID()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO comments (id, issue_id, author, body, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.IssueID, c.Author, c.Body, fmtTime(c.Timestamp))
	return mapSQLErr(err, "append comment")
}

func (s queries) ListComments(ctx context.Context, issueID string) ([]models.Comment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, issue_id, author, body, timestamp FROM comments
		WHERE issue_id = ? ORDER BY timestamp, id`, issueID)
	if err != nil {
		return nil, mapSQLErr(err, "list comments")
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var (
			c  models.Comment
			at string
		)
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Body, &at); err != nil {
			return nil, mapSQLErr(err, "scan comment")
		}
		if c.Timestamp, err = parseTime(at); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s queries) AppendEvent(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = newULID()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO events (id, issue_id, kind, before, after, timestamp, actor)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.IssueID, string(e.Kind), strPtrArg(e.Before), strPtrArg(e.After),
		fmtTime(e.Timestamp), e.Actor)
	return mapSQLErr(err, "append event")
}

func (s queries) ListEvents(ctx context.Context, issueID string) ([]models.Event, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, issue_id, kind, before, after, timestamp, actor FROM events
		WHERE issue_id = ? ORDER BY timestamp, id`, issueID)
	if err != nil {
		return nil, mapSQLErr(err, "list events")
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e             models.Event
			before, after sql.NullString
			at            string
		)
		if err := rows.Scan(&e.ID, &e.IssueID, &e.Kind, &before, &after, &at, &e.Actor); err != nil {
			return nil, mapSQLErr(err, "scan event")
		}
		e.Before = nullStr(before)
		e.After = nullStr(after)
		if e.Timestamp, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s queries) LastEventTime(ctx context.Context, issueID string) (time.Time, error) {
	var ns sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM events WHERE issue_id = ?`, issueID).Scan(&ns)
	if err != nil {
		return time.Time{}, mapSQLErr(err, "last event time")
	}
	if !ns.Valid {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}

// --- Snapshot and aggregates ---

func (s queries) Snapshot(ctx context.Context) (*graph.Snapshot, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, title, status, priority, updated_at FROM issues`)
	if err != nil {
		return nil, mapSQLErr(err, "snapshot issues")
	}
	defer rows.Close()

	var nodes []*graph.Node
	for rows.Next() {
		var (
			n  graph.Node
			at string
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Status, &n.Priority, &at); err != nil {
			return nil, mapSQLErr(err, "scan snapshot issue")
		}
		if n.UpdatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		nodes = append(nodes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLErr(err, "snapshot issues")
	}

	linkRows, err := s.q.QueryContext(ctx, `SELECT from_id, to_id, type FROM links`)
	if err != nil {
		return nil, mapSQLErr(err, "snapshot links")
	}
	defer linkRows.Close()

	var edges []graph.Edge
	for linkRows.Next() {
		var e graph.Edge
		if err := linkRows.Scan(&e.From, &e.To, &e.Type); err != nil {
			return nil, mapSQLErr(err, "scan snapshot link")
		}
		edges = append(edges, e)
	}
	if err := linkRows.Err(); err != nil {
		return nil, mapSQLErr(err, "snapshot links")
	}

	return graph.NewSnapshot(nodes, edges), nil
}

// Snapshot on the store runs inside a read transaction so issues and links
// come from one consistent view even while a writer is queued.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*graph.Snapshot, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLErr(err, "begin snapshot")
	}
	defer func() { _ = dbtx.Rollback() }()

	return queries{q: dbtx}.Snapshot(ctx)
}

func (s queries) CountByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM issues GROUP BY status`)
	if err != nil {
		return StatusCounts{}, mapSQLErr(err, "count by status")
	}
	defer rows.Close()

	var c StatusCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, mapSQLErr(err, "scan status count")
		}
		c.Total += n
		switch models.IssueStatus(status) {
		case models.StatusOpen:
			c.Open = n
		case models.StatusInProgress:
			c.InProgress = n
		case models.StatusBlocked:
			c.Blocked = n
		case models.StatusClosed:
			c.Closed = n
		}
	}
	return c, rows.Err()
}

func (s queries) AvgLeadTimeHours(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.q.QueryRowContext(ctx, `
		SELECT AVG((julianday(closed_at) - julianday(created_at)) * 24.0)
		FROM issues WHERE status = 'closed' AND closed_at IS NOT NULL`).Scan(&avg)
	if err != nil {
		return 0, mapSQLErr(err, "average lead time")
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// Stats bundles the aggregate metrics reported by bd stats.
type Stats struct {
	Counts            StatusCounts
	Ready             int
	AverageLeadTimeHr float64
}

// CollectStats computes the aggregate metrics. The status counts, lead time,
// and ready count are three separate reads, each consistent on its own; they
// are not taken from one shared view.
func CollectStats(ctx context.Context, r Reader) (*Stats, error) {
	counts, err := r.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	lead, err := r.AvgLeadTimeHours(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Counts:            counts,
		Ready:             len(snap.Ready()),
		AverageLeadTimeHr: lead,
	}, nil
}
