package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"showreel/internal/clock"
)

// Store provides durable access to pipeline items.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema. The clock stamps every write so tests can pin time.
func Open(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.System{}
	}

	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(1)",
		},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// SQLite writes serialize anyway; one connection sidesteps lock churn.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, clock: clk}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health verifies the database responds to queries.
func (s *Store) Health(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

const busyRetries = 5

// retryOnBusy reruns fn for transient SQLITE_BUSY failures with a short
// backoff. Logic errors pass through on the first attempt.
func retryOnBusy(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// ErrNotFound is returned when an item lookup matches nothing.
var ErrNotFound = errors.New("queue item not found")

const itemColumns = `id, owner, title, description, stage, script, render_job_id,
rendered_asset_url, seo_json, publish_id, scheduled_at, error_message,
last_failed_stage, retry_count, last_retry_at, in_flight_since, created_at, updated_at`

// NewItem inserts a fresh idea awaiting approval and returns it.
func (s *Store) NewItem(ctx context.Context, owner, title, description string) (*Item, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("item title must not be empty")
	}
	now := fmtTime(s.clock.Now())

	var id int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO queue_items (owner, title, description, stage, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			owner, title, description, string(StatusPendingApproval), now, now)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a single item.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load queue item %d: %w", id, err)
	}
	return item, nil
}

// FindByRenderJobID resolves a render callback to the item that started it.
func (s *Store) FindByRenderJobID(ctx context.Context, jobID string) (*Item, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE render_job_id = ?`, jobID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load item for render job %s: %w", jobID, err)
	}
	return item, nil
}

// List returns items ordered newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE stage IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stats counts items per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM queue_items GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[Status(stage)] = count
	}
	return stats, rows.Err()
}

// Remove deletes a single item. Only terminal items qualify: removing one
// mid-pipeline would orphan its scheduled tasks and any pending render
// callback.
func (s *Store) Remove(ctx context.Context, id int64) error {
	err := s.execGuarded(ctx,
		`DELETE FROM queue_items WHERE id = ? AND stage IN (?, ?, ?)`,
		id, string(StatusPublished), string(StatusRejected), string(StatusUnrecoverable))
	if errors.Is(err, ErrWrongStage) {
		if _, lookupErr := s.GetByID(ctx, id); errors.Is(lookupErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrWrongStage
	}
	if err != nil {
		return fmt.Errorf("remove item %d: %w", id, err)
	}
	return nil
}

// ClearCompleted deletes published and rejected items, returning the count.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM queue_items WHERE stage IN (?, ?)`,
			string(StatusPublished), string(StatusRejected))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item            Item
		stage           string
		seoRaw          string
		lastFailedStage string
		scheduledAt     sql.NullString
		lastRetryAt     sql.NullString
		inFlightSince   sql.NullString
		createdAt       string
		updatedAt       string
	)
	err := row.Scan(
		&item.ID, &item.Owner, &item.Title, &item.Description, &stage, &item.Script,
		&item.RenderJobID, &item.RenderedAssetURL, &seoRaw, &item.PublishID,
		&scheduledAt, &item.ErrorMessage, &lastFailedStage, &item.RetryCount,
		&lastRetryAt, &inFlightSince, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.Stage = Status(stage)
	item.LastFailedStage = StageKind(lastFailedStage)
	if item.SEO, err = decodeSEO(seoRaw); err != nil {
		return nil, err
	}
	if item.ScheduledAt, err = parseTimePtr(scheduledAt); err != nil {
		return nil, err
	}
	if item.LastRetryAt, err = parseTimePtr(lastRetryAt); err != nil {
		return nil, err
	}
	if item.InFlightSince, err = parseTimePtr(inFlightSince); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
