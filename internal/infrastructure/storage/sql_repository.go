package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/ports"
)

const markersTable = "processed_entries"

// SQLRepository persists processed markers into Postgres or SQLite.
type SQLRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.StateStore = (*SQLRepository)(nil)

// NewSQLRepository wires a sql.DB implementation with the dialect's placeholder format.
func NewSQLRepository(db *sql.DB, placeholder sq.PlaceholderFormat) *SQLRepository {
	return &SQLRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

// Exists reports whether the entry was marked by any previous run.
func (r *SQLRepository) Exists(ctx context.Context, feedURL, entryID string) (bool, error) {
	query, args, err := r.builder.
		Select("1").
		From(markersTable).
		Where(sq.Eq{"feed_url": feedURL, "entry_id": entryID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query marker: %w", err)
	}

	return true, nil
}

// Mark upserts the marker; re-marking an entry keeps the first timestamp.
func (r *SQLRepository) Mark(ctx context.Context, marker domain.ProcessedMarker) error {
	query, args, err := r.markQuery(marker)
	if err != nil {
		return fmt.Errorf("build mark query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert marker: %w", err)
	}

	return nil
}

func (r *SQLRepository) markQuery(marker domain.ProcessedMarker) (string, []any, error) {
	return r.builder.
		Insert(markersTable).
		Columns("feed_url", "entry_id", "processed_at").
		Values(marker.FeedURL, marker.EntryID, marker.ProcessedAt.UTC()).
		Suffix("ON CONFLICT (feed_url, entry_id) DO NOTHING").
		ToSql()
}

// Count returns how many entries of the feed have been marked.
func (r *SQLRepository) Count(ctx context.Context, feedURL string) (int, error) {
	query, args, err := r.builder.
		Select("COUNT(*)").
		From(markersTable).
		Where(sq.Eq{"feed_url": feedURL}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count markers: %w", err)
	}

	return count, nil
}

// Close releases the underlying database handle.
func (r *SQLRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
