package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/timebridge/internal/model"
)

const sourceColumns = `id, name, kind, base_url, api_token, poll_schedule, enabled, created_at, last_polled_at`

// CreateSource inserts a source and returns it with its assigned id.
func (s *Store) CreateSource(ctx context.Context, src model.Source) (model.Source, error) {
	if !src.Kind.Valid() {
		return model.Source{}, fmt.Errorf("create source: unknown kind %q", src.Kind)
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = s.now()
	}

	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO sources (name, kind, base_url, api_token, poll_schedule, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		src.Name,
		string(src.Kind),
		src.BaseURL,
		src.APIToken,
		src.PollSchedule,
		src.Enabled,
		src.CreatedAt,
	).Scan(&src.ID)
	if err != nil {
		return model.Source{}, fmt.Errorf("create source: %w", err)
	}
	return src, nil
}

// GetSource returns the source with the given id, or ErrSourceNotFound.
func (s *Store) GetSource(ctx context.Context, id int64) (model.Source, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sourceColumns+` FROM sources WHERE id = ?`), id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Source{}, fmt.Errorf("source %d: %w", id, ErrSourceNotFound)
	}
	if err != nil {
		return model.Source{}, fmt.Errorf("get source %d: %w", id, err)
	}
	return src, nil
}

// ListSources returns all sources ordered by id.
func (s *Store) ListSources(ctx context.Context) ([]model.Source, error) {
	return s.querySources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
}

// EnabledSources returns the enabled sources of the given kind ordered by id.
func (s *Store) EnabledSources(ctx context.Context, kind model.SourceKind) ([]model.Source, error) {
	return s.querySources(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE enabled = ? AND kind = ? ORDER BY id`,
		true, string(kind))
}

func (s *Store) querySources(ctx context.Context, query string, args ...any) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// SetSourceEnabled toggles a source.
func (s *Store) SetSourceEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE sources SET enabled = ? WHERE id = ?`), enabled, id)
	if err != nil {
		return fmt.Errorf("set source enabled: %w", err)
	}
	return requireAffected(res, fmt.Errorf("source %d: %w", id, ErrSourceNotFound))
}

// TouchSourcePolled records the time of the latest import into a source.
func (s *Store) TouchSourcePolled(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE sources SET last_polled_at = ? WHERE id = ?`), at, id)
	if err != nil {
		return fmt.Errorf("touch source: %w", err)
	}
	return requireAffected(res, fmt.Errorf("source %d: %w", id, ErrSourceNotFound))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (model.Source, error) {
	var (
		src        model.Source
		kind       string
		lastPolled sql.NullTime
	)
	err := row.Scan(
		&src.ID,
		&src.Name,
		&kind,
		&src.BaseURL,
		&src.APIToken,
		&src.PollSchedule,
		&src.Enabled,
		&src.CreatedAt,
		&lastPolled,
	)
	if err != nil {
		return model.Source{}, err
	}
	src.Kind = model.SourceKind(kind)
	if lastPolled.Valid {
		t := lastPolled.Time
		src.LastPolledAt = &t
	}
	return src, nil
}

// requireAffected returns notFound when res reports zero affected rows.
func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
