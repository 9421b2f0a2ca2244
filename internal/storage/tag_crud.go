package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/soundvault/rfidcore/internal/types"
)

// The tags table carries a UNIQUE constraint on epc; a violation is mapped
// to types.ErrDuplicateEpc so the generator can retry with a fresh suffix.

const tagColumns = `id, epc, tid, status, created_at, written_at, locked_at, updated_at`

// InsertTag claims an EPC by persisting a new record in status generated.
// This happens before any hardware write so a crash mid-write never loses
// the fact that the EPC was taken.
func (p *PostgresClient) InsertTag(ctx context.Context, epc string) (*TagRecord, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO tags (epc, status)
		VALUES ($1, $2)
		RETURNING `+tagColumns, epc, TagStatusGenerated)

	record, err := scanTag(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("epc %s: %w", epc, types.ErrDuplicateEpc)
		}
		return nil, fmt.Errorf("failed to insert tag: %w", err)
	}
	return record, nil
}

// UpdateTagStatus advances a tag to the given status and stamps the matching
// lifecycle timestamp. Illegal (backward) transitions are rejected by the
// WHERE clause, never silently applied.
func (p *PostgresClient) UpdateTagStatus(ctx context.Context, id uuid.UUID, status TagStatus) (*TagRecord, error) {
	var stampColumn string
	switch status {
	case TagStatusWritten:
		stampColumn = "written_at = now(),"
	case TagStatusLocked:
		stampColumn = "locked_at = now(),"
	}

	allowed := allowedPredecessors(status)
	if len(allowed) == 0 {
		return nil, fmt.Errorf("no legal transition into status %s", status)
	}

	row := p.pool.QueryRow(ctx, `
		UPDATE tags
		SET status = $2, `+stampColumn+` updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+tagColumns, id, status, allowed)

	record, err := scanTag(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tag %s: illegal transition to %s", id, status)
		}
		return nil, fmt.Errorf("failed to update tag status: %w", err)
	}
	return record, nil
}

// SetTagTid records the factory TID once it has been read from hardware.
func (p *PostgresClient) SetTagTid(ctx context.Context, id uuid.UUID, tid string) error {
	result, err := p.pool.Exec(ctx, `
		UPDATE tags SET tid = $2, updated_at = now()
		WHERE id = $1 AND tid IS NULL
	`, id, tid)
	if err != nil {
		return fmt.Errorf("failed to set tid: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("tag %s: tid already set or tag missing", id)
	}
	return nil
}

// FindTagByEpc returns the record for epc, or nil when unknown.
func (p *PostgresClient) FindTagByEpc(ctx context.Context, epc string) (*TagRecord, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+tagColumns+` FROM tags WHERE epc = $1
	`, epc)

	record, err := scanTag(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tag: %w", err)
	}
	return record, nil
}

// ListAllEpcs returns every EPC ever claimed, including failed ones. Seeds
// the generator's avoidance set at session start.
func (p *PostgresClient) ListAllEpcs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := p.pool.Query(ctx, `SELECT epc FROM tags`)
	if err != nil {
		return nil, fmt.Errorf("failed to list epcs: %w", err)
	}
	defer rows.Close()

	epcs := make(map[string]struct{})
	for rows.Next() {
		var epc string
		if err := rows.Scan(&epc); err != nil {
			return nil, fmt.Errorf("failed to scan epc: %w", err)
		}
		epcs[epc] = struct{}{}
	}
	return epcs, rows.Err()
}

// ListTags returns recent tag records for the admin surface.
func (p *PostgresClient) ListTags(ctx context.Context, limit int) ([]TagRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+tagColumns+` FROM tags
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	records := make([]TagRecord, 0)
	for rows.Next() {
		record, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// RetireTag moves a written or locked tag to retired. Any other current
// status is an error.
func (p *PostgresClient) RetireTag(ctx context.Context, id uuid.UUID) (*TagRecord, error) {
	return p.UpdateTagStatus(ctx, id, TagStatusRetired)
}

func allowedPredecessors(status TagStatus) []string {
	switch status {
	case TagStatusWritten:
		return []string{string(TagStatusGenerated)}
	case TagStatusLocked:
		return []string{string(TagStatusWritten)}
	case TagStatusFailed:
		return []string{string(TagStatusGenerated), string(TagStatusWritten)}
	case TagStatusRetired:
		return []string{string(TagStatusWritten), string(TagStatusLocked)}
	default:
		return nil
	}
}

func scanTag(row pgx.Row) (*TagRecord, error) {
	var record TagRecord
	var writtenAt, lockedAt *time.Time
	err := row.Scan(
		&record.ID,
		&record.Epc,
		&record.Tid,
		&record.Status,
		&record.CreatedAt,
		&writtenAt,
		&lockedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.WrittenAt = writtenAt
	record.LockedAt = lockedAt
	return &record, nil
}
