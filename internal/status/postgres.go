// Package status records video processing state in the videos table.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	markReadySQL = `UPDATE videos
SET status = 'ready', master_url = $1, updated_at = NOW()
WHERE id = $2 AND user_id = $3`

	// processing and failed never move a record backwards.
	markProcessingSQL = `UPDATE videos
SET status = 'processing', updated_at = NOW()
WHERE id = $1 AND user_id = $2 AND status = 'uploaded'`

	markFailedSQL = `UPDATE videos
SET status = 'failed', updated_at = NOW()
WHERE id = $1 AND user_id = $2 AND status IN ('uploaded', 'processing')`
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore issues conditional updates keyed by (video id, owner id), so
// a job can never touch another owner's record.
type PostgresStore struct {
	db   execer
	pool *pgxpool.Pool
}

type Options struct {
	DSN             string
	MaxConns        int32
	ApplicationName string
}

func NewPostgresStore(ctx context.Context, opts Options) (*PostgresStore, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, errors.New("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = opts.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &PostgresStore{db: pool, pool: pool}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// MarkReady records the manifest reference. It reports whether a record
// matched; false means the video was deleted or belongs to someone else.
func (s *PostgresStore) MarkReady(ctx context.Context, videoID, ownerID, masterURL string) (bool, error) {
	return s.exec(ctx, "ready", markReadySQL, masterURL, videoID, ownerID)
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, videoID, ownerID string) (bool, error) {
	return s.exec(ctx, "processing", markProcessingSQL, videoID, ownerID)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, videoID, ownerID string) (bool, error) {
	return s.exec(ctx, "failed", markFailedSQL, videoID, ownerID)
}

func (s *PostgresStore) exec(ctx context.Context, status, sql string, args ...any) (bool, error) {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("mark video %s: %w", status, err)
	}
	return tag.RowsAffected() > 0, nil
}
