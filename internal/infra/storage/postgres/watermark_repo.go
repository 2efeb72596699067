package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/offerwatch/internal/core/domain"
)

const (
	watermarkColumns = `pipeline, checkpoint_hi_inclusive, timestamp_ms_hi_inclusive, updated_at`

	getWatermarkQuery   = `SELECT ` + watermarkColumns + ` FROM watermarks WHERE pipeline = $1`
	listWatermarksQuery = `SELECT ` + watermarkColumns + ` FROM watermarks ORDER BY pipeline`

	resetWatermarkQuery = `
INSERT INTO watermarks (pipeline, checkpoint_hi_inclusive, timestamp_ms_hi_inclusive, updated_at)
VALUES ($1, $2, 0, $3)
ON CONFLICT (pipeline) DO UPDATE
SET checkpoint_hi_inclusive = EXCLUDED.checkpoint_hi_inclusive,
	timestamp_ms_hi_inclusive = 0,
	updated_at = EXCLUDED.updated_at`
)

type watermarkRow struct {
	Pipeline              string `db:"pipeline"`
	CheckpointHiInclusive int64  `db:"checkpoint_hi_inclusive"`
	TimestampMsHi         int64  `db:"timestamp_ms_hi_inclusive"`
	UpdatedAt             int64  `db:"updated_at"`
}

func (r *watermarkRow) toDomain() *domain.Watermark {
	return &domain.Watermark{
		Pipeline:              r.Pipeline,
		CheckpointHiInclusive: uint64(r.CheckpointHiInclusive),
		TimestampMsHi:         uint64(r.TimestampMsHi),
		UpdatedAt:             r.UpdatedAt,
	}
}

// WatermarkRepo implements storage.WatermarkRepository using PostgreSQL.
type WatermarkRepo struct {
	db *DB
}

// NewWatermarkRepo creates a new PostgreSQL watermark repository.
func NewWatermarkRepo(db *DB) *WatermarkRepo {
	return &WatermarkRepo{db: db}
}

func (r *WatermarkRepo) Get(ctx context.Context, pipeline string) (*domain.Watermark, error) {
	var row watermarkRow
	err := r.db.GetContext(ctx, &row, getWatermarkQuery, pipeline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	return row.toDomain(), nil
}

func (r *WatermarkRepo) List(ctx context.Context) ([]*domain.Watermark, error) {
	var rows []watermarkRow
	if err := r.db.SelectContext(ctx, &rows, listWatermarksQuery); err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	out := make([]*domain.Watermark, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Reset rewinds the watermark unconditionally. Run it with the indexer stopped.
func (r *WatermarkRepo) Reset(ctx context.Context, pipeline string, checkpoint uint64) error {
	_, err := r.db.ExecContext(ctx, resetWatermarkQuery, pipeline, int64(checkpoint), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to reset watermark: %w", err)
	}
	return nil
}
