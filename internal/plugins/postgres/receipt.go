package postgres

import (
	"context"
	"database/sql"
	"errors"

	"eventbuddy/internal/core/domain"

	"github.com/google/uuid"
)

type ReadReceiptRepo struct {
	db *sql.DB
}

func NewReadReceiptRepo(db *sql.DB) *ReadReceiptRepo {
	return &ReadReceiptRepo{db: db}
}

var _ domain.ReadReceiptRepository = (*ReadReceiptRepo)(nil)

// GetWatermark is 0 for a principal that never marked anything read.
func (r *ReadReceiptRepo) GetWatermark(ctx context.Context, convID uuid.UUID, principal string) (int64, error) {
	exec := GetExecutor(ctx, r.db)
	var seq int64
	err := exec.QueryRowContext(ctx, `
		SELECT last_read_seq FROM read_receipts
		WHERE conversation_id = $1 AND principal = $2
	`, convID, principal).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (r *ReadReceiptRepo) AdvanceWatermark(ctx context.Context, convID uuid.UUID, principal string, seq int64) (int64, error) {
	exec := GetExecutor(ctx, r.db)
	var stored int64
	err := exec.QueryRowContext(ctx, `
		INSERT INTO read_receipts (conversation_id, principal, last_read_seq, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (conversation_id, principal) DO UPDATE
		SET last_read_seq = GREATEST(read_receipts.last_read_seq, EXCLUDED.last_read_seq),
		    updated_at = now()
		RETURNING last_read_seq
	`, convID, principal, seq).Scan(&stored)
	return stored, err
}
