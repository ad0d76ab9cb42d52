package postgres

import (
	"context"
	"database/sql"

	"eventbuddy/internal/core/domain"

	"github.com/google/uuid"
)

// ReactionRepo stores one row per (message, emoji, principal). Counts are never stored.
type ReactionRepo struct {
	db *sql.DB
}

func NewReactionRepo(db *sql.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

var _ domain.ReactionRepository = (*ReactionRepo)(nil)

func (r *ReactionRepo) HasReaction(ctx context.Context, msgID uuid.UUID, emoji, principal string) (bool, error) {
	exec := GetExecutor(ctx, r.db)
	var exists bool
	err := exec.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM message_reactions
			WHERE message_id = $1 AND emoji = $2 AND principal = $3
		)
	`, msgID, emoji, principal).Scan(&exists)
	return exists, err
}

func (r *ReactionRepo) AddReaction(ctx context.Context, msgID uuid.UUID, emoji, principal string) error {
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, emoji, principal)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, emoji, principal) DO NOTHING
	`, msgID, emoji, principal)
	return err
}

func (r *ReactionRepo) RemoveReaction(ctx context.Context, msgID uuid.UUID, emoji, principal string) error {
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND emoji = $2 AND principal = $3
	`, msgID, emoji, principal)
	return err
}

func (r *ReactionRepo) ListReactors(ctx context.Context, msgID uuid.UUID, emoji string) ([]string, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT principal
		FROM message_reactions
		WHERE message_id = $1 AND emoji = $2
		ORDER BY created_at, principal
	`, msgID, emoji)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		users = append(users, p)
	}
	return users, rows.Err()
}

func (r *ReactionRepo) ListReactions(ctx context.Context, msgID uuid.UUID) ([]domain.Reaction, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT emoji, principal
		FROM message_reactions
		WHERE message_id = $1
		ORDER BY created_at, principal
	`, msgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Reaction
	index := map[string]int{}
	for rows.Next() {
		var emoji, principal string
		if err := rows.Scan(&emoji, &principal); err != nil {
			return nil, err
		}
		out = appendReaction(out, index, emoji, principal)
	}
	return out, rows.Err()
}

// listForRange loads the reactions of every message of convID with afterSeq < seq <= uptoSeq.
func (r *ReactionRepo) listForRange(ctx context.Context, convID uuid.UUID, afterSeq, uptoSeq int64) (map[uuid.UUID][]domain.Reaction, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT r.message_id, r.emoji, r.principal
		FROM message_reactions r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = $1 AND m.seq > $2 AND m.seq <= $3
		ORDER BY r.created_at, r.principal
	`, convID, afterSeq, uptoSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[uuid.UUID][]domain.Reaction{}
	indexes := map[uuid.UUID]map[string]int{}
	for rows.Next() {
		var msgID uuid.UUID
		var emoji, principal string
		if err := rows.Scan(&msgID, &emoji, &principal); err != nil {
			return nil, err
		}
		if indexes[msgID] == nil {
			indexes[msgID] = map[string]int{}
		}
		out[msgID] = appendReaction(out[msgID], indexes[msgID], emoji, principal)
	}
	return out, rows.Err()
}

// appendReaction groups rows by emoji, keeping first-reaction order.
func appendReaction(out []domain.Reaction, index map[string]int, emoji, principal string) []domain.Reaction {
	i, ok := index[emoji]
	if !ok {
		i = len(out)
		index[emoji] = i
		out = append(out, domain.Reaction{Emoji: emoji})
	}
	out[i].Users = append(out[i].Users, principal)
	return out
}
