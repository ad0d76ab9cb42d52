package postgres

import (
	"context"
	"database/sql"
	"errors"

	"eventbuddy/internal/core/domain"

	"github.com/google/uuid"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const conversationColumns = `id, kind, conv_key, event_id, participant_a, participant_b, active, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var (
		c       domain.Conversation
		kind    string
		eventID sql.NullString
		a, b    sql.NullString
	)
	if err := row.Scan(&c.ID, &kind, &c.Key, &eventID, &a, &b, &c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Kind = domain.ConversationKind(kind)
	c.EventID = eventID.String
	if a.Valid && b.Valid {
		c.Participants = []string{a.String, b.String}
	}
	return &c, nil
}

func (r *ConversationRepo) GetConversationByID(ctx context.Context, convID uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	exec := GetExecutor(ctx, r.db)
	conv, err := scanConversation(exec.QueryRowContext(ctx, query, convID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	return conv, err
}

// GetOrCreateConversation relies on the unique conv_key: the insert and the sequence
// row are one statement, so a losing racer simply reads the winner's row.
func (r *ConversationRepo) GetOrCreateConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, bool, error) {
	var a, b sql.NullString
	if len(conv.Participants) == 2 {
		a = sql.NullString{String: conv.Participants[0], Valid: true}
		b = sql.NullString{String: conv.Participants[1], Valid: true}
	}
	eventID := sql.NullString{String: conv.EventID, Valid: conv.EventID != ""}
	exec := GetExecutor(ctx, r.db)
	var id uuid.UUID
	err := exec.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO conversations (id, kind, conv_key, event_id, participant_a, participant_b, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (conv_key) DO NOTHING
			RETURNING id
		), seq AS (
			INSERT INTO conversation_sequences (conversation_id)
			SELECT id FROM ins
		)
		SELECT id FROM ins
	`, conv.ID, string(conv.Kind), conv.Key, eventID, a, b, conv.Active, conv.CreatedAt).Scan(&id)
	created := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = false
	case err != nil:
		return nil, false, err
	}
	stored, err := scanConversation(exec.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE conv_key = $1`, conv.Key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *ConversationRepo) SetActive(ctx context.Context, convID uuid.UUID, active bool) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `UPDATE conversations SET active = $2 WHERE id = $1`, convID, active)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
