package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"eventbuddy/internal/core/domain"

	"github.com/google/uuid"
)

type MessageRepo struct {
	db        *sql.DB
	reactions *ReactionRepo
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{
		db:        db,
		reactions: NewReactionRepo(db),
	}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, conversation_id, author_id, client_msg_id, seq, content, parent_id,
	is_edited, is_deleted, is_pinned, edit_history, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var (
		m           domain.Message
		clientMsgID sql.NullString
		parent      uuid.NullUUID
		history     []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.AuthorID,
		&clientMsgID,
		&m.Seq,
		&m.Content,
		&parent,
		&m.IsEdited,
		&m.IsDeleted,
		&m.IsPinned,
		&history,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.ClientMsgID = clientMsgID.String
	if parent.Valid {
		p := parent.UUID
		m.ParentID = &p
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &m.EditHistory); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (r *MessageRepo) SaveWithSequence(
	ctx context.Context,
	msg *domain.Message,
) (int64, error) {
	if msg.ConversationID == uuid.Nil {
		return 0, domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	var seq int64
	err := exec.QueryRowContext(ctx, `
        UPDATE conversation_sequences
        SET last_seq = last_seq + 1
        WHERE conversation_id = $1
        RETURNING last_seq
    `, msg.ConversationID).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No sequence row = conversation does not exist or not initialized
			return 0, domain.ErrSequenceNotInitialized
		}
		return 0, err
	}
	var parent uuid.NullUUID
	if msg.ParentID != nil {
		parent = uuid.NullUUID{UUID: *msg.ParentID, Valid: true}
	}
	_, err = exec.ExecContext(ctx, `
        INSERT INTO messages (
            id, conversation_id, author_id, client_msg_id, seq, content, parent_id, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `,
		msg.ID,
		msg.ConversationID,
		msg.AuthorID,
		sql.NullString{String: msg.ClientMsgID, Valid: msg.ClientMsgID != ""},
		seq,
		msg.Content,
		parent,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *MessageRepo) FindByClientMsgID(ctx context.Context, convID uuid.UUID, authorID, clientMsgID string) (*domain.Message, error) {
	exec := GetExecutor(ctx, r.db)
	msg, err := scanMessage(exec.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND author_id = $2 AND client_msg_id = $3
	`, convID, authorID, clientMsgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if msg.Reactions, err = r.reactions.ListReactions(ctx, msg.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepo) GetMessage(ctx context.Context, msgID uuid.UUID) (*domain.Message, error) {
	exec := GetExecutor(ctx, r.db)
	msg, err := scanMessage(exec.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, msgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if msg.Reactions, err = r.reactions.ListReactions(ctx, msg.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepo) UpdateContent(ctx context.Context, msgID uuid.UUID, content string, prior domain.Edit) error {
	entry, err := json.Marshal([]domain.Edit{prior})
	if err != nil {
		return err
	}
	return r.execOne(ctx, `
		UPDATE messages
		SET content = $2,
		    is_edited = TRUE,
		    edit_history = edit_history || $3::jsonb,
		    updated_at = $4
		WHERE id = $1
	`, msgID, content, string(entry), prior.EditedAt)
}

func (r *MessageRepo) SoftDelete(ctx context.Context, msgID uuid.UUID) error {
	return r.execOne(ctx, `
		UPDATE messages
		SET content = $2, is_deleted = TRUE, updated_at = now()
		WHERE id = $1
	`, msgID, domain.TombstoneContent)
}

func (r *MessageRepo) DeleteMessage(ctx context.Context, msgID uuid.UUID) error {
	return r.execOne(ctx, `DELETE FROM messages WHERE id = $1`, msgID)
}

func (r *MessageRepo) SetPinned(ctx context.Context, msgID uuid.UUID, pinned bool) error {
	return r.execOne(ctx, `UPDATE messages SET is_pinned = $2 WHERE id = $1`, msgID, pinned)
}

func (r *MessageRepo) execOne(ctx context.Context, query string, args ...any) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepo) HasReplies(ctx context.Context, msgID uuid.UUID) (bool, error) {
	exec := GetExecutor(ctx, r.db)
	var exists bool
	err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE parent_id = $1)`, msgID).Scan(&exists)
	return exists, err
}

func (r *MessageRepo) ListMessages(
	ctx context.Context,
	convID uuid.UUID,
	afterSeq int64,
	limit int,
) ([]domain.Message, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, convID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}
	byMessage, err := r.reactions.listForRange(ctx, convID, afterSeq, msgs[len(msgs)-1].Seq)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Reactions = byMessage[msgs[i].ID]
	}
	return msgs, nil
}

func (r *MessageRepo) LastSeq(ctx context.Context, convID uuid.UUID) (int64, error) {
	exec := GetExecutor(ctx, r.db)
	var seq int64
	err := exec.QueryRowContext(ctx,
		`SELECT last_seq FROM conversation_sequences WHERE conversation_id = $1`, convID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrSequenceNotInitialized
	}
	return seq, err
}

func (r *MessageRepo) CountUnread(ctx context.Context, convID uuid.UUID, principal string, afterSeq int64) (int64, error) {
	exec := GetExecutor(ctx, r.db)
	var n int64
	err := exec.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		  AND seq > $2
		  AND author_id <> $3
		  AND NOT is_deleted
	`, convID, afterSeq, principal).Scan(&n)
	return n, err
}
