package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"eventbuddy/internal/core/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func TestSaveWithSequenceAssignsNextSeq(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	msg := &domain.Message{ID: uuid.New(), ConversationID: uuid.New(), AuthorID: "alice", Content: "hi"}

	mock.ExpectQuery("UPDATE conversation_sequences").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(sqlmock.NewResult(1, 1))

	seq, err := repo.SaveWithSequence(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}

func TestSaveWithSequenceNeedsSequenceRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery("UPDATE conversation_sequences").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}))

	_, err := repo.SaveWithSequence(context.Background(), &domain.Message{ID: uuid.New(), ConversationID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrSequenceNotInitialized)

	_, err = repo.SaveWithSequence(context.Background(), &domain.Message{ID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrInvalidConversationID)
}

func conversationRow(c *domain.Conversation) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "kind", "conv_key", "event_id", "participant_a", "participant_b", "active", "created_at"}).
		AddRow(c.ID.String(), string(c.Kind), c.Key, nil, c.Participants[0], c.Participants[1], c.Active, c.CreatedAt)
}

func TestGetOrCreateConversationLosingRaceReadsWinner(t *testing.T) {
	db, mock := newMock(t)
	repo := NewConversationRepo(db)
	winner, err := domain.NewDirectConversation("alice", "bob")
	require.NoError(t, err)
	loser, err := domain.NewDirectConversation("bob", "alice")
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO conversations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("FROM conversations WHERE conv_key").
		WithArgs("direct:alice:bob").
		WillReturnRows(conversationRow(winner))

	stored, created, err := repo.GetOrCreateConversation(context.Background(), loser)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, stored.ID)
	assert.Equal(t, []string{"alice", "bob"}, stored.Participants)
	assert.Equal(t, domain.KindDirect, stored.Kind)
}

func TestGetOrCreateConversationCreates(t *testing.T) {
	db, mock := newMock(t)
	repo := NewConversationRepo(db)
	conv, err := domain.NewDirectConversation("alice", "bob")
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO conversations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(conv.ID.String()))
	mock.ExpectQuery("FROM conversations WHERE conv_key").
		WillReturnRows(conversationRow(conv))

	_, created, err := repo.GetOrCreateConversation(context.Background(), conv)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestGetConversationMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewConversationRepo(db)
	mock.ExpectQuery("FROM conversations WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetConversationByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestGetMessageLoadsReactions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	id, conv, parent := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM messages WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "conversation_id", "author_id", "client_msg_id", "seq", "content", "parent_id",
			"is_edited", "is_deleted", "is_pinned", "edit_history", "created_at", "updated_at",
		}).AddRow(id.String(), conv.String(), "alice", nil, int64(3), "hello", parent.String(),
			true, false, false, []byte(`[{"content":"helo","edited_at":"2024-01-01T00:00:00Z"}]`), now, now))
	mock.ExpectQuery("FROM message_reactions").
		WillReturnRows(sqlmock.NewRows([]string{"emoji", "principal"}).
			AddRow("👍", "alice").
			AddRow("🎉", "carol").
			AddRow("👍", "bob"))

	msg, err := repo.GetMessage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), msg.Seq)
	require.NotNil(t, msg.ParentID)
	assert.Equal(t, parent, *msg.ParentID)
	require.Len(t, msg.EditHistory, 1)
	assert.Equal(t, "helo", msg.EditHistory[0].Content)
	assert.Equal(t, []domain.Reaction{
		{Emoji: "👍", Users: []string{"alice", "bob"}},
		{Emoji: "🎉", Users: []string{"carol"}},
	}, msg.Reactions)
}

func TestUpdateContentOnMissingMessage(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	mock.ExpectExec("UPDATE messages").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateContent(context.Background(), uuid.New(), "new", domain.Edit{Content: "old", EditedAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestCountUnreadExcludesOwnAndDeleted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(sqlmock.AnyArg(), int64(4), "bob").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	n, err := repo.CountUnread(context.Background(), uuid.New(), "bob", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWatermarks(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReadReceiptRepo(db)
	conv := uuid.New()

	mock.ExpectQuery("SELECT last_read_seq FROM read_receipts").
		WillReturnRows(sqlmock.NewRows([]string{"last_read_seq"}))
	mock.ExpectQuery("GREATEST").
		WithArgs(sqlmock.AnyArg(), "bob", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"last_read_seq"}).AddRow(int64(5)))

	wm, err := repo.GetWatermark(context.Background(), conv, "bob")
	require.NoError(t, err)
	assert.Zero(t, wm)

	wm, err = repo.AdvanceWatermark(context.Background(), conv, "bob", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), wm, "stored watermark never moves back")
}

func TestTxManagerCommitsAndRollsBack(t *testing.T) {
	db, mock := newMock(t)
	tm := NewTxManager(db)
	reactions := NewReactionRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO message_reactions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	err := tm.WithTx(context.Background(), func(ctx context.Context) error {
		return tm.WithTx(ctx, func(ctx context.Context) error {
			return reactions.AddReaction(ctx, uuid.New(), "👍", "alice")
		})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = tm.WithTx(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
