package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"eventbuddy/internal/core/domain"

	"github.com/google/uuid"
)

type reactionRow struct {
	emoji     string
	principal string
	at        time.Time
}

// Store is a process-local persistence backend. It implements every repository
// of the core and is used for local runs and tests.
type Store struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	byKey         map[string]uuid.UUID
	sequences     map[uuid.UUID]int64
	messages      map[uuid.UUID]*domain.Message
	reactions     map[uuid.UUID][]reactionRow
	watermarks    map[string]int64

	// Delay, when set, is waited (or ctx is cancelled) before every call.
	Delay time.Duration
}

func New() *Store {
	return &Store{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		byKey:         make(map[string]uuid.UUID),
		sequences:     make(map[uuid.UUID]int64),
		messages:      make(map[uuid.UUID]*domain.Message),
		reactions:     make(map[uuid.UUID][]reactionRow),
		watermarks:    make(map[string]int64),
	}
}

var (
	_ domain.ConversationRepository = (*Store)(nil)
	_ domain.MessageRepository      = (*Store)(nil)
	_ domain.ReactionRepository     = (*Store)(nil)
	_ domain.ReadReceiptRepository  = (*Store)(nil)
	_ domain.Transactor             = (*Store)(nil)
)

// WithTx runs fn directly: every call is already atomic under the store lock.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) GetConversationByID(ctx context.Context, convID uuid.UUID) (*domain.Conversation, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[convID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetOrCreateConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, bool, error) {
	if err := s.wait(ctx); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[conv.Key]; ok {
		cp := *s.conversations[id]
		return &cp, false, nil
	}
	stored := *conv
	s.conversations[stored.ID] = &stored
	s.byKey[stored.Key] = stored.ID
	s.sequences[stored.ID] = 0
	cp := stored
	return &cp, true, nil
}

func (s *Store) SetActive(ctx context.Context, convID uuid.UUID, active bool) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[convID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	c.Active = active
	return nil
}

// ConversationCount is used by tests to check get-or-create uniqueness.
func (s *Store) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *Store) SaveWithSequence(ctx context.Context, msg *domain.Message) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.sequences[msg.ConversationID]
	if !ok {
		return 0, domain.ErrSequenceNotInitialized
	}
	seq := last + 1
	s.sequences[msg.ConversationID] = seq
	stored := cloneMessage(msg)
	stored.Seq = seq
	s.messages[stored.ID] = stored
	return seq, nil
}

func (s *Store) FindByClientMsgID(ctx context.Context, convID uuid.UUID, authorID, clientMsgID string) (*domain.Message, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ConversationID == convID && m.AuthorID == authorID && m.ClientMsgID == clientMsgID {
			return s.view(m), nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (s *Store) GetMessage(ctx context.Context, msgID uuid.UUID) (*domain.Message, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[msgID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return s.view(m), nil
}

func (s *Store) UpdateContent(ctx context.Context, msgID uuid.UUID, content string, prior domain.Edit) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[msgID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.EditHistory = append(m.EditHistory, prior)
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = prior.EditedAt
	return nil
}

func (s *Store) SoftDelete(ctx context.Context, msgID uuid.UUID) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[msgID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.Content = domain.TombstoneContent
	m.IsDeleted = true
	m.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, msgID uuid.UUID) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msgID]; !ok {
		return domain.ErrMessageNotFound
	}
	delete(s.messages, msgID)
	delete(s.reactions, msgID)
	return nil
}

func (s *Store) HasReplies(ctx context.Context, msgID uuid.UUID) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ParentID != nil && *m.ParentID == msgID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SetPinned(ctx context.Context, msgID uuid.UUID, pinned bool) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[msgID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.IsPinned = pinned
	return nil
}

func (s *Store) ListMessages(ctx context.Context, convID uuid.UUID, afterSeq int64, limit int) ([]domain.Message, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID == convID && m.Seq > afterSeq {
			out = append(out, *s.view(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LastSeq(ctx context.Context, convID uuid.UUID) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[convID]
	if !ok {
		return 0, domain.ErrSequenceNotInitialized
	}
	return seq, nil
}

func (s *Store) CountUnread(ctx context.Context, convID uuid.UUID, principal string, afterSeq int64) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == convID && m.Seq > afterSeq && m.AuthorID != principal && !m.IsDeleted {
			n++
		}
	}
	return n, nil
}

func (s *Store) HasReaction(ctx context.Context, msgID uuid.UUID, emoji, principal string) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reactions[msgID] {
		if r.emoji == emoji && r.principal == principal {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AddReaction(ctx context.Context, msgID uuid.UUID, emoji, principal string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reactions[msgID] {
		if r.emoji == emoji && r.principal == principal {
			return nil
		}
	}
	s.reactions[msgID] = append(s.reactions[msgID], reactionRow{emoji: emoji, principal: principal, at: time.Now()})
	return nil
}

func (s *Store) RemoveReaction(ctx context.Context, msgID uuid.UUID, emoji, principal string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.reactions[msgID]
	for i, r := range rows {
		if r.emoji == emoji && r.principal == principal {
			s.reactions[msgID] = append(rows[:i:i], rows[i+1:]...)
			break
		}
	}
	if len(s.reactions[msgID]) == 0 {
		delete(s.reactions, msgID)
	}
	return nil
}

func (s *Store) ListReactors(ctx context.Context, msgID uuid.UUID, emoji string) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users := []string{}
	for _, r := range s.reactions[msgID] {
		if r.emoji == emoji {
			users = append(users, r.principal)
		}
	}
	return users, nil
}

func (s *Store) ListReactions(ctx context.Context, msgID uuid.UUID) ([]domain.Reaction, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reactionsOf(msgID), nil
}

func (s *Store) GetWatermark(ctx context.Context, convID uuid.UUID, principal string) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[watermarkKey(convID, principal)], nil
}

func (s *Store) AdvanceWatermark(ctx context.Context, convID uuid.UUID, principal string, seq int64) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := watermarkKey(convID, principal)
	if seq > s.watermarks[key] {
		s.watermarks[key] = seq
	}
	return s.watermarks[key], nil
}

func watermarkKey(convID uuid.UUID, principal string) string {
	return convID.String() + "/" + principal
}

// reactionsOf groups rows by emoji in first-reaction order. Caller holds mu.
func (s *Store) reactionsOf(msgID uuid.UUID) []domain.Reaction {
	var out []domain.Reaction
	index := map[string]int{}
	for _, r := range s.reactions[msgID] {
		i, ok := index[r.emoji]
		if !ok {
			i = len(out)
			index[r.emoji] = i
			out = append(out, domain.Reaction{Emoji: r.emoji})
		}
		out[i].Users = append(out[i].Users, r.principal)
	}
	return out
}

func (s *Store) view(m *domain.Message) *domain.Message {
	cp := cloneMessage(m)
	cp.Reactions = s.reactionsOf(m.ID)
	return cp
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	if m.ParentID != nil {
		p := *m.ParentID
		cp.ParentID = &p
	}
	cp.EditHistory = append([]domain.Edit(nil), m.EditHistory...)
	cp.Reactions = nil
	return &cp
}
