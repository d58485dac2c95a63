// Package session keeps the live conversations of connected browsers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/ashureev/data-assistant/internal/chat"
	"github.com/ashureev/data-assistant/internal/domain"
)

// ErrNotFound is returned for unknown, expired or foreign conversations.
var ErrNotFound = errors.New("conversation not found")

const (
	defaultTTL           = 30 * time.Minute
	defaultRecordTimeout = 5 * time.Second
)

// QuerierFactory builds the query service client for a new conversation.
type QuerierFactory func() (chat.Querier, error)

// Recorder persists exchange audit records.
type Recorder interface {
	RecordExchange(ctx context.Context, ex *domain.Exchange) error
}

// Config controls conversation lifetime and reply mode.
type Config struct {
	// TTL is the idle time after which a conversation is dropped.
	TTL time.Duration
	// Mode is applied to every new conversation.
	Mode chat.Mode
	// RecordTimeout bounds a single audit write.
	RecordTimeout time.Duration
}

// Store is an in-memory registry of conversations with sliding expiry.
type Store struct {
	cache      *cache.Cache
	cfg        Config
	newQuerier QuerierFactory
	recorder   Recorder
	logger     *slog.Logger
}

// NewStore creates a registry. recorder may be nil to disable auditing.
func NewStore(cfg Config, newQuerier QuerierFactory, recorder Recorder, logger *slog.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Mode == "" {
		cfg.Mode = chat.ModeSteps
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = defaultRecordTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cache.New(cfg.TTL, cfg.TTL/2)
	c.OnEvicted(func(id string, _ interface{}) {
		logger.Debug("Conversation evicted", "conversation_id", id)
	})

	return &Store{
		cache:      c,
		cfg:        cfg,
		newQuerier: newQuerier,
		recorder:   recorder,
		logger:     logger,
	}
}

// Mode returns the reply mode applied to new conversations.
func (s *Store) Mode() chat.Mode { return s.cfg.Mode }

// Create starts an empty conversation owned by owner.
func (s *Store) Create(owner string) (*chat.Conversation, error) {
	querier, err := s.newQuerier()
	if err != nil {
		return nil, fmt.Errorf("create query client: %w", err)
	}

	id := uuid.NewString()
	conv := chat.NewConversation(id, owner, s.cfg.Mode, querier,
		chat.WithLogger(s.logger.With("conversation_id", id)),
		chat.WithTurnHook(s.record),
	)
	s.cache.Set(id, conv, cache.DefaultExpiration)

	s.logger.Info("Conversation created", "conversation_id", id, "user_id", owner, "mode", s.cfg.Mode)
	return conv, nil
}

// Get returns the conversation and extends its lifetime. Conversations owned
// by someone else are reported as not found.
func (s *Store) Get(id, owner string) (*chat.Conversation, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	conv, ok := v.(*chat.Conversation)
	if !ok || conv.Owner() != owner {
		return nil, ErrNotFound
	}
	s.cache.Set(id, conv, cache.DefaultExpiration)
	return conv, nil
}

// Touch extends the lifetime of an existing conversation.
func (s *Store) Touch(id string) {
	if v, ok := s.cache.Get(id); ok {
		s.cache.Set(id, v, cache.DefaultExpiration)
	}
}

// Delete drops the conversation if owner owns it.
func (s *Store) Delete(id, owner string) bool {
	if _, err := s.Get(id, owner); err != nil {
		return false
	}
	s.cache.Delete(id)
	s.logger.Info("Conversation deleted", "conversation_id", id, "user_id", owner)
	return true
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

func (s *Store) record(conv *chat.Conversation, turn chat.Turn) {
	if s.recorder == nil {
		return
	}

	ex := &domain.Exchange{
		ID:             uuid.NewString(),
		UserID:         conv.Owner(),
		ConversationID: conv.ID(),
		Query:          turn.Query,
		Outcome:        domain.OutcomeOK,
		DurationMs:     turn.Duration.Milliseconds(),
		Mode:           string(conv.Mode()),
		CreatedAt:      turn.Started,
	}
	if turn.Err != nil {
		ex.Outcome = domain.OutcomeFailed
		ex.Error = turn.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecordTimeout)
	defer cancel()
	if err := s.recorder.RecordExchange(ctx, ex); err != nil {
		s.logger.Warn("Failed to record exchange", "conversation_id", conv.ID(), "error", err)
	}
}
