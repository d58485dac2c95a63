package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrBlankInput is returned when a submit carries only whitespace.
	ErrBlankInput = errors.New("blank input")
	// ErrInFlight is returned when a submit arrives while a request is outstanding.
	ErrInFlight = errors.New("request already in flight")
)

// Querier sends one natural-language query to the query service.
type Querier interface {
	Query(ctx context.Context, text string) (*Reply, error)
}

// Turn describes one finished request/response cycle.
type Turn struct {
	Query    string
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Snapshot is a copy of the conversation state with a change counter.
type Snapshot struct {
	State
	Seq uint64
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithLogger sets the logger used for failed requests.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTurnHook registers a callback invoked after every finished turn.
func WithTurnHook(fn func(*Conversation, Turn)) Option {
	return func(c *Conversation) {
		c.onTurn = fn
	}
}

// Conversation serialises state transitions for one transcript and performs
// the network call between them. Safe for concurrent use.
type Conversation struct {
	id      string
	owner   string
	mode    Mode
	querier Querier
	logger  *slog.Logger
	onTurn  func(*Conversation, Turn)

	mu        sync.Mutex
	state     State
	seq       uint64
	watchers  map[uint64]func(Snapshot)
	nextWatch uint64
}

// NewConversation creates an empty conversation.
func NewConversation(id, owner string, mode Mode, querier Querier, opts ...Option) *Conversation {
	c := &Conversation{
		id:       id,
		owner:    owner,
		mode:     mode,
		querier:  querier,
		logger:   slog.Default(),
		watchers: make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// Owner returns the identity that created the conversation.
func (c *Conversation) Owner() string { return c.owner }

// Mode returns the reply rendering mode.
func (c *Conversation) Mode() Mode { return c.mode }

// Snapshot returns a copy of the current state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state.Clone(), Seq: c.seq}
}

// Watch registers fn to receive a snapshot after every state change.
// The returned function removes the registration.
func (c *Conversation) Watch(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	c.nextWatch++
	key := c.nextWatch
	c.watchers[key] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, key)
		c.mu.Unlock()
	}
}

// Submit runs one full cycle for input: it appends the user message, calls
// the query service and appends the reply or the fallback message. It returns
// ErrBlankInput or ErrInFlight without touching the transcript when the
// submit is a no-op. A failed request is not an error: it is reported in the
// returned Turn and in the transcript.
func (c *Conversation) Submit(ctx context.Context, input string) (turn Turn, err error) {
	query, err := c.begin(input)
	if err != nil {
		return Turn{}, err
	}

	turn = Turn{Query: query, Started: time.Now()}
	var reply *Reply
	var queryErr error
	defer func() {
		if queryErr == nil {
			queryErr = reply.Validate(c.mode)
		}
		turn.Err = queryErr
		turn.Duration = time.Since(turn.Started)
		c.complete(reply, queryErr)
		if c.onTurn != nil {
			c.onTurn(c, turn)
		}
	}()

	reply, queryErr = c.querier.Query(ctx, query)
	return turn, nil
}

func (c *Conversation) begin(input string) (string, error) {
	c.mu.Lock()
	if strings.TrimSpace(input) == "" {
		c.mu.Unlock()
		return "", ErrBlankInput
	}
	next, query, ok := c.state.WithDraft(input).Submit()
	if !ok {
		c.mu.Unlock()
		return "", ErrInFlight
	}
	snap, watchers := c.commitLocked(next)
	c.mu.Unlock()

	notify(watchers, snap)
	return query, nil
}

func (c *Conversation) complete(reply *Reply, err error) {
	c.mu.Lock()
	var next State
	if err != nil {
		c.logger.Error("Query request failed",
			"conversation_id", c.id,
			"error", err,
		)
		next = c.state.Failed()
	} else {
		next = c.state.Arrived(c.mode, *reply)
	}
	snap, watchers := c.commitLocked(next)
	c.mu.Unlock()

	notify(watchers, snap)
}

func (c *Conversation) commitLocked(next State) (Snapshot, []func(Snapshot)) {
	c.state = next
	c.seq++
	snap := Snapshot{State: next.Clone(), Seq: c.seq}
	watchers := make([]func(Snapshot), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	return snap, watchers
}

func notify(watchers []func(Snapshot), snap Snapshot) {
	for _, fn := range watchers {
		fn(snap)
	}
}

// String implements fmt.Stringer for log output.
func (c *Conversation) String() string {
	return fmt.Sprintf("conversation %s (%s)", c.id, c.mode)
}
