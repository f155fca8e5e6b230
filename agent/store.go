package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conversation is the ordered message history of one session. Messages are
// only ever appended, by the agent at the end of a successful turn.
type Conversation struct {
	id string

	// turn serializes turns on this conversation.
	turn sync.Mutex

	mu       sync.RWMutex
	messages []Message
	updated  time.Time
}

func newConversation(id string) *Conversation {
	return &Conversation{id: id, updated: time.Now()}
}

// ID returns the session id.
func (c *Conversation) ID() string { return c.id }

// Messages returns a copy of the history.
func (c *Conversation) Messages() Messages {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(Messages, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// UpdatedAt returns the time of the last committed turn.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

func (c *Conversation) append(msgs ...Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
	c.updated = time.Now()
}

// Store event kinds.
const (
	SessionCreated = "created"
	SessionReset   = "reset"
	SessionDeleted = "deleted"
	SessionEvicted = "evicted"
)

// SessionEvent describes a change in the store.
type SessionEvent struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	// ReplacedBy is the new session id on a reset.
	ReplacedBy string `json:"replaced_by,omitempty"`
}

type storeEntry struct {
	conv       *Conversation
	lastAccess time.Time
}

// ConversationStore holds conversations by session id, with optional
// TTL-based eviction of idle sessions.
type ConversationStore struct {
	mu       sync.RWMutex
	sessions map[string]*storeEntry
	ttl      time.Duration
	onEvent  func(SessionEvent)
	stop     chan struct{}
	stopOnce sync.Once
}

// StoreOption configures a ConversationStore.
type StoreOption func(*ConversationStore)

// WithSessionTTL evicts sessions idle for longer than ttl. Zero disables
// eviction.
func WithSessionTTL(ttl time.Duration) StoreOption {
	return func(s *ConversationStore) { s.ttl = ttl }
}

// WithSessionListener registers fn for store events. fn runs synchronously
// outside the store lock and must not block.
func WithSessionListener(fn func(SessionEvent)) StoreOption {
	return func(s *ConversationStore) { s.onEvent = fn }
}

// NewConversationStore creates a store. Call Close to stop eviction.
func NewConversationStore(opts ...StoreOption) *ConversationStore {
	s := &ConversationStore{
		sessions: make(map[string]*storeEntry),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl > 0 {
		go s.evictLoop()
	}
	return s
}

// New creates an empty conversation under a fresh id.
func (s *ConversationStore) New() *Conversation {
	conv := newConversation(uuid.NewString())
	s.mu.Lock()
	s.sessions[conv.id] = &storeEntry{conv: conv, lastAccess: time.Now()}
	s.mu.Unlock()
	s.notify(SessionEvent{Kind: SessionCreated, SessionID: conv.id})
	return conv
}

// GetOrCreate returns the conversation for id, creating it if needed. An
// empty id behaves like New.
func (s *ConversationStore) GetOrCreate(id string) *Conversation {
	if id == "" {
		return s.New()
	}

	s.mu.Lock()
	if entry, ok := s.sessions[id]; ok {
		entry.lastAccess = time.Now()
		s.mu.Unlock()
		return entry.conv
	}
	conv := newConversation(id)
	s.sessions[id] = &storeEntry{conv: conv, lastAccess: time.Now()}
	s.mu.Unlock()

	s.notify(SessionEvent{Kind: SessionCreated, SessionID: id})
	return conv
}

// Get returns the conversation for id.
func (s *ConversationStore) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.sessions[id]; ok {
		return entry.conv, true
	}
	return nil, false
}

// Reset discards the conversation for id (if any) and returns a new empty
// one under a fresh id. A turn still running on the old conversation
// finishes against the discarded object.
func (s *ConversationStore) Reset(id string) *Conversation {
	conv := newConversation(uuid.NewString())
	s.mu.Lock()
	delete(s.sessions, id)
	s.sessions[conv.id] = &storeEntry{conv: conv, lastAccess: time.Now()}
	s.mu.Unlock()

	s.notify(SessionEvent{Kind: SessionReset, SessionID: id, ReplacedBy: conv.id})
	return conv
}

// Delete removes a conversation. It reports whether one existed.
func (s *ConversationStore) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.notify(SessionEvent{Kind: SessionDeleted, SessionID: id})
	}
	return ok
}

// Len returns the number of stored conversations.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the eviction loop.
func (s *ConversationStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *ConversationStore) notify(ev SessionEvent) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// evictLoop removes idle conversations every ttl/4, at most every 5 minutes.
func (s *ConversationStore) evictLoop() {
	interval := s.ttl / 4
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evict(time.Now())
		case <-s.stop:
			return
		}
	}
}

func (s *ConversationStore) evict(now time.Time) []string {
	cutoff := now.Add(-s.ttl)
	var evicted []string

	s.mu.Lock()
	for id, entry := range s.sessions {
		if entry.lastAccess.Before(cutoff) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()

	for _, id := range evicted {
		s.notify(SessionEvent{Kind: SessionEvicted, SessionID: id})
	}
	return evicted
}
