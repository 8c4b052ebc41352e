// ABOUTME: In-memory authoritative state for conversations and their messages
// ABOUTME: Aggregates carry their own locks so disjoint conversations never serialize

package conversation

import (
	"crypto/md5"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enkrip/parley/internal/protocol"
)

// DeriveConversationID derives the deterministic id for a participant pair:
// an MD5 name-based (version 3) UUID over the sorted, concatenated identities.
// Order-independent, so re-requesting the same pair yields the same id.
func DeriveConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)

	sum := md5.Sum([]byte(pair[0] + pair[1]))
	sum[6] = (sum[6] & 0x0f) | 0x30 // version 3
	sum[8] = (sum[8] & 0x3f) | 0x80 // RFC 4122 variant

	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		// 16-byte input; cannot fail
		panic(err)
	}
	return id.String()
}

// storedMessage is the store's internal message record. The client-facing
// is_mine flag is applied when converting to a protocol.Message.
type storedMessage struct {
	id             string
	conversationID string
	sender         string
	content        string
	kind           protocol.MessageKind
	timestamp      time.Time
	seq            int64
}

func (m *storedMessage) toProtocol(viewer string) protocol.Message {
	return protocol.Message{
		MessageID:      m.id,
		ConversationID: m.conversationID,
		Sender:         protocol.ChatUser{UserID: m.sender, DisplayName: m.sender},
		Content:        m.content,
		Kind:           m.kind,
		Timestamp:      m.timestamp,
		IsMine:         viewer == m.sender,
	}
}

// Conversation is a single two-party aggregate. The participant pair never
// changes after creation; mu serializes message appends and snapshots so the
// timestamp-ascending message order holds under concurrent sends.
type Conversation struct {
	id           string
	participants [2]string

	mu          sync.Mutex
	lastUpdated time.Time
	lastMessage *storedMessage
	version     int64
	seq         int64
	messages    []*storedMessage
}

// ID returns the conversation's derived id.
func (c *Conversation) ID() string { return c.id }

// HasParticipant reports whether identity is one of the two participants.
func (c *Conversation) HasParticipant(identity string) bool {
	return c.participants[0] == identity || c.participants[1] == identity
}

// PeerOf returns the other participant. The caller must have verified
// membership first.
func (c *Conversation) PeerOf(identity string) string {
	if c.participants[0] == identity {
		return c.participants[1]
	}
	return c.participants[0]
}

// Append mints and stores a new message attributed to sender. Timestamps are
// clamped to be non-decreasing within the conversation; the sequence number
// breaks ties in insertion order.
func (c *Conversation) Append(sender, content string, kind protocol.MessageKind) *storedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Before(c.lastUpdated) {
		now = c.lastUpdated
	}

	c.seq++
	msg := &storedMessage{
		id:             uuid.New().String(),
		conversationID: c.id,
		sender:         sender,
		content:        content,
		kind:           kind,
		timestamp:      now,
		seq:            c.seq,
	}

	c.messages = append(c.messages, msg)
	c.lastMessage = msg
	c.lastUpdated = now
	c.version++
	return msg
}

// Snapshot returns the client-facing view of the conversation as seen by
// viewer (the last message's is_mine flag is relative to the viewer).
func (c *Conversation) Snapshot(viewer string) protocol.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := protocol.Conversation{
		ConversationID: c.id,
		Participants: []protocol.ChatUser{
			{UserID: c.participants[0], DisplayName: c.participants[0]},
			{UserID: c.participants[1], DisplayName: c.participants[1]},
		},
		LastUpdated: c.lastUpdated,
		Version:     c.version,
	}
	if c.lastMessage != nil {
		last := c.lastMessage.toProtocol(viewer)
		snap.LastMessage = &last
	}
	return snap
}

// Messages returns the conversation's messages in timestamp-ascending order
// as seen by viewer.
func (c *Conversation) Messages(viewer string) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.toProtocol(viewer))
	}
	return out
}

// userIndex is one identity's conversation list, most recently active first.
type userIndex struct {
	mu      sync.Mutex
	ordered []*Conversation
}

func (ix *userIndex) insertFront(c *Conversation) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(c.id)
	ix.ordered = append([]*Conversation{c}, ix.ordered...)
}

func (ix *userIndex) removeLocked(id string) {
	for i, existing := range ix.ordered {
		if existing.id == id {
			ix.ordered = append(ix.ordered[:i], ix.ordered[i+1:]...)
			return
		}
	}
}

func (ix *userIndex) snapshot() []*Conversation {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]*Conversation, len(ix.ordered))
	copy(out, ix.ordered)
	return out
}

// Store holds every conversation, indexed by id and by participant identity.
// The top-level maps are guarded by mu; each aggregate and each index carry
// their own lock, so operations on different conversations or different
// identities do not block one another.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	indexes       map[string]*userIndex
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*Conversation),
		indexes:       make(map[string]*userIndex),
	}
}

// Get looks up a conversation by id.
func (s *Store) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// Create establishes the conversation for the pair (a, b), inserting it into
// both identities' indices. Creation is idempotent: if the derived id already
// exists the existing conversation is returned with created=false and the
// indices are left untouched.
func (s *Store) Create(a, b string) (c *Conversation, created bool) {
	id := DeriveConversationID(a, b)

	s.mu.Lock()
	if existing, ok := s.conversations[id]; ok {
		s.mu.Unlock()
		return existing, false
	}

	c = &Conversation{
		id:           id,
		participants: [2]string{a, b},
		lastUpdated:  time.Now(),
	}
	s.conversations[id] = c
	ixA := s.indexFor(a)
	ixB := s.indexFor(b)
	s.mu.Unlock()

	ixA.insertFront(c)
	ixB.insertFront(c)
	return c, true
}

// Touch moves the conversation to the front of both participants' indices
// after a new message ("most recently active first").
func (s *Store) Touch(c *Conversation) {
	s.mu.Lock()
	ixA := s.indexFor(c.participants[0])
	ixB := s.indexFor(c.participants[1])
	s.mu.Unlock()

	ixA.insertFront(c)
	ixB.insertFront(c)
}

// ListFor returns identity's conversation snapshots, most recently active
// first, viewed by that identity.
func (s *Store) ListFor(identity string) []protocol.Conversation {
	s.mu.RLock()
	ix, ok := s.indexes[identity]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	records := ix.snapshot()
	out := make([]protocol.Conversation, 0, len(records))
	for _, c := range records {
		out = append(out, c.Snapshot(identity))
	}
	return out
}

// indexFor returns the identity's index, creating it if needed.
// Caller must hold s.mu for writing.
func (s *Store) indexFor(identity string) *userIndex {
	ix, ok := s.indexes[identity]
	if !ok {
		ix = &userIndex{}
		s.indexes[identity] = ix
	}
	return ix
}
