// ABOUTME: Record types and the narrow save/query interface for durable history
// ABOUTME: Message log, per-user timeline and per-conversation activity log

package history

import (
	"context"
	"time"
)

// MessageRecord is one append to the durable message log, keyed by
// (conversation, time bucket, descending time, message id).
type MessageRecord struct {
	ConversationID string
	TimeBucket     string
	MessageTime    time.Time
	MessageID      string
	SenderID       string
	Content        string
	Kind           int
}

// TimelineEntry is one append to a user's timeline, keyed by
// (user, descending time, message id). Preview is a truncated copy of the
// message content.
type TimelineEntry struct {
	UserID         string
	MessageTime    time.Time
	MessageID      string
	ConversationID string
	Preview        string
}

// ActivityKind categorizes conversation activity events.
type ActivityKind string

const (
	ActivityTyping      ActivityKind = "typing"
	ActivityOnline      ActivityKind = "online"
	ActivityOffline     ActivityKind = "offline"
	ActivityJoined      ActivityKind = "joined"
	ActivityLeft        ActivityKind = "left"
	ActivityMessage     ActivityKind = "message"
	ActivityMessageRead ActivityKind = "message_read"
)

// Ephemeral reports whether the kind is time-to-live-bounded in the activity
// log (presence/typing noise that should age out).
func (k ActivityKind) Ephemeral() bool {
	switch k {
	case ActivityTyping, ActivityOnline, ActivityOffline:
		return true
	default:
		return false
	}
}

// Valid reports whether k is a recognized activity kind.
func (k ActivityKind) Valid() bool {
	switch k {
	case ActivityTyping, ActivityOnline, ActivityOffline,
		ActivityJoined, ActivityLeft, ActivityMessage, ActivityMessageRead:
		return true
	default:
		return false
	}
}

// Activity is one entry in a conversation's activity log, keyed by
// (conversation, descending time, user). ExpiresAt is set for ephemeral kinds.
type Activity struct {
	ConversationID string
	ActivityTime   time.Time
	UserID         string
	Kind           ActivityKind
	ExpiresAt      *time.Time
}

// Store is the narrow interface the router's collaborator exposes. All three
// logs are append-only within this system's scope.
type Store interface {
	AppendMessage(ctx context.Context, rec *MessageRecord) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*MessageRecord, error)
	MessagesInBucket(ctx context.Context, conversationID, bucket string) ([]*MessageRecord, error)

	AppendTimeline(ctx context.Context, entry *TimelineEntry) error
	UserTimeline(ctx context.Context, userID string, limit int) ([]*TimelineEntry, error)

	RecordActivity(ctx context.Context, act *Activity) error
	RecentActivity(ctx context.Context, conversationID string, limit int) ([]*Activity, error)
	PurgeExpiredActivity(ctx context.Context) (int64, error)

	Close() error
}
