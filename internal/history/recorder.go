// ABOUTME: Asynchronous recorder feeding the durable history collaborators
// ABOUTME: Appends never block live delivery; failures are logged, not surfaced

package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/enkrip/parley/internal/protocol"
)

const (
	// previewLimit bounds the timeline copy of message content.
	previewLimit = 100

	// ephemeralTTL bounds how long typing/presence activity stays queryable.
	ephemeralTTL = 5 * time.Minute

	// saveTimeout bounds each detached append so a stuck store can't leak
	// goroutines forever.
	saveTimeout = 5 * time.Second
)

// AsyncRecorder satisfies the router's Recorder interface. Every append runs
// on its own goroutine with a detached timeout context: live notification
// does not wait for the durable history (eventual consistency is accepted).
type AsyncRecorder struct {
	store  Store
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAsyncRecorder wraps a history store. Pass nil logger for the default.
func NewAsyncRecorder(store Store, logger *slog.Logger) *AsyncRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncRecorder{
		store:  store,
		logger: logger.With("component", "recorder"),
	}
}

// MessageSent appends the message to the durable log, adds a preview entry to
// the sender's timeline, and records "message" activity.
func (r *AsyncRecorder) MessageSent(conversationID, sender, messageID, content string, kind protocol.MessageKind) {
	now := time.Now()
	preview := truncatePreview(content)

	r.detach("message log append", func(ctx context.Context) error {
		return r.store.AppendMessage(ctx, &MessageRecord{
			ConversationID: conversationID,
			TimeBucket:     Bucket(now),
			MessageTime:    now,
			MessageID:      messageID,
			SenderID:       sender,
			Content:        content,
			Kind:           int(kind),
		})
	})

	r.detach("timeline append", func(ctx context.Context) error {
		return r.store.AppendTimeline(ctx, &TimelineEntry{
			UserID:         sender,
			MessageTime:    now,
			MessageID:      messageID,
			ConversationID: conversationID,
			Preview:        preview,
		})
	})

	r.recordActivity(conversationID, sender, ActivityMessage, now)
}

// ParticipantJoined records "joined" activity for the identity.
func (r *AsyncRecorder) ParticipantJoined(conversationID, identity string) {
	r.recordActivity(conversationID, identity, ActivityJoined, time.Now())
}

// Typing records ephemeral typing activity.
func (r *AsyncRecorder) Typing(conversationID, identity string) {
	r.recordActivity(conversationID, identity, ActivityTyping, time.Now())
}

// PresenceChanged records ephemeral online/offline activity.
func (r *AsyncRecorder) PresenceChanged(conversationID, identity string, online bool) {
	kind := ActivityOffline
	if online {
		kind = ActivityOnline
	}
	r.recordActivity(conversationID, identity, kind, time.Now())
}

func (r *AsyncRecorder) recordActivity(conversationID, identity string, kind ActivityKind, now time.Time) {
	act := &Activity{
		ConversationID: conversationID,
		ActivityTime:   now,
		UserID:         identity,
		Kind:           kind,
	}
	if kind.Ephemeral() {
		expires := now.Add(ephemeralTTL)
		act.ExpiresAt = &expires
	}

	r.detach("activity append", func(ctx context.Context) error {
		return r.store.RecordActivity(ctx, act)
	})
}

// detach runs fn on its own goroutine with a fresh timeout context, logging
// failures instead of returning them.
func (r *AsyncRecorder) detach(op string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			r.logger.Error("history append failed", "op", op, "error", err)
		}
	}()
}

// Wait blocks until all in-flight appends finish. Used on shutdown and in
// tests.
func (r *AsyncRecorder) Wait() {
	r.wg.Wait()
}

func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit]) + "..."
}
