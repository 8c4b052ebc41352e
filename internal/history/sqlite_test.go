// ABOUTME: Tests for the SQLite history store against a temp database
// ABOUTME: Covers descending order, bucket partitioning and activity TTL

package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndQueryMessagesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	bucket := Bucket(base)
	for i := 0; i < 5; i++ {
		err := store.AppendMessage(ctx, &MessageRecord{
			ConversationID: "conv-1",
			TimeBucket:     bucket,
			MessageTime:    base.Add(time.Duration(i) * time.Millisecond),
			MessageID:      fmt.Sprintf("msg-%d", i),
			SenderID:       "alice",
			Content:        fmt.Sprintf("message %d", i),
			Kind:           1,
		})
		require.NoError(t, err)
	}

	records, err := store.MessagesInBucket(ctx, "conv-1", bucket)
	require.NoError(t, err)
	require.Len(t, records, 5)

	// Newest first
	assert.Equal(t, "msg-4", records[0].MessageID)
	assert.Equal(t, "msg-0", records[4].MessageID)
	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].MessageTime.After(records[i-1].MessageTime))
	}
}

func TestRecentMessagesRespectsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 10; i++ {
		err := store.AppendMessage(ctx, &MessageRecord{
			ConversationID: "conv-1",
			TimeBucket:     Bucket(now),
			MessageTime:    now.Add(time.Duration(i) * time.Millisecond),
			MessageID:      fmt.Sprintf("msg-%d", i),
			SenderID:       "alice",
			Content:        "x",
			Kind:           1,
		})
		require.NoError(t, err)
	}

	records, err := store.RecentMessages(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "msg-9", records[0].MessageID)
}

func TestMessagesPartitionedByBucket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	lastHour := now.Add(-time.Hour)

	require.NoError(t, store.AppendMessage(ctx, &MessageRecord{
		ConversationID: "conv-1",
		TimeBucket:     Bucket(lastHour),
		MessageTime:    lastHour,
		MessageID:      "old",
		SenderID:       "alice",
		Content:        "earlier",
		Kind:           1,
	}))
	require.NoError(t, store.AppendMessage(ctx, &MessageRecord{
		ConversationID: "conv-1",
		TimeBucket:     Bucket(now),
		MessageTime:    now,
		MessageID:      "new",
		SenderID:       "alice",
		Content:        "later",
		Kind:           1,
	}))

	current, err := store.MessagesInBucket(ctx, "conv-1", Bucket(now))
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "new", current[0].MessageID)

	previous, err := store.MessagesInBucket(ctx, "conv-1", Bucket(lastHour))
	require.NoError(t, err)
	require.Len(t, previous, 1)
	assert.Equal(t, "old", previous[0].MessageID)
}

func TestUserTimelineNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 4; i++ {
		err := store.AppendTimeline(ctx, &TimelineEntry{
			UserID:         "alice",
			MessageTime:    base.Add(time.Duration(i) * time.Millisecond),
			MessageID:      fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			Preview:        fmt.Sprintf("preview %d", i),
		})
		require.NoError(t, err)
	}

	entries, err := store.UserTimeline(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "msg-3", entries[0].MessageID)
	assert.Equal(t, "preview 3", entries[0].Preview)

	limited, err := store.UserTimeline(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	other, err := store.UserTimeline(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestActivityFiltersExpiredEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	// Durable entry: no TTL
	require.NoError(t, store.RecordActivity(ctx, &Activity{
		ConversationID: "conv-1",
		ActivityTime:   now.Add(-3 * time.Millisecond),
		UserID:         "alice",
		Kind:           ActivityJoined,
	}))
	// Already expired ephemeral entry
	require.NoError(t, store.RecordActivity(ctx, &Activity{
		ConversationID: "conv-1",
		ActivityTime:   now.Add(-2 * time.Millisecond),
		UserID:         "alice",
		Kind:           ActivityTyping,
		ExpiresAt:      &past,
	}))
	// Still-live ephemeral entry
	require.NoError(t, store.RecordActivity(ctx, &Activity{
		ConversationID: "conv-1",
		ActivityTime:   now.Add(-time.Millisecond),
		UserID:         "bob",
		Kind:           ActivityOnline,
		ExpiresAt:      &future,
	}))

	activities, err := store.RecentActivity(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, ActivityOnline, activities[0].Kind)
	assert.Equal(t, ActivityJoined, activities[1].Kind)
}

func TestPurgeExpiredActivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	require.NoError(t, store.RecordActivity(ctx, &Activity{
		ConversationID: "conv-1",
		ActivityTime:   now.Add(-2 * time.Millisecond),
		UserID:         "alice",
		Kind:           ActivityTyping,
		ExpiresAt:      &past,
	}))
	require.NoError(t, store.RecordActivity(ctx, &Activity{
		ConversationID: "conv-1",
		ActivityTime:   now.Add(-time.Millisecond),
		UserID:         "bob",
		Kind:           ActivityTyping,
		ExpiresAt:      &future,
	}))

	purged, err := store.PurgeExpiredActivity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	remaining, err := store.RecentActivity(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "bob", remaining[0].UserID)
}

func TestRecordActivityRejectsUnknownType(t *testing.T) {
	store := newTestStore(t)

	err := store.RecordActivity(context.Background(), &Activity{
		ConversationID: "conv-1",
		ActivityTime:   time.Now(),
		UserID:         "alice",
		Kind:           ActivityKind("sabotage"),
	})
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.AppendMessage(ctx, &MessageRecord{
		ConversationID: "conv-1",
		TimeBucket:     Bucket(now),
		MessageTime:    now,
		MessageID:      "msg-1",
		SenderID:       "alice",
		Content:        "survivor",
		Kind:           1,
	}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.MessagesInBucket(ctx, "conv-1", Bucket(now))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "survivor", records[0].Content)
}
