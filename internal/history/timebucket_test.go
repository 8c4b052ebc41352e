// ABOUTME: Tests for hourly time bucket keys

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketFormat(t *testing.T) {
	ts := time.Date(2024, 12, 6, 14, 37, 59, 0, time.UTC)
	assert.Equal(t, "2024-12-06-14", Bucket(ts))
}

func TestBucketNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	ts := time.Date(2024, 12, 6, 19, 0, 0, 0, loc) // 14:00 UTC
	assert.Equal(t, "2024-12-06-14", Bucket(ts))
}

func TestBucketStartRoundTrip(t *testing.T) {
	ts := time.Date(2024, 12, 6, 14, 37, 59, 0, time.UTC)
	start, err := BucketStart(Bucket(ts))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 6, 14, 0, 0, 0, time.UTC), start)
}

func TestBucketStartRejectsGarbage(t *testing.T) {
	_, err := BucketStart("not-a-bucket")
	assert.Error(t, err)
}

func TestBucketWithOffset(t *testing.T) {
	previous := BucketWithOffset(-1)
	current := CurrentBucket()
	assert.NotEqual(t, previous, current)

	prevStart, err := BucketStart(previous)
	require.NoError(t, err)
	curStart, err := BucketStart(current)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, curStart.Sub(prevStart))
}
