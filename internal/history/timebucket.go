// ABOUTME: Hourly time buckets for partitioning the durable message log
// ABOUTME: Format is "yyyy-MM-dd-HH" in UTC

package history

import (
	"fmt"
	"time"
)

const bucketLayout = "2006-01-02-15"

// Bucket returns the hourly partition key for t, e.g. "2024-12-06-14".
func Bucket(t time.Time) string {
	return t.UTC().Format(bucketLayout)
}

// CurrentBucket returns the partition key for the current hour.
func CurrentBucket() string {
	return Bucket(time.Now())
}

// BucketStart parses a partition key back to the start of its hour (UTC).
func BucketStart(bucket string) (time.Time, error) {
	t, err := time.ParseInLocation(bucketLayout, bucket, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time bucket %q: %w", bucket, err)
	}
	return t, nil
}

// BucketWithOffset returns the partition key for the hour hourOffset hours
// from now (negative for past hours).
func BucketWithOffset(hourOffset int) string {
	return Bucket(time.Now().Add(time.Duration(hourOffset) * time.Hour))
}
