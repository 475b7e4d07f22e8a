package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "subject:latest:"

// Sample is one vitals reading, with optional coordinates, as produced
// by the ingestion path. Immutable once recorded.
type Sample struct {
	SubjectID string    `json:"subject_id"`
	HeartRate int       `json:"heart_rate"`
	Systolic  int       `json:"systolic_bp"`
	Diastolic int       `json:"diastolic_bp"`
	Latitude  *float64  `json:"lat,omitempty"`
	Longitude *float64  `json:"lon,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Latest is the single cached record per subject. It is overwritten on
// every ingestion and expires if not refreshed within the TTL.
type Latest struct {
	Sample
	LastUpdated time.Time `json:"last_updated"`
}

// LatestStore keeps the most recent sample per subject in Redis with a
// store-managed expiry, so a subject that stops reporting ages out on
// its own.
type LatestStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewLatestStore creates a latest-sample store with the given retention.
func NewLatestStore(redisClient *redis.Client, ttl time.Duration) *LatestStore {
	return &LatestStore{redis: redisClient, ttl: ttl}
}

// PutLatest overwrites the subject's cached record and resets its expiry.
func (s *LatestStore) PutLatest(ctx context.Context, sample *Sample) error {
	latest := &Latest{
		Sample:      *sample,
		LastUpdated: time.Now().UTC(),
	}

	data, err := json.Marshal(latest)
	if err != nil {
		return fmt.Errorf("failed to marshal latest sample: %w", err)
	}

	if err := s.redis.Set(ctx, keyFor(sample.SubjectID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set latest sample in Redis: %w", err)
	}

	return nil
}

// GetLatest returns the subject's cached record, or nil if the key is
// absent or has expired.
func (s *LatestStore) GetLatest(ctx context.Context, subjectID string) (*Latest, error) {
	data, err := s.redis.Get(ctx, keyFor(subjectID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sample from Redis: %w", err)
	}

	var latest Latest
	if err := json.Unmarshal([]byte(data), &latest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest sample: %w", err)
	}

	return &latest, nil
}

// ListSubjects returns the subject IDs currently present in the cache.
func (s *LatestStore) ListSubjects(ctx context.Context) ([]string, error) {
	var subjects []string
	var cursor uint64

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache keys: %w", err)
		}

		for _, key := range keys {
			subjects = append(subjects, subjectFromKey(key))
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return subjects, nil
}

func keyFor(subjectID string) string {
	return keyPrefix + subjectID
}

func subjectFromKey(key string) string {
	return strings.TrimPrefix(key, keyPrefix)
}
