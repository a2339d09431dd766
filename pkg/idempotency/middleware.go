package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store records processed Kafka offsets and HTTP idempotency keys in Redis.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

// Seen marks key as processed and reports whether it already was.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}

	return !ok, nil
}

// Forget removes key so that the work it guards can be retried.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

const (
	StateInFlight  = "in_flight"
	StateCompleted = "completed"
)

// Record is the stored outcome of a request made with an Idempotency-Key.
type Record struct {
	State  string          `json:"state"`
	Status int             `json:"status,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func (s *Store) RequestKey(scope, key string) string {
	return fmt.Sprintf("idem:http:%s:%s", scope, key)
}

// Begin claims key for a new request. When the key was already claimed it
// returns the existing record and started=false.
func (s *Store) Begin(ctx context.Context, key string) (Record, bool, error) {
	pending, err := json.Marshal(Record{State: StateInFlight})
	if err != nil {
		return Record{}, false, err
	}
	ok, err := s.rdb.SetNX(ctx, key, pending, s.ttl).Result()
	if err != nil {
		return Record{}, false, err
	}
	if ok {
		return Record{State: StateInFlight}, true, nil
	}
	rec, err := s.Lookup(ctx, key)
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Begin(ctx, key)
	}
	return rec, false, err
}

// Complete stores the final response for key.
func (s *Store) Complete(ctx context.Context, key string, status int, body []byte) error {
	raw, err := json.Marshal(Record{State: StateCompleted, Status: status, Body: body})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, s.ttl).Err()
}

func (s *Store) Lookup(ctx context.Context, key string) (Record, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	return rec, nil
}
