// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kvstore wraps the shared key-value store used as both cache and
// coordination medium for lint jobs. It is a thin layer over Redis: callers
// never see a *redis.Client, only the primitives the coordinator needs.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrElectionLost is returned by Elect when another worker has already
// claimed the badge marker for the job.
var ErrElectionLost = errors.New("kvstore: election lost")

// Store is the KV store adapter. It is safe for concurrent use.
type Store struct {
	client *redis.Client
}

// New creates a Store from a redis:// connection string.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an already-constructed client. Used by tests to point
// at a miniredis instance.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

// Get returns the value at key, and whether it existed.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: GET %s: %w", key, err)
	}
	return v, true, nil
}

// SetEX sets key to value with an expiry. A zero ttl sets no expiry.
func (s *Store) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore: SET %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: EXISTS %s: %w", key, err)
	}
	return n > 0, nil
}

// RPush appends value to the list at key.
func (s *Store) RPush(ctx context.Context, key, value string) error {
	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("kvstore: RPUSH %s: %w", key, err)
	}
	return nil
}

// LRange returns the full contents of the list at key, in insertion order.
func (s *Store) LRange(ctx context.Context, key string) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: LRANGE %s: %w", key, err)
	}
	return vals, nil
}

// Elect runs the single-writer election transaction: it watches logKey and
// badgeKey, and if badgeKey is absent at commit time it
// atomically appends startLine to logKey, sets badgeKey to badgeValue with
// badgeTTL, and returns nil. If badgeKey already exists, it returns
// ErrElectionLost and makes no changes.
func (s *Store) Elect(ctx context.Context, logKey, badgeKey, startLine, badgeValue string, badgeTTL time.Duration) error {
	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, badgeKey).Result()
		if err != nil {
			return fmt.Errorf("kvstore: EXISTS %s: %w", badgeKey, err)
		}
		if exists > 0 {
			return ErrElectionLost
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, logKey, startLine)
			pipe.Set(ctx, badgeKey, badgeValue, badgeTTL)
			return nil
		})
		if err != nil {
			return fmt.Errorf("kvstore: election commit: %w", err)
		}
		return nil
	}

	if err := s.client.Watch(ctx, txf, logKey, badgeKey); err != nil {
		if errors.Is(err, ErrElectionLost) {
			return ErrElectionLost
		}
		if errors.Is(err, redis.TxFailedErr) {
			return ErrElectionLost
		}
		return fmt.Errorf("kvstore: election watch: %w", err)
	}
	return nil
}

// Publish atomically writes the terminal result and the final badge URL,
// replacing the placeholder badge with no expiry. Readers never see a final
// badge without a matching result.
func (s *Store) Publish(ctx context.Context, resultKey, resultValue, badgeKey, badgeValue string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, resultKey, resultValue, 0)
		pipe.Set(ctx, badgeKey, badgeValue, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvstore: publish: %w", err)
	}
	return nil
}
