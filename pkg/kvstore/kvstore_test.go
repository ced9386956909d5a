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

package kvstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() = %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewFromClient(client)
}

func TestStore_GetSetEX(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := s.SetEX(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("SetEX() = %v", err)
	}

	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Get(k) = (%q, %v, %v), want (\"v\", true, nil)", v, ok, err)
	}
}

func TestStore_Exists(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	if ok, err := s.Exists(ctx, "k"); err != nil || ok {
		t.Fatalf("Exists(k) = (%v, %v), want (false, nil)", ok, err)
	}

	if err := s.SetEX(ctx, "k", "v", 0); err != nil {
		t.Fatalf("SetEX() = %v", err)
	}

	if ok, err := s.Exists(ctx, "k"); err != nil || !ok {
		t.Fatalf("Exists(k) = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestStore_RPushLRange(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	for _, line := range []string{"one", "two", "three"} {
		if err := s.RPush(ctx, "log", line); err != nil {
			t.Fatalf("RPush(%q) = %v", line, err)
		}
	}

	got, err := s.LRange(ctx, "log")
	if err != nil {
		t.Fatalf("LRange() = %v", err)
	}
	want := []string{"one", "two", "three"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LRange() mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_Elect(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	if err := s.Elect(ctx, "log", "badge", "started", "linting-badge", time.Minute); err != nil {
		t.Fatalf("first Elect() = %v, want nil", err)
	}

	if err := s.Elect(ctx, "log", "badge", "started again", "linting-badge", time.Minute); !errors.Is(err, ErrElectionLost) {
		t.Fatalf("second Elect() = %v, want ErrElectionLost", err)
	}

	lines, err := s.LRange(ctx, "log")
	if err != nil {
		t.Fatalf("LRange() = %v", err)
	}
	if len(lines) != 1 || lines[0] != "started" {
		t.Fatalf("LRange() = %v, want exactly one \"started\" entry", lines)
	}

	badge, ok, err := s.Get(ctx, "badge")
	if err != nil || !ok || badge != "linting-badge" {
		t.Fatalf("Get(badge) = (%q, %v, %v), want (\"linting-badge\", true, nil)", badge, ok, err)
	}
}

// TestStore_Elect_Concurrent exercises the single-writer guarantee under
// concurrent submission: only one of N racing callers may win the election.
func TestStore_Elect_Concurrent(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Elect(ctx, "log", "badge", "line", "badge-value", time.Minute)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrElectionLost) {
			t.Errorf("Elect() returned unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("got %d winners, want exactly 1", wins)
	}
}

func TestStore_Publish(t *testing.T) {
	t.Parallel()

	s := testStore(t)
	ctx := context.Background()

	if err := s.SetEX(ctx, "badge", "linting-badge", time.Minute); err != nil {
		t.Fatalf("SetEX() = %v", err)
	}

	if err := s.Publish(ctx, "result", "success", "badge", "final-badge"); err != nil {
		t.Fatalf("Publish() = %v", err)
	}

	result, ok, err := s.Get(ctx, "result")
	if err != nil || !ok || result != "success" {
		t.Fatalf("Get(result) = (%q, %v, %v), want (\"success\", true, nil)", result, ok, err)
	}

	badge, ok, err := s.Get(ctx, "badge")
	if err != nil || !ok || badge != "final-badge" {
		t.Fatalf("Get(badge) = (%q, %v, %v), want (\"final-badge\", true, nil)", badge, ok, err)
	}
}

func TestJobKey(t *testing.T) {
	t.Parallel()

	key := JobKey{Owner: "rust-lang", Repo: "rust-clippy", SHA: "abc123"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"badge", key.BadgeKey(), "badge/github/rust-lang/rust-clippy:abc123"},
		{"log", key.LogKey(), "log/github/rust-lang/rust-clippy:abc123"},
		{"result", key.ResultKey(), "result/github/rust-lang/rust-clippy:abc123"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestRefCacheKey(t *testing.T) {
	t.Parallel()

	got := RefCacheKey("rust-lang", "rust-clippy", "master")
	want := "cached-sha/github/rust-lang/rust-clippy:master"
	if got != want {
		t.Errorf("RefCacheKey() = %q, want %q", got, want)
	}
}
