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

package refresolver

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/abcxyz/pkg/logging"

	"github.com/Manishearth/clippy-service/pkg/kvstore"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logging.WithLogger(context.Background(), logging.TestLogger(t))
}

type fakeFetcher struct {
	body string
	ok   bool
	urls []string
}

func (f *fakeFetcher) FetchText(ctx context.Context, url string) (string, bool) {
	f.urls = append(f.urls, url)
	return f.body, f.ok
}

func testKV(t *testing.T) *kvstore.Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() = %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return kvstore.NewFromClient(client)
}

func TestResolver_Resolve_CacheHit(t *testing.T) {
	t.Parallel()

	kv := testKV(t)
	ctx := testContext(t)
	if err := kv.SetEX(ctx, kvstore.RefCacheKey("owner", "repo", "main"), "cachedsha", CacheTTL); err != nil {
		t.Fatalf("SetEX() = %v", err)
	}

	fetcher := &fakeFetcher{}
	r := New(kv, fetcher)

	sha, outcome := r.Resolve(ctx, "owner", "repo", "main")
	if outcome != Resolved || sha != "cachedsha" {
		t.Fatalf("Resolve() = (%q, %v), want (\"cachedsha\", Resolved)", sha, outcome)
	}
	if len(fetcher.urls) != 0 {
		t.Errorf("fetcher was called on a cache hit: %v", fetcher.urls)
	}
}

func TestResolver_Resolve_CacheMiss(t *testing.T) {
	t.Parallel()

	kv := testKV(t)
	ctx := testContext(t)
	fetcher := &fakeFetcher{ok: true, body: `{"object":{"sha":"freshsha"}}`}
	r := New(kv, fetcher)

	sha, outcome := r.Resolve(ctx, "owner", "repo", "main")
	if outcome != Resolved || sha != "freshsha" {
		t.Fatalf("Resolve() = (%q, %v), want (\"freshsha\", Resolved)", sha, outcome)
	}

	cached, ok, err := kv.Get(ctx, kvstore.RefCacheKey("owner", "repo", "main"))
	if err != nil || !ok || cached != "freshsha" {
		t.Errorf("sha was not cached: (%q, %v, %v)", cached, ok, err)
	}
}

func TestResolver_Resolve_NotFound(t *testing.T) {
	t.Parallel()

	kv := testKV(t)
	ctx := testContext(t)
	fetcher := &fakeFetcher{ok: false}
	r := New(kv, fetcher)

	_, outcome := r.Resolve(ctx, "owner", "repo", "nope")
	if outcome != NotFound {
		t.Fatalf("Resolve() outcome = %v, want NotFound", outcome)
	}
}

func TestResolver_Resolve_UpstreamMalformed(t *testing.T) {
	t.Parallel()

	kv := testKV(t)
	ctx := testContext(t)
	fetcher := &fakeFetcher{ok: true, body: `not json`}
	r := New(kv, fetcher)

	_, outcome := r.Resolve(ctx, "owner", "repo", "main")
	if outcome != UpstreamMalformed {
		t.Fatalf("Resolve() outcome = %v, want UpstreamMalformed", outcome)
	}
}

func TestResolver_Resolve_MissingSHA(t *testing.T) {
	t.Parallel()

	kv := testKV(t)
	ctx := testContext(t)
	fetcher := &fakeFetcher{ok: true, body: `{"object":{}}`}
	r := New(kv, fetcher)

	_, outcome := r.Resolve(ctx, "owner", "repo", "main")
	if outcome != NotFound {
		t.Fatalf("Resolve() outcome = %v, want NotFound", outcome)
	}
}
