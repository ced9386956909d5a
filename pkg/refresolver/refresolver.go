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

// Package refresolver translates a branch name into a commit SHA, caching
// the result in the KV store for a short TTL.
package refresolver

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/abcxyz/pkg/logging"

	"github.com/Manishearth/clippy-service/pkg/kvstore"
)

// CacheTTL bounds how stale a cached branch-to-SHA mapping may be. A hit
// within the TTL skips the GitHub API entirely, bounding upstream traffic
// for mutable branches.
const CacheTTL = 5 * time.Minute

// Fetcher is the subset of pkg/fetch.Fetcher the resolver needs.
type Fetcher interface {
	FetchText(ctx context.Context, url string) (string, bool)
}

// Resolver resolves (owner, repo, branch) to a commit SHA.
type Resolver struct {
	kv      *kvstore.Store
	fetcher Fetcher
}

// New creates a Resolver backed by kv and fetcher.
func New(kv *kvstore.Store, fetcher Fetcher) *Resolver {
	return &Resolver{kv: kv, fetcher: fetcher}
}

// Outcome distinguishes the three terminal states of resolution.
type Outcome int

const (
	// Resolved means sha is valid.
	Resolved Outcome = iota
	// NotFound means the forge has no such ref, or was unreachable.
	NotFound
	// UpstreamMalformed means the forge responded but not with the expected JSON shape.
	UpstreamMalformed
)

type refObject struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// Resolve looks up the cached SHA for (owner, repo, branch), falling back
// to a GitHub API call on miss and caching the result for CacheTTL.
func (r *Resolver) Resolve(ctx context.Context, owner, repo, branch string) (sha string, outcome Outcome) {
	logger := logging.FromContext(ctx)
	cacheKey := kvstore.RefCacheKey(owner, repo, branch)

	if cached, ok, err := r.kv.Get(ctx, cacheKey); err == nil && ok {
		return cached, Resolved
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/git/refs/heads/%s", owner, repo, branch)
	body, ok := r.fetcher.FetchText(ctx, url)
	if !ok {
		logger.InfoContext(ctx, "ref not resolvable", "url", url)
		return "", NotFound
	}

	var parsed refObject
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		logger.WarnContext(ctx, "couldn't parse github's json response", "url", url, "error", err)
		return "", UpstreamMalformed
	}
	if parsed.Object.SHA == "" {
		logger.WarnContext(ctx, "sha not found in json", "url", url)
		return "", NotFound
	}

	if err := r.kv.SetEX(ctx, cacheKey, parsed.Object.SHA, CacheTTL); err != nil {
		logger.WarnContext(ctx, "failed to cache resolved sha", "error", err)
	}

	return parsed.Object.SHA, Resolved
}
