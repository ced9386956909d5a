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

// Package coordinator is the asynchronous lint-job coordinator: it elects a
// single worker per (owner, repo, sha), drives that worker through
// fetch/extract/locate/lint/publish, and exposes progress and terminal
// state through the shared KV store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/Manishearth/clippy-service/pkg/archive"
	"github.com/Manishearth/clippy-service/pkg/kvstore"
	"github.com/Manishearth/clippy-service/pkg/linter"
	"github.com/Manishearth/clippy-service/pkg/status"
)

// LintingBadgeURL is the placeholder badge value set at election time and
// visible to readers until the job publishes its final result.
const LintingBadgeURL = "https://img.shields.io/badge/clippy-linting-blue"

// BadgeTTL bounds how long an elected worker holds its claim before another
// request may re-elect, recovering from a crashed worker.
const BadgeTTL = 5 * time.Minute

// Fetcher is the subset of pkg/fetch.Fetcher the coordinator needs.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, bool)
}

// LinterFunc runs the linter. It is a function, not an interface, so tests
// can substitute a fake without standing up cargo/clippy.
type LinterFunc func(ctx context.Context, dir string, logSink func(string)) (linter.Result, error)

// State is the conceptual job state a Status call observes. It is
// materialized implicitly by which KV records exist: a badge marker whose
// TTL expired before a result was written is indistinguishable from Absent
// and triggers re-election.
type State int

const (
	// Absent means no badge marker and no result exist.
	Absent State = iota
	// Running means a worker currently holds the badge marker.
	Running
	// Done means a terminal result has been published.
	Done
)

// Coordinator drives lint jobs end to end.
type Coordinator struct {
	KV      *kvstore.Store
	Fetcher Fetcher
	Linter  LinterFunc
}

// New creates a Coordinator. If lintFn is nil, linter.Run is used.
func New(kv *kvstore.Store, fetcher Fetcher, lintFn LinterFunc) *Coordinator {
	if lintFn == nil {
		lintFn = linter.Run
	}
	return &Coordinator{KV: kv, Fetcher: fetcher, Linter: lintFn}
}

// Status reports the conceptual state of a job without triggering work.
func (c *Coordinator) Status(ctx context.Context, key kvstore.JobKey) (State, error) {
	_, done, err := c.KV.Get(ctx, key.ResultKey())
	if err != nil {
		return Absent, err
	}
	if done {
		return Done, nil
	}

	running, err := c.KV.Exists(ctx, key.BadgeKey())
	if err != nil {
		return Absent, err
	}
	if running {
		return Running, nil
	}
	return Absent, nil
}

// Submit launches a detached worker for key. It never blocks the caller and
// never propagates worker failures back to the triggering request: once the
// worker has won the election, every error (and any panic) is logged and
// converted into a published "failed" result. A lost election abandons the
// job silently; any other election error is logged and publishes nothing.
func (c *Coordinator) Submit(ctx context.Context, key kvstore.JobKey) {
	logger := logging.FromContext(ctx)
	workCtx := logging.WithLogger(context.Background(), logger)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(workCtx, "lint worker panicked", "panic", r, "owner", key.Owner, "repo", key.Repo, "sha", key.SHA)
				c.publishFailure(workCtx, key, fmt.Errorf("worker panic: %v", r))
			}
		}()
		c.run(workCtx, key)
	}()
}

func (c *Coordinator) run(ctx context.Context, key kvstore.JobKey) {
	logger := logging.FromContext(ctx)
	startLine := c.timestamped(fmt.Sprintf("started processing github/%s/%s:%s", key.Owner, key.Repo, key.SHA))

	if err := c.KV.Elect(ctx, key.LogKey(), key.BadgeKey(), startLine, LintingBadgeURL, BadgeTTL); err != nil {
		if errors.Is(err, kvstore.ErrElectionLost) {
			// another worker already owns this job; abandon silently.
			return
		}
		logger.ErrorContext(ctx, "election failed", "error", err)
		return
	}

	result, err := c.lint(ctx, key)
	if err != nil {
		logger.InfoContext(ctx, "lint job failed", "owner", key.Owner, "repo", key.Repo, "sha", key.SHA, "error", err)
		c.publishFailure(ctx, key, err)
		return
	}

	text, color := status.ForResult(result)
	c.publish(ctx, key, text, color)
}

func (c *Coordinator) lint(ctx context.Context, key kvstore.JobKey) (linter.Result, error) {
	archiveURL := fmt.Sprintf("https://codeload.github.com/%s/%s/zip/%s", key.Owner, key.Repo, key.SHA)
	c.log(ctx, key, fmt.Sprintf("Fetching %s", archiveURL))

	data, ok := c.Fetcher.FetchBytes(ctx, archiveURL)
	if !ok {
		return linter.Result{}, fmt.Errorf("couldn't download archive from %s", archiveURL)
	}

	scope, err := archive.NewScope(fmt.Sprintf("github_%s_%s_%s", key.Owner, key.Repo, key.SHA))
	if err != nil {
		return linter.Result{}, fmt.Errorf("failed to create scope directory: %w", err)
	}
	defer scope.Close()

	files, err := archive.ExtractZip(data, scope.Dir)
	if err != nil {
		return linter.Result{}, fmt.Errorf("failed to extract archive: %w", err)
	}
	c.log(ctx, key, fmt.Sprintf("Extracted: \n - %s", strings.Join(files, "\n - ")))

	manifestDir, ok := locateManifestDir(files)
	if !ok {
		return linter.Result{}, errors.New("No `Cargo.toml` file found in archive.")
	}
	c.log(ctx, key, fmt.Sprintf("Cargo file found in %s", manifestDir))
	c.log(ctx, key, "-------------------------------- Running Clippy")

	logSink := func(line string) { c.log(ctx, key, line) }
	return c.Linter(ctx, manifestDir, logSink)
}

func (c *Coordinator) publishFailure(ctx context.Context, key kvstore.JobKey, cause error) {
	c.log(ctx, key, fmt.Sprintf("Failed: %s", cause))
	c.publish(ctx, key, "failed", "red")
}

func (c *Coordinator) publish(ctx context.Context, key kvstore.JobKey, text, color string) {
	logger := logging.FromContext(ctx)
	c.log(ctx, key, fmt.Sprintf("------------------------------------------\n Clippy's final verdict: %s", text))

	badgeValue := fmt.Sprintf("https://img.shields.io/badge/clippy-%s-%s", text, color)
	if err := c.KV.Publish(ctx, key.ResultKey(), text, key.BadgeKey(), badgeValue); err != nil {
		logger.ErrorContext(ctx, "failed to publish result", "error", err)
	}
}

func (c *Coordinator) log(ctx context.Context, key kvstore.JobKey, line string) {
	logger := logging.FromContext(ctx)
	if err := c.KV.RPush(ctx, key.LogKey(), c.timestamped(line)); err != nil {
		logger.WarnContext(ctx, "failed to append log line", "error", err)
	}
}

func (c *Coordinator) timestamped(line string) string {
	return fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339Nano), line)
}

// locateManifestDir returns the parent directory of the first extracted
// path whose lowercase form ends with "cargo.toml".
func locateManifestDir(files []string) (string, bool) {
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f), "cargo.toml") {
			idx := strings.LastIndexAny(f, "/\\")
			if idx < 0 {
				return ".", true
			}
			return f[:idx], true
		}
	}
	return "", false
}
