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

// Package fetch performs outbound HTTPS GETs on behalf of the ref resolver
// and the job coordinator. Every transport or read error collapses to a
// boolean "not found"; callers translate that into whatever domain error
// fits their context.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/abcxyz/pkg/logging"
)

const userAgent = "Clippy/0.1"

var (
	retryMinWaitDuration        = 250 * time.Millisecond
	retryMaxAttempts     uint64 = 3
)

// Fetcher performs GET requests with the service's fixed identity headers.
type Fetcher struct {
	client *http.Client
}

// New creates a Fetcher using http.DefaultTransport. Connection: close is
// set per-request rather than on the transport so the same Fetcher can
// still be reused for many requests.
func New() *Fetcher {
	return &Fetcher{client: &http.Client{}}
}

// FetchText performs a GET and returns the body as a string. ok is false on
// any transport, status, or read error.
func (f *Fetcher) FetchText(ctx context.Context, url string) (body string, ok bool) {
	b, ok := f.fetch(ctx, url)
	if !ok {
		return "", false
	}
	return string(b), true
}

// FetchBytes performs a GET and returns the raw body, e.g. a zip archive.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) (body []byte, ok bool) {
	return f.fetch(ctx, url)
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, bool) {
	logger := logging.FromContext(ctx)

	var body []byte
	backoff := retry.WithMaxRetries(retryMaxAttempts, retry.NewConstant(retryMinWaitDuration))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			// a malformed URL will never succeed on retry.
			return err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Connection", "close")

		resp, err := f.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("retrying error with status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			// client errors (404 etc.) are not retryable; they surface as "not found".
			return nil
		}

		body = b
		return nil
	})
	if err != nil {
		logger.DebugContext(ctx, "fetch failed", "url", url, "error", err)
		return nil, false
	}
	if body == nil {
		return nil, false
	}
	return body, true
}
