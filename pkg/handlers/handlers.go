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

// Package handlers maps a URL method suffix onto a view over coordinator
// state.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Manishearth/clippy-service/pkg/kvstore"
	"github.com/Manishearth/clippy-service/pkg/status"
)

const badgeURLBase = "https://img.shields.io/badge/"

// Coordinator is the subset of pkg/coordinator.Coordinator the handlers need.
type Coordinator interface {
	Submit(ctx context.Context, key kvstore.JobKey)
}

// Store is the subset of pkg/kvstore.Store the handlers need.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	LRange(ctx context.Context, key string) ([]string, error)
}

// Handlers serves the badge/log/status views for a pinned commit.
type Handlers struct {
	KV          Store
	Coordinator Coordinator
}

// New creates a Handlers.
func New(kv Store, coord Coordinator) *Handlers {
	return &Handlers{KV: kv, Coordinator: coord}
}

// Serve dispatches method (already split from its extension) for the given
// job. It writes the HTTP response directly. query is the original
// request's raw query string (without "?"), preserved on redirects.
func (h *Handlers) Serve(w http.ResponseWriter, r *http.Request, key kvstore.JobKey, method, ext, query string) {
	ctx := r.Context()

	switch method {
	case "badge":
		h.serveBadge(w, r, key, ext, query, plainVariant)
	case "emojibadge":
		h.serveBadge(w, r, key, ext, query, emojiVariant)
	case "fullemojibadge":
		h.serveBadge(w, r, key, ext, query, fullEmojiVariant)
	case "log":
		h.serveLog(ctx, w, key)
	case "status":
		h.serveStatus(ctx, w, key)
	default:
		http.Error(w, fmt.Sprintf("%s Not Implemented.", method), http.StatusBadRequest)
	}
}

type variant int

const (
	plainVariant variant = iota
	emojiVariant
	fullEmojiVariant
)

func (h *Handlers) resultOrSchedule(ctx context.Context, key kvstore.JobKey) (text, color string) {
	v, ok, err := h.KV.Get(ctx, key.ResultKey())
	if err == nil && ok {
		return v, status.ForText(v)
	}
	h.Coordinator.Submit(ctx, key)
	return "linting", "blue"
}

func (h *Handlers) serveBadge(w http.ResponseWriter, r *http.Request, key kvstore.JobKey, ext, query string, v variant) {
	ctx := r.Context()
	text, color := h.resultOrSchedule(ctx, key)

	display := text
	prefix := "clippy"
	redirectOn307 := text == "linting"

	switch v {
	case emojiVariant, fullEmojiVariant:
		display = toEmoji(text)
		redirectOn307 = color == "blue"
		if v == fullEmojiVariant {
			prefix = "📎"
		}
	}

	target := fmt.Sprintf("%s%s-%s-%s.%s", badgeURLBase, prefix, display, color, ext)
	if query != "" {
		target = target + "?" + query
	}

	code := http.StatusPermanentRedirect
	if redirectOn307 {
		code = http.StatusTemporaryRedirect
	}
	http.Redirect(w, r, target, code)
}

func toEmoji(text string) string {
	switch text {
	case "linting":
		return "👷"
	case "failed":
		return "😱"
	case "success":
		return "👌"
	default:
		replaced := strings.ReplaceAll(text, "errors", "🤕")
		return strings.ReplaceAll(replaced, "warnings", "😟")
	}
}

func (h *Handlers) serveLog(ctx context.Context, w http.ResponseWriter, key kvstore.JobKey) {
	lines, err := h.KV.LRange(ctx, key.LogKey())
	if err != nil || len(lines) == 0 {
		h.Coordinator.Submit(ctx, key)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Started. Please refresh")
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, strings.Join(lines, "\n"))
}

func (h *Handlers) serveStatus(ctx context.Context, w http.ResponseWriter, key kvstore.JobKey) {
	v, ok, err := h.KV.Get(ctx, key.ResultKey())
	if err == nil && ok {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, v)
		return
	}

	h.Coordinator.Submit(ctx, key)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "linting")
}
