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

// Package server is the HTTP front end: it dispatches by path pattern to
// the ref resolver or the request handlers.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/abcxyz/pkg/healthcheck"
	"github.com/abcxyz/pkg/logging"

	"github.com/Manishearth/clippy-service/pkg/coordinator"
	"github.com/Manishearth/clippy-service/pkg/fetch"
	"github.com/Manishearth/clippy-service/pkg/handlers"
	"github.com/Manishearth/clippy-service/pkg/kvstore"
	"github.com/Manishearth/clippy-service/pkg/refresolver"
)

// Server provides the server implementation.
type Server struct {
	kv          *kvstore.Store
	resolver    *refresolver.Resolver
	coordinator *coordinator.Coordinator
	handlers    *handlers.Handlers
	staticDir   string
}

// New wires up the KV store, fetcher, ref resolver, coordinator, and
// handlers from cfg.
func New(ctx context.Context, cfg *Config) (*Server, error) {
	kv, err := kvstore.New(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create kv store: %w", err)
	}

	fetcher := fetch.New()
	resolver := refresolver.New(kv, fetcher)
	coord := coordinator.New(kv, fetcher, nil)
	h := handlers.New(kv, coord)

	return &Server{
		kv:          kv,
		resolver:    resolver,
		coordinator: coord,
		handlers:    h,
		staticDir:   cfg.StaticDir,
	}, nil
}

// Routes creates the http.Handler serving every route this service
// supports.
func (s *Server) Routes(ctx context.Context) http.Handler {
	logger := logging.FromContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/healthz", healthcheck.HandleHTTPHealthCheck())
	mux.Handle("/github/", http.HandlerFunc(s.handleGitHub))
	mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))

	root := logging.HTTPInterceptor(logger, "")(mux)
	return root
}

// Shutdown releases the KV store connection.
func (s *Server) Shutdown() error {
	if err := s.kv.Close(); err != nil {
		return fmt.Errorf("failed to close kv store: %w", err)
	}
	return nil
}

// handleGitHub dispatches the /github/... URL shapes:
//
//	/github/sha/{user}/{repo}/{sha}/{method}
//	/github/{user}/{repo}/{branch}/{method}
//	/github/{user}/{repo}/{method}            (branch defaults to "master")
func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/github/")
	segments := strings.Split(strings.Trim(trimmed, "/"), "/")

	if len(segments) >= 1 && segments[0] == "sha" {
		s.servePinned(w, r, segments[1:])
		return
	}
	s.serveBranch(w, r, segments)
}

func (s *Server) servePinned(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) != 4 {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	user, repo, sha, rawMethod := segments[0], segments[1], segments[2], segments[3]
	method, ext := splitMethodExt(rawMethod)

	key := kvstore.JobKey{Owner: user, Repo: repo, SHA: sha}
	s.handlers.Serve(w, r, key, method, ext, r.URL.RawQuery)
}

func (s *Server) serveBranch(w http.ResponseWriter, r *http.Request, segments []string) {
	var user, repo, branch, rawMethod string
	switch len(segments) {
	case 3:
		user, repo, rawMethod = segments[0], segments[1], segments[2]
		branch = "master"
	case 4:
		user, repo, branch, rawMethod = segments[0], segments[1], segments[2], segments[3]
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	sha, outcome := s.resolver.Resolve(ctx, user, repo, branch)

	switch outcome {
	case refresolver.Resolved:
		target := fmt.Sprintf("/github/sha/%s/%s/%s/%s", user, repo, sha, rawMethod)
		if r.URL.RawQuery != "" {
			target = target + "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	case refresolver.UpstreamMalformed:
		http.Error(w, "Couldn't parse Github's JSON response", http.StatusInternalServerError)
	default:
		githubURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/git/refs/heads/%s", user, repo, branch)
		http.Error(w, fmt.Sprintf("Couldn't find on Github %s", githubURL), http.StatusNotFound)
	}
}

// splitMethodExt splits "badge.svg" into ("badge", "svg"); a method with no
// dot yields an empty extension. The extension is carried through to the
// shields.io redirect URL.
func splitMethodExt(rawMethod string) (method, ext string) {
	idx := strings.LastIndex(rawMethod, ".")
	if idx < 0 {
		return rawMethod, ""
	}
	return rawMethod[:idx], rawMethod[idx+1:]
}
