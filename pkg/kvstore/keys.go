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

import "fmt"

// JobKey identifies a single lint job: a (forge, owner, repo, commit sha)
// tuple. The forge is always "github" for now.
type JobKey struct {
	Owner string
	Repo  string
	SHA   string
}

// base returns the canonical "github/{owner}/{repo}:{sha}" base key that
// all per-job record keys derive from.
func (k JobKey) base() string {
	return fmt.Sprintf("github/%s/%s:%s", k.Owner, k.Repo, k.SHA)
}

// BadgeKey is the presence marker for "a worker has claimed this job".
func (k JobKey) BadgeKey() string { return "badge/" + k.base() }

// LogKey is the ordered list of progress lines.
func (k JobKey) LogKey() string { return "log/" + k.base() }

// ResultKey is the terminal status text.
func (k JobKey) ResultKey() string { return "result/" + k.base() }

// RefCacheKey is the most-recently-seen SHA for a branch.
func RefCacheKey(owner, repo, branch string) string {
	return fmt.Sprintf("cached-sha/github/%s/%s:%s", owner, repo, branch)
}
