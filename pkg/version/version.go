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

// Package version records the build-time identity of the binary.
package version

import "fmt"

// Name is the name of the binary.
var Name = "clippy-service"

// Version is the semantic version, set via -ldflags at build time.
var Version = "source"

// Commit is the git commit the binary was built from, set via -ldflags.
var Commit = "unknown"

// HumanVersion is the version string shown to users.
var HumanVersion = fmt.Sprintf("%s %s (%s)", Name, Version, Commit)
