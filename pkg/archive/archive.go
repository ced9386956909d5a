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

// Package archive unzips a downloaded repository archive into a scoped
// temporary directory.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrKind classifies why extraction failed.
type ErrKind int

const (
	// Invalid means the byte stream is not a readable zip archive (including
	// an unreadable central directory), or an entry escapes the scope
	// directory.
	Invalid ErrKind = iota
	// Unsupported means the archive uses a feature this reader can't parse.
	Unsupported
	// Corrupt means the zip reader reported a checksum mismatch.
	Corrupt
	// IO means a file could not be written to the scope directory.
	IO
)

// ExtractError wraps a zip extraction failure with its classification.
type ExtractError struct {
	Kind ErrKind
	Err  error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract: %s", e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Scope owns a temporary directory for one extraction and guarantees its
// removal on every exit path, including panics; callers must defer
// Scope.Close() immediately after a successful NewScope.
type Scope struct {
	Dir string
}

// NewScope creates a fresh temporary directory named after the given
// pattern (e.g. "github_{owner}_{repo}_{sha}").
func NewScope(pattern string) (*Scope, error) {
	dir, err := os.MkdirTemp("", pattern+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scope directory: %w", err)
	}
	return &Scope{Dir: dir}, nil
}

// Close removes the entire scope directory tree. Safe to call on a nil
// Scope or to call twice.
func (s *Scope) Close() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("failed to remove scope directory: %w", err)
	}
	return nil
}

// ExtractZip unzips data into scopeDir, preserving the archive's relative
// paths. Zero-length entries are treated as directories; non-empty entries
// are written as regular files. The returned slice contains only the
// non-directory entries' absolute paths.
func ExtractZip(data []byte, scopeDir string) ([]string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, &ExtractError{Kind: Invalid, Err: err}
		}
		if errors.Is(err, zip.ErrAlgorithm) {
			return nil, &ExtractError{Kind: Unsupported, Err: err}
		}
		if errors.Is(err, zip.ErrChecksum) {
			return nil, &ExtractError{Kind: Corrupt, Err: err}
		}
		return nil, &ExtractError{Kind: Invalid, Err: err}
	}

	var paths []string
	for _, f := range r.File {
		fullPath := filepath.Join(scopeDir, f.Name)
		if !strings.HasPrefix(fullPath, filepath.Clean(scopeDir)+string(os.PathSeparator)) && fullPath != filepath.Clean(scopeDir) {
			return nil, &ExtractError{Kind: Invalid, Err: fmt.Errorf("entry %q escapes scope directory", f.Name)}
		}

		if f.UncompressedSize64 == 0 {
			if err := os.MkdirAll(fullPath, 0o755); err != nil {
				return nil, &ExtractError{Kind: IO, Err: err}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return nil, &ExtractError{Kind: IO, Err: err}
		}

		if err := writeEntry(f, fullPath); err != nil {
			return nil, &ExtractError{Kind: IO, Err: err}
		}
		paths = append(paths, fullPath)
	}

	return paths, nil
}

func writeEntry(f *zip.File, fullPath string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	w, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", fullPath, err)
	}
	defer w.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("failed to write %q: %w", fullPath, err)
	}
	return nil
}
