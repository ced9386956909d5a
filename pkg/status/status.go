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

// Package status holds the status/color mapping shared by the job
// coordinator (which computes it once, at publish time) and the request
// handlers (which recompute it from the persisted result text on every
// read), so the badge a reader sees always encodes the same text stored in
// the result record.
package status

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Manishearth/clippy-service/pkg/linter"
)

// ForResult derives (text, color) from a terminal lint result.
func ForResult(result linter.Result) (text, color string) {
	switch result.State {
	case linter.EndedFine:
		return "success", "brightgreen"
	case linter.EndedWithWarnings:
		return fmt.Sprintf("%d warnings", result.Warnings), warningColor(result.Warnings)
	default:
		return "failed", "red"
	}
}

// warningColor buckets a warning count. The comparisons are half-open at
// the upper end: 5 falls in the first bucket.
func warningColor(w int) string {
	switch {
	case w <= 5:
		return "yellowgreen"
	case w <= 10:
		return "yellow"
	case w <= 50:
		return "orange"
	default:
		return "red"
	}
}

// ForText re-derives the color from a stored result string ("success",
// "failed", "N warnings", or "N errors"), so handlers can reconstruct the
// same badge color the coordinator originally published without storing it
// twice.
func ForText(text string) (color string) {
	switch text {
	case "success":
		return "brightgreen"
	case "failed":
		return "red"
	}

	if n, ok := parseCount(text, "warnings"); ok {
		return warningColor(n)
	}
	if _, ok := parseCount(text, "errors"); ok {
		return "red"
	}

	return "red"
}

func parseCount(text, suffix string) (int, bool) {
	fields := strings.Fields(text)
	if len(fields) != 2 || fields[1] != suffix {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return n, true
}
