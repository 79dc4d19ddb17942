// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"slices"
	"strings"
)

// MinimalUniquePaths returns, for each path, the minimal part of it that distinguishes it from the others:
//
//   - A single path is returned as is.
//   - If the path differs from the others in only one component, that component.
//   - If it differs in more than one component, the first and last of them joined by "...".
//   - If it doesn't differ from the others in any of the shared components, its last component.
func MinimalUniquePaths(paths ...string) []string {
	if len(paths) <= 1 {
		return paths
	}
	split := make([][]string, len(paths))
	for ii, p := range paths {
		split[ii] = strings.Split(filepath.Clean(p), string(filepath.Separator))
	}

	result := make([]string, len(paths))
	for ii, parts := range split {
		var diffs []int
		for jj, other := range split {
			if ii == jj {
				continue
			}
			for kk := range min(len(parts), len(other)) {
				if parts[kk] != other[kk] && !slices.Contains(diffs, kk) {
					diffs = append(diffs, kk)
				}
			}
		}
		slices.Sort(diffs)
		switch len(diffs) {
		case 0:
			result[ii] = parts[len(parts)-1]
		case 1:
			result[ii] = parts[diffs[0]]
		default:
			result[ii] = parts[diffs[0]] + "..." + parts[diffs[len(diffs)-1]]
		}
	}
	return result
}
