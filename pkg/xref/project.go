// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package xref

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// marker associates a project-root file marker with the language whose
// indexer tool should be run against that root.
type marker struct {
	file     string
	language string
}

// projectMarkers generalizes the teacher's Go-only package grouping
// (CallResolver.packageIndex keys off filepath.Dir for .go files) to the
// multi-language marker scan spec.md §4.5 calls for.
var projectMarkers = []marker{
	{file: "go.mod", language: "go"},
	{file: "package.json", language: "javascript"},
	{file: "pyproject.toml", language: "python"},
	{file: "Cargo.toml", language: "rust"},
}

// Project is one discovered project root and its dominant language.
type Project struct {
	Root     string
	Language string
}

var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"dist":         {},
	"build":        {},
	"venv":         {},
	".venv":        {},
	"vendor":       {},
}

// DiscoverProjects walks worktreeRoot looking for project markers,
// returning one Project per directory where a marker file is found. A
// directory that matches more than one marker is reported once per
// marker, since spec.md §4.5 drives one indexer invocation per
// language/project-root pair.
func DiscoverProjects(worktreeRoot string) ([]Project, error) {
	var projects []Project

	err := filepath.WalkDir(worktreeRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && path != worktreeRoot {
				return filepath.SkipDir
			}

			return nil
		}

		for _, m := range projectMarkers {
			if d.Name() == m.file {
				projects = append(projects, Project{Root: filepath.Dir(path), Language: m.language})
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(projects, func(i, j int) bool {
		if projects[i].Root != projects[j].Root {
			return projects[i].Root < projects[j].Root
		}

		return projects[i].Language < projects[j].Language
	})

	return projects, nil
}
