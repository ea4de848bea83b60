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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sheeptech/crader/pkg/model"
)

func fakeLookup(known map[string]string) NodeLookup {
	return func(file string, r model.ByteRange) (string, bool) {
		id, ok := known[lookupKey(file, r)]
		return id, ok
	}
}

func lookupKey(file string, r model.ByteRange) string {
	return fmt.Sprintf("%s:%d-%d", file, r.Start, r.End)
}

func TestResolver_ResolveEdges_InTreeDefinition(t *testing.T) {
	dir := t.TempDir()

	r, err := NewResolver(dir, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	defer r.Close()

	defRange := model.ByteRange{Start: 10, End: 20}
	callRange := model.ByteRange{Start: 100, End: 110}

	known := map[string]string{
		lookupKey("pkg/a.go", defRange):  "node:def",
		lookupKey("pkg/b.go", callRange): "node:call",
	}

	occurrences := []Occurrence{
		{Symbol: "DoThing", File: "pkg/a.go", ByteRange: defRange, Role: RoleDefines},
		{Symbol: "DoThing", File: "pkg/b.go", ByteRange: callRange, Role: 0},
	}

	if err := r.IndexDefinitions(occurrences); err != nil {
		t.Fatalf("IndexDefinitions: %v", err)
	}

	edges, err := r.ResolveEdges(occurrences, fakeLookup(known))
	if err != nil {
		t.Fatalf("ResolveEdges: %v", err)
	}

	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}

	if edges[0].SourceNodeID != "node:call" || edges[0].TargetNodeID != "node:def" {
		t.Errorf("unexpected edge: %+v", edges[0])
	}

	if edges[0].RelationType != model.RelationCalls {
		t.Errorf("expected calls relation, got %s", edges[0].RelationType)
	}
}

func TestResolver_ResolveEdges_ExternalSentinel(t *testing.T) {
	dir := t.TempDir()

	r, err := NewResolver(dir, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	defer r.Close()

	callRange := model.ByteRange{Start: 5, End: 9}
	known := map[string]string{lookupKey("pkg/b.go", callRange): "node:call"}

	occurrences := []Occurrence{
		{Symbol: "fmt.Println", File: "pkg/b.go", ByteRange: callRange, Role: 0},
	}

	edges, err := r.ResolveEdges(occurrences, fakeLookup(known))
	if err != nil {
		t.Fatalf("ResolveEdges: %v", err)
	}

	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}

	if edges[0].TargetNodeID != model.ExternalSentinelID("fmt.Println") {
		t.Errorf("expected external sentinel target, got %s", edges[0].TargetNodeID)
	}
}

func TestResolver_ResolveEdges_DropsSelfLoop(t *testing.T) {
	dir := t.TempDir()

	r, err := NewResolver(dir, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	defer r.Close()

	selfRange := model.ByteRange{Start: 1, End: 2}
	known := map[string]string{lookupKey("pkg/a.go", selfRange): "node:self"}

	occurrences := []Occurrence{
		{Symbol: "Recurse", File: "pkg/a.go", ByteRange: selfRange, Role: RoleDefines},
		{Symbol: "Recurse", File: "pkg/a.go", ByteRange: selfRange, Role: 0},
	}

	if err := r.IndexDefinitions(occurrences); err != nil {
		t.Fatalf("IndexDefinitions: %v", err)
	}

	edges, err := r.ResolveEdges(occurrences, fakeLookup(known))
	if err != nil {
		t.Fatalf("ResolveEdges: %v", err)
	}

	if len(edges) != 0 {
		t.Fatalf("expected self-loop to be dropped, got %d edges", len(edges))
	}
}

func TestResolver_ResolveEdges_DropsUnresolvedSource(t *testing.T) {
	dir := t.TempDir()

	r, err := NewResolver(dir, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	defer r.Close()

	occurrences := []Occurrence{
		{Symbol: "Ghost", File: "pkg/missing.go", ByteRange: model.ByteRange{Start: 0, End: 1}, Role: 0},
	}

	edges, err := r.ResolveEdges(occurrences, fakeLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("ResolveEdges: %v", err)
	}

	if len(edges) != 0 {
		t.Fatalf("expected unresolved source occurrence to be dropped, got %d edges", len(edges))
	}
}

func TestDiscoverProjects(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root+"/go.mod", "module example.com/x\n")
	writeFile(t, root+"/frontend/package.json", "{}")
	writeFile(t, root+"/node_modules/pkg/package.json", "{}")

	projects, err := DiscoverProjects(root)
	if err != nil {
		t.Fatalf("DiscoverProjects: %v", err)
	}

	if len(projects) != 2 {
		t.Fatalf("expected 2 projects (node_modules excluded), got %d: %+v", len(projects), projects)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
