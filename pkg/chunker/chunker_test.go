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

package chunker

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheeptech/crader/pkg/model"
)

const goSource = `package sample

import "fmt"

// Add returns the sum of a and b.
func Add(a, b int) int {
	return a + b
}

type Greeter struct {
	Name string
}

func (g *Greeter) Greet() string {
	fmt.Println(g.Name)
	return "hi " + g.Name
}
`

func totalCoverage(result Result, size int) bool {
	covered := make([]bool, size)
	for _, n := range result.Nodes {
		for i := n.ByteRange.Start; i < n.ByteRange.End; i++ {
			covered[i] = true
		}
	}

	for _, c := range covered {
		if !c {
			return false
		}
	}

	return true
}

func TestParseFile_GoFunctionsAndMethods(t *testing.T) {
	c := New()
	result, err := c.ParseFile(context.Background(), "snap1", "file1", "sample.go", []byte(goSource))
	require.NoError(t, err)
	assert.Equal(t, model.ParsingSuccess, result.File.ParsingStatus)

	var funcNames []model.ChunkType
	for _, n := range result.Nodes {
		funcNames = append(funcNames, n.Type)
	}
	assert.Contains(t, funcNames, model.ChunkFunction)
	assert.Contains(t, funcNames, model.ChunkMethod)
	assert.Contains(t, funcNames, model.ChunkClass)
}

func TestParseFile_CoverageInvariant(t *testing.T) {
	c := New()
	result, err := c.ParseFile(context.Background(), "snap1", "file1", "sample.go", []byte(goSource))
	require.NoError(t, err)
	assert.True(t, totalCoverage(result, len(goSource)), "union of chunk byte ranges must cover the whole file")
}

func TestParseFile_DefinesEdgeFromMethodToClass(t *testing.T) {
	c := New()
	result, err := c.ParseFile(context.Background(), "snap1", "file1", "sample.go", []byte(goSource))
	require.NoError(t, err)

	found := false
	for _, e := range result.Edges {
		if e.RelationType == model.RelationDefines {
			found = true
		}
	}
	assert.True(t, found, "expected a defines edge from the struct to its method")
}

func TestParseFile_CallEdgeToExternalSentinel(t *testing.T) {
	c := New()
	result, err := c.ParseFile(context.Background(), "snap1", "file1", "sample.go", []byte(goSource))
	require.NoError(t, err)

	found := false
	for _, e := range result.Edges {
		if e.RelationType == model.RelationCalls && e.TargetNodeID == model.ExternalSentinelID("Println") {
			found = true
		}
	}
	assert.True(t, found, "expected a calls edge to the external Println sentinel")
}

func TestParseFile_UnsupportedLanguageYieldsFiller(t *testing.T) {
	c := New()
	result, err := c.ParseFile(context.Background(), "snap1", "file2", "README.rst", []byte("hello world"))
	require.NoError(t, err)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, model.ChunkFiller, result.Nodes[0].Type)
	assert.Equal(t, model.ParsingSkipped, result.File.ParsingStatus)
	assert.NotEmpty(t, result.File.ParsingError)
}

func TestParseFile_EmptyFile(t *testing.T) {
	c := New()
	result, err := c.ParseFile(context.Background(), "snap1", "file3", "empty.go", []byte{})
	require.NoError(t, err)
	assert.Empty(t, result.Nodes)
	assert.Equal(t, model.ParsingSkipped, result.File.ParsingStatus)
	assert.NotEmpty(t, result.File.ParsingError)
}

func TestParseFile_BinaryDetection(t *testing.T) {
	c := New()
	raw := []byte{0x50, 0x4b, 0x03, 0x04, 0x00, 0x00}
	result, err := c.ParseFile(context.Background(), "snap1", "file4", "archive.go", raw)
	require.NoError(t, err)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, model.ChunkFiller, result.Nodes[0].Type)
	assert.Equal(t, model.ParsingSkipped, result.File.ParsingStatus)
	assert.Contains(t, result.File.ParsingError, "Binary")
}

func TestParseFile_TooLarge(t *testing.T) {
	c := New()
	raw := bytes.Repeat([]byte("a"), MaxFileSize+1)
	result, err := c.ParseFile(context.Background(), "snap1", "file5", "heavy.go", raw)
	require.NoError(t, err)
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, model.ParsingSkipped, result.File.ParsingStatus)
	assert.Contains(t, result.File.ParsingError, "too large")
}

func TestParseFile_SyntaxErrorNodesDoNotFailTheFile(t *testing.T) {
	c := New()
	badSource := `package main

func f( {
	return
}
`
	result, err := c.ParseFile(context.Background(), "snap1", "file6", "bad_syntax.go", []byte(badSource))
	require.NoError(t, err)
	assert.Equal(t, model.ParsingSuccess, result.File.ParsingStatus)
	assert.Empty(t, result.File.ParsingError)

	var sawFlagged bool
	for _, n := range result.Nodes {
		if n.HasParseErrors {
			sawFlagged = true
		}
	}
	assert.True(t, sawFlagged, "expected at least one chunk tagged HasParseErrors")
}

func TestLanguageForPath(t *testing.T) {
	assert.Equal(t, "go", LanguageForPath("main.go"))
	assert.Equal(t, "python", LanguageForPath("pkg/a/b.py"))
	assert.Equal(t, "typescript", LanguageForPath("app.tsx"))
	assert.Equal(t, "", LanguageForPath("Makefile"))
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, model.CategoryTest, categorize("foo_test.go"))
	assert.Equal(t, model.CategoryDocs, categorize("README.md"))
	assert.Equal(t, model.CategoryConfig, categorize("config.yaml"))
	assert.Equal(t, model.CategorySource, categorize("main.go"))
	assert.Equal(t, model.CategoryOther, categorize("LICENSE"))
}
