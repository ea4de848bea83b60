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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/sheeptech/crader/pkg/model"
)

// languageSpec binds a tree-sitter grammar to the set of node types that
// should become chunk nodes, and the node types that define an
// intra-file "defines" relationship (method -> enclosing class/struct).
type languageSpec struct {
	grammar        *sitter.Language
	chunkNodeTypes map[string]model.ChunkType
	classNodeTypes map[string]struct{}
	callNodeTypes  map[string]struct{}
	nameField      string
}

var extensionToLanguage = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
}

var languageSpecs = map[string]languageSpec{
	"go": {
		grammar: golang.GetLanguage(),
		chunkNodeTypes: map[string]model.ChunkType{
			"function_declaration": model.ChunkFunction,
			"method_declaration":   model.ChunkMethod,
			"type_declaration":     model.ChunkClass,
		},
		classNodeTypes: set("type_declaration"),
		callNodeTypes:  set("call_expression"),
	},
	"python": {
		grammar: python.GetLanguage(),
		chunkNodeTypes: map[string]model.ChunkType{
			"function_definition": model.ChunkFunction,
			"class_definition":    model.ChunkClass,
		},
		classNodeTypes: set("class_definition"),
		callNodeTypes:  set("call"),
	},
	"javascript": {
		grammar: javascript.GetLanguage(),
		chunkNodeTypes: map[string]model.ChunkType{
			"function_declaration": model.ChunkFunction,
			"method_definition":    model.ChunkMethod,
			"class_declaration":    model.ChunkClass,
		},
		classNodeTypes: set("class_declaration"),
		callNodeTypes:  set("call_expression"),
	},
	"typescript": {
		grammar: typescript.GetLanguage(),
		chunkNodeTypes: map[string]model.ChunkType{
			"function_declaration": model.ChunkFunction,
			"method_definition":    model.ChunkMethod,
			"class_declaration":    model.ChunkClass,
			"interface_declaration": model.ChunkClass,
		},
		classNodeTypes: set("class_declaration", "interface_declaration"),
		callNodeTypes:  set("call_expression"),
	},
}

func set(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}

	return m
}

// LanguageForPath returns the detected language identifier for a file
// path, or "" if unsupported.
func LanguageForPath(path string) string {
	ext := strings.ToLower(extOf(path))
	return extensionToLanguage[ext]
}

func extOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}

	return path[idx:]
}
