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
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	craderrors "github.com/sheeptech/crader/internal/errors"
	"github.com/sheeptech/crader/pkg/model"
)

// record is the wire shape of one occurrence on the indexer subprocess's
// stdout: a uint32 big-endian length prefix followed by that many bytes
// of JSON, per the cross-reference indexer contract (spec.md §6). Real
// SCIP-style tools would emit a protobuf payload here; JSON keeps the
// wire format self-describing and is what the rest of this module's
// tooling (manifest persistence, etc.) already standardizes on.
type record struct {
	Symbol string `json:"symbol"`
	File   string `json:"file"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Role   uint8  `json:"role"`
}

// Tool describes how to invoke one language's indexer subprocess.
type Tool struct {
	// Binary is the executable name or path, e.g. "scip-go".
	Binary string
	// Args are appended after the project root argument.
	Args []string
	// Timeout bounds one invocation; zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout matches the bound the teacher applies to git subprocess
// calls in pkg/tools/git.go.
const DefaultTimeout = 5 * time.Minute

// Run invokes tool against projectRoot and streams decoded occurrences to
// out. It returns once the subprocess exits or the context/timeout fires;
// a non-zero exit or malformed stream is reported as KindIndexerTool so
// the caller can record-and-continue per spec.md §7 rather than aborting
// the whole snapshot.
func Run(ctx context.Context, logger *slog.Logger, tool Tool, projectRoot string, out chan<- Occurrence) error {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{projectRoot}, tool.Args...)
	cmd := exec.CommandContext(runCtx, tool.Binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return craderrors.New(craderrors.KindIndexerTool, "xref.Run.pipe", err)
	}

	var stderr bytesCapture

	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return craderrors.New(craderrors.KindIndexerTool, "xref.Run.start", err)
	}

	logger.Info("cross-reference indexer started", "binary", tool.Binary, "root", projectRoot)

	reader := bufio.NewReader(stdout)
	n := 0

	for {
		occ, err := readRecord(reader)
		if err == io.EOF {
			break
		}

		if err != nil {
			_ = cmd.Wait()
			return craderrors.New(craderrors.KindIndexerTool, "xref.Run.decode", err)
		}

		n++

		select {
		case out <- occ:
		case <-runCtx.Done():
			_ = cmd.Wait()
			return classifyWaitErr(runCtx, tool, runCtx.Err())
		}
	}

	if err := cmd.Wait(); err != nil {
		return classifyWaitErr(runCtx, tool, fmt.Errorf("%s: %w (stderr: %s)", tool.Binary, err, stderr.String()))
	}

	logger.Info("cross-reference indexer finished", "binary", tool.Binary, "root", projectRoot, "occurrences", n)

	return nil
}

func classifyWaitErr(ctx context.Context, tool Tool, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return craderrors.Newf(craderrors.KindIndexerTool, "xref.Run", "%s timed out: %v", tool.Binary, err)
	}

	return craderrors.New(craderrors.KindIndexerTool, "xref.Run", err)
}

func readRecord(r *bufio.Reader) (Occurrence, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Occurrence{}, err
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Occurrence{}, fmt.Errorf("read record payload: %w", err)
	}

	var rec record
	if err := json.Unmarshal(buf, &rec); err != nil {
		return Occurrence{}, fmt.Errorf("decode record: %w", err)
	}

	return Occurrence{
		Symbol:    rec.Symbol,
		File:      rec.File,
		ByteRange: model.ByteRange{Start: rec.Start, End: rec.End},
		Role:      RoleMask(rec.Role),
	}, nil
}

type bytesCapture struct {
	buf []byte
}

func (b *bytesCapture) Write(p []byte) (int, error) {
	if len(b.buf) > 8192 {
		return len(p), nil
	}

	b.buf = append(b.buf, p...)

	return len(p), nil
}

func (b *bytesCapture) String() string {
	return string(b.buf)
}
