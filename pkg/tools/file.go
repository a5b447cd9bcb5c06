package tools

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultReadLimit = 2000
	maxLineLength    = 1 << 20
)

type fileReadInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"` // 1-based first line
	Limit  int    `json:"limit,omitempty"`  // max lines
}

func (e *Executor) fileRead(workdir string, input json.RawMessage) Result {
	var in fileReadInput
	if err := json.Unmarshal(input, &in); err != nil {
		return fail("invalid file_read input: %v", err)
	}
	if in.Path == "" {
		return fail("file_read requires a path")
	}

	resolved, err := resolvePath(workdir, in.Path)
	if err != nil {
		return fail("%v", err)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return fail("cannot read %s: %v", in.Path, err)
	}
	defer f.Close()

	offset := in.Offset
	if offset < 1 {
		offset = 1
	}
	limit := in.Limit
	if limit < 1 {
		limit = defaultReadLimit
	}

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	lineno := 0
	emitted := 0
	for scanner.Scan() {
		lineno++
		if lineno < offset {
			continue
		}
		if emitted >= limit {
			break
		}
		fmt.Fprintf(&b, "%-6d\t%s\n", lineno, scanner.Text())
		emitted++
	}
	if err := scanner.Err(); err != nil {
		return fail("reading %s: %v", in.Path, err)
	}
	if emitted == 0 {
		return ok("(no lines in requested range)")
	}
	return ok(b.String())
}

type fileWriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (e *Executor) fileWrite(workdir string, input json.RawMessage) Result {
	var in fileWriteInput
	if err := json.Unmarshal(input, &in); err != nil {
		return fail("invalid file_write input: %v", err)
	}
	if in.Path == "" {
		return fail("file_write requires a path")
	}

	resolved, err := resolvePath(workdir, in.Path)
	if err != nil {
		return fail("%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fail("creating parent directory for %s: %v", in.Path, err)
	}
	if err := os.WriteFile(resolved, []byte(in.Content), 0o644); err != nil {
		return fail("writing %s: %v", in.Path, err)
	}
	return ok(fmt.Sprintf("Successfully wrote %d bytes to %s", len(in.Content), in.Path))
}
