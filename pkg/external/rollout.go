// Package external attaches sessions created by external agent CLIs
// (Codex, Claude Code, pi) and syncs their on-disk rollout files into the
// session history.
package external

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RolloutRecord is one conversation entry parsed from a rollout file.
type RolloutRecord struct {
	Role string
	Text string
}

// rolloutLine is the tolerant JSONL shape. The format is external and
// versioned; unknown record types and malformed lines are skipped so newer
// writers do not break sync.
type rolloutLine struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ParseRollout reads a JSONL rollout file and returns its message records
// in file order.
func ParseRollout(path string) ([]RolloutRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rollout file: %w", err)
	}
	defer f.Close()

	var out []RolloutRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec rolloutLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Type != "message" {
			continue
		}
		if rec.Role != "user" && rec.Role != "assistant" {
			continue
		}
		text := decodeRolloutContent(rec.Content)
		if text == "" {
			continue
		}
		out = append(out, RolloutRecord{Role: rec.Role, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading rollout file: %w", err)
	}
	return out, nil
}

// decodeRolloutContent accepts either a plain string or an array of
// {type:"text"|"input_text"|"output_text", text:...} blocks.
func decodeRolloutContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text", "input_text", "output_text":
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Locator finds rollout files for known external runners under the user's
// home directory. The root is overridable for tests.
type Locator struct {
	Root string // defaults to the user home dir
}

// Locate returns the rollout file for an external session id, searching the
// runner's conventional session directory.
func (l *Locator) Locate(runnerType, externalID string) (string, error) {
	root := l.Root
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		root = home
	}

	var searchDirs []string
	switch runnerType {
	case "claude-code":
		searchDirs = []string{filepath.Join(root, ".claude", "projects")}
	case "codex":
		searchDirs = []string{filepath.Join(root, ".codex", "sessions")}
	case "pi":
		searchDirs = []string{filepath.Join(root, ".pi", "sessions")}
	default:
		return "", fmt.Errorf("unknown runner type %q", runnerType)
	}

	for _, dir := range searchDirs {
		var found string
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if strings.Contains(d.Name(), externalID) && strings.HasSuffix(d.Name(), ".jsonl") {
				found = path
				return filepath.SkipAll
			}
			return nil
		})
		if err == nil && found != "" {
			return found, nil
		}
	}
	return "", fmt.Errorf("rollout file for %s/%s not found", runnerType, externalID)
}
