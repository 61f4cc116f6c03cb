// Package prompts serves the versioned scoring prompts and enforces the
// job-pinned hash contract: a job may pin the exact sha256 of the prompt text
// it must be scored with, and a mismatch aborts the stage instead of silently
// scoring with drifted instructions.
package prompts

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

//go:embed files
var files embed.FS

// Fixed prompt paths, versioned in the filename.
const (
	VisionCTR    = "vision-ctr/v1.0.md"
	VisionPDP    = "vision-pdp/v1.0.md"
	TextAlign    = "text-alignment/v1.0.md"
	AvatarPrompt = "avatar-explanation/v1.0.md"
)

// IntegrityError means the loaded prompt does not match the hash the job was
// pinned to. It is configuration drift, not provider flakiness: callers must
// let it propagate instead of falling back to heuristics.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("prompt hash mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Integrity records which prompt version a stage actually used.
type Integrity struct {
	Path         string `json:"path"`
	HashSHA256   string `json:"hash_sha256"`
	ExpectedHash string `json:"expected_hash_sha256,omitempty"`
	Validated    bool   `json:"validated"`
}

// Library loads embedded prompts. The zero value is not usable; use Default.
type Library struct {
	fs embed.FS
}

func Default() *Library { return &Library{fs: files} }

func (l *Library) Load(relPath string) (string, error) {
	b, err := l.fs.ReadFile("files/" + relPath)
	if err != nil {
		return "", errors.Wrapf(err, "load prompt %s", relPath)
	}
	return string(b), nil
}

// LoadWithIntegrity loads a prompt and checks it against the job's pinned
// hashes, if any. pinned is the job's prompt_versions_pinned map; nil means
// nothing is pinned and every prompt passes.
func (l *Library) LoadWithIntegrity(pinned map[string]any, relPath string) (string, Integrity, error) {
	prompt, err := l.Load(relPath)
	if err != nil {
		return "", Integrity{}, err
	}
	sum := sha256.Sum256([]byte(prompt))
	actual := hex.EncodeToString(sum[:])

	expected := expectedHash(pinned, relPath)
	if expected != "" && expected != actual {
		return "", Integrity{}, &IntegrityError{Path: relPath, Expected: expected, Actual: actual}
	}
	return prompt, Integrity{
		Path:         relPath,
		HashSHA256:   actual,
		ExpectedHash: expected,
		Validated:    expected != "",
	}, nil
}

var sha256HexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

func normalizeHash(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !sha256HexRe.MatchString(s) {
		return ""
	}
	return s
}

// expectedHash resolves a pin for relPath in priority order: exact path at the
// top level, exact path under the nested "prompt_hashes" map, then the short
// top-level key (the path's first segment), then the short key nested.
func expectedHash(pinned map[string]any, relPath string) string {
	if pinned == nil {
		return ""
	}
	if h := normalizeHash(pinned[relPath]); h != "" {
		return h
	}
	nested, _ := pinned["prompt_hashes"].(map[string]any)
	if nested != nil {
		if h := normalizeHash(nested[relPath]); h != "" {
			return h
		}
	}
	short, _, _ := strings.Cut(relPath, "/")
	if h := normalizeHash(pinned[short]); h != "" {
		return h
	}
	if nested != nil {
		if h := normalizeHash(nested[short]); h != "" {
			return h
		}
	}
	return ""
}
