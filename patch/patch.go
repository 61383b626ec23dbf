// Package patch substitutes an anchor snippet inside file content with
// replacement text.
//
// The anchor must occur exactly once. A missing or repeated anchor is an
// error rather than a silent no-op: a no-op patch would otherwise be
// validated against unmodified content and reported as verified.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

var (
	// ErrPatchTarget is wrapped by every anchor-matching failure.
	ErrPatchTarget = errors.New("ambiguous patch target")
	// ErrAnchorNotFound means the anchor does not occur in the content.
	ErrAnchorNotFound = fmt.Errorf("%w: anchor not found", ErrPatchTarget)
	// ErrAnchorAmbiguous means the anchor occurs more than once.
	ErrAnchorAmbiguous = fmt.Errorf("%w: anchor occurs more than once", ErrPatchTarget)
	// ErrIO is wrapped by write failures.
	ErrIO = errors.New("patch i/o failure")
)

// contextLines is the number of unchanged lines around a diff hunk.
const contextLines = 3

// count returns the number of non-overlapping occurrences of anchor in
// content. An empty anchor counts as zero.
func count(content, anchor string) int {
	if anchor == "" {
		return 0
	}
	return strings.Count(content, anchor)
}

// Check reports whether anchor can be used as a patch target in content.
func Check(content, anchor string) error {
	switch n := count(content, anchor); {
	case n == 0:
		return ErrAnchorNotFound
	case n > 1:
		return fmt.Errorf("%w (%d occurrences)", ErrAnchorAmbiguous, n)
	}
	return nil
}

// Apply replaces the single occurrence of anchor in content with replacement.
func Apply(content, anchor, replacement string) (string, error) {
	if err := Check(content, anchor); err != nil {
		return content, err
	}
	return strings.Replace(content, anchor, replacement, 1), nil
}

// Write writes content to path, keeping the existing file mode.
func Write(path, content string) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrIO, path, err)
	}
	return nil
}

// UnifiedDiff renders the change from before to after as a single-hunk
// unified diff. It returns "" when the contents are equal.
func UnifiedDiff(name, before, after string) (string, error) {
	if before == after {
		return "", nil
	}
	a, b := splitLines(before), splitLines(after)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	start := max(prefix-contextLines, 0)
	trailing := min(suffix, contextLines)
	endA := len(a) - suffix + trailing
	endB := len(b) - suffix + trailing

	var body bytes.Buffer
	for _, l := range a[start:prefix] {
		body.WriteString(" " + l + "\n")
	}
	for _, l := range a[prefix : len(a)-suffix] {
		body.WriteString("-" + l + "\n")
	}
	for _, l := range b[prefix : len(b)-suffix] {
		body.WriteString("+" + l + "\n")
	}
	for _, l := range a[len(a)-suffix : endA] {
		body.WriteString(" " + l + "\n")
	}

	hunk := &diff.Hunk{
		OrigStartLine: hunkStart(start, endA-start),
		OrigLines:     int32(endA - start),
		NewStartLine:  hunkStart(start, endB-start),
		NewLines:      int32(endB - start),
		Body:          body.Bytes(),
	}
	out, err := diff.PrintFileDiff(&diff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
		Hunks:    []*diff.Hunk{hunk},
	})
	if err != nil {
		return "", fmt.Errorf("rendering diff: %w", err)
	}
	return string(out), nil
}

// hunkStart follows the unified diff convention that an empty range starts
// at the line before it.
func hunkStart(start, lines int) int32 {
	if lines == 0 {
		return int32(start)
	}
	return int32(start + 1)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
