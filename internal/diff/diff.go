// Package diff resolves patch hunks against a file's pre-image and splices
// in the replacements. Every hunk is located independently against the
// original pre-image; a hunk whose anchor matches nowhere or in more than
// one place fails the whole resolution rather than guessing.
package diff

import (
	"fmt"
	"sort"
	"strings"
)

// Hunk is one localized edit within a patch operation. OldLines is the text
// the hunk replaces, including any unchanged context lines; NewLines is the
// replacement, with the same context lines retained. StartLine anchors the
// hunk at an explicit 1-based line; when zero, OldLines must match exactly
// one location in the pre-image.
type Hunk struct {
	StartLine int
	OldLines  []string
	NewLines  []string
}

// ResolveError carries the failing hunk and the reason its anchor could not
// be placed.
type ResolveError struct {
	HunkIndex int
	Reason    Reason
	Detail    string
}

// Reason classifies a hunk resolution failure.
type Reason int

const (
	ReasonNotFound  Reason = iota // anchor matched zero locations
	ReasonAmbiguous               // anchor matched more than one location
	ReasonMismatch                // explicit line anchor does not match OldLines
	ReasonOverlap                 // two hunks target overlapping regions
	ReasonEmpty                   // hunk has no old lines to anchor on
)

func (r Reason) String() string {
	switch r {
	case ReasonNotFound:
		return "anchor not found"
	case ReasonAmbiguous:
		return "anchor not unique"
	case ReasonMismatch:
		return "line anchor mismatch"
	case ReasonOverlap:
		return "hunks overlap"
	case ReasonEmpty:
		return "empty hunk"
	}
	return "unknown"
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("hunk %d: %s", e.HunkIndex+1, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// region is a resolved hunk: line positions in the pre-image.
type region struct {
	startLine int // 0-indexed first line
	endLine   int // 0-indexed last line (inclusive)
	newLines  []string
}

// Resolve locates every hunk in the pre-image, validates uniqueness and
// overlap, and returns the post-image. All hunks are anchored against the
// original pre-image, then applied bottom-to-top so positions do not shift.
// No partial result is returned: one bad hunk fails the whole patch.
func Resolve(pre []string, hunks []Hunk) ([]string, error) {
	if len(hunks) == 0 {
		return pre, nil
	}

	regions := make([]region, len(hunks))
	for i, h := range hunks {
		if len(h.OldLines) == 0 {
			return nil, &ResolveError{HunkIndex: i, Reason: ReasonEmpty}
		}

		var start int
		if h.StartLine > 0 {
			// Explicit 1-based anchor: verify OldLines against the pre-image.
			start = h.StartLine - 1
			if start+len(h.OldLines) > len(pre) {
				return nil, &ResolveError{HunkIndex: i, Reason: ReasonMismatch,
					Detail: fmt.Sprintf("line %d past end of file", h.StartLine)}
			}
			for j, old := range h.OldLines {
				if !linesEqual(pre[start+j], old) {
					return nil, &ResolveError{HunkIndex: i, Reason: ReasonMismatch,
						Detail: fmt.Sprintf("line %d differs", start+j+1)}
				}
			}
		} else {
			pos, err := findAnchor(pre, h.OldLines)
			if err != nil {
				err.HunkIndex = i
				return nil, err
			}
			start = pos
		}

		regions[i] = region{
			startLine: start,
			endLine:   start + len(h.OldLines) - 1,
			newLines:  h.NewLines,
		}
	}

	// Sort indices by start line for the overlap check.
	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return regions[order[a]].startLine < regions[order[b]].startLine
	})

	for i := 1; i < len(order); i++ {
		prev := regions[order[i-1]]
		curr := regions[order[i]]
		if curr.startLine <= prev.endLine {
			return nil, &ResolveError{HunkIndex: order[i], Reason: ReasonOverlap,
				Detail: fmt.Sprintf("lines %d-%d and %d-%d",
					prev.startLine+1, prev.endLine+1, curr.startLine+1, curr.endLine+1)}
		}
	}

	// Apply bottom-to-top so line numbers don't shift.
	sort.Slice(order, func(a, b int) bool {
		return regions[order[a]].startLine > regions[order[b]].startLine
	})

	result := make([]string, len(pre))
	copy(result, pre)

	for _, idx := range order {
		r := regions[idx]
		spliced := make([]string, 0, len(result)-(r.endLine-r.startLine+1)+len(r.newLines))
		spliced = append(spliced, result[:r.startLine]...)
		spliced = append(spliced, r.newLines...)
		spliced = append(spliced, result[r.endLine+1:]...)
		result = spliced
	}

	return result, nil
}

// findAnchor searches for a consecutive sequence of anchor lines in the
// pre-image. Uses two-pass matching: exact first, then trailing whitespace
// trimmed. The match must be unique.
func findAnchor(lines, anchor []string) (int, *ResolveError) {
	matches := findConsecutive(lines, anchor, func(a, b string) bool {
		return a == b
	})
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return 0, &ResolveError{Reason: ReasonAmbiguous, Detail: "lines " + formatLineNumbers(matches)}
	}

	// Second pass: trailing whitespace trimmed.
	matches = findConsecutive(lines, anchor, func(a, b string) bool {
		return strings.TrimRight(a, " \t\r") == strings.TrimRight(b, " \t\r")
	})
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return 0, &ResolveError{Reason: ReasonAmbiguous, Detail: "lines " + formatLineNumbers(matches)}
	}

	return 0, &ResolveError{Reason: ReasonNotFound}
}

// findConsecutive finds all positions where anchor lines match consecutively,
// using the given comparison function.
func findConsecutive(lines, anchor []string, eq func(string, string) bool) []int {
	var matches []int
	limit := len(lines) - len(anchor) + 1
	for i := 0; i < limit; i++ {
		found := true
		for j, a := range anchor {
			if !eq(lines[i+j], a) {
				found = false
				break
			}
		}
		if found {
			matches = append(matches, i)
		}
	}
	return matches
}

func linesEqual(a, b string) bool {
	if a == b {
		return true
	}
	return strings.TrimRight(a, " \t\r") == strings.TrimRight(b, " \t\r")
}

func formatLineNumbers(positions []int) string {
	parts := make([]string, len(positions))
	for i, p := range positions {
		parts[i] = fmt.Sprintf("%d", p+1) // 1-indexed for user display
	}
	return strings.Join(parts, ", ")
}

// SplitLines splits file content into lines. Handles both LF and CRLF.
// A trailing newline does not produce an extra empty line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// JoinLines joins lines back into file content with a trailing newline.
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
