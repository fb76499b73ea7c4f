// Package ingest extracts edit operations from a complete markdown document,
// for responses the user copied from somewhere else instead of streaming.
// The block shape is the same hint-line convention the live parser reads, so
// pasted batches flow through the same plan and approval pipeline.
package ingest

import (
	"bytes"
	"errors"
	"regexp"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/for-yt-video/open-engineer/internal/parser"
)

// ErrEmptyClipboard is returned when /paste finds nothing to read.
var ErrEmptyClipboard = errors.New("clipboard is empty")

// hintRegex matches the backticked-path-plus-kind hint paragraph.
var hintRegex = regexp.MustCompile("^`([^`\n]+)`\\s*\\((create|replace|patch|delete)\\)$")

// codeBlock is one fenced block with its preceding hint paragraph.
type codeBlock struct {
	hint    string
	content string
}

// FromClipboard reads the system clipboard and extracts operations from it.
func FromClipboard() ([]parser.Op, string, error) {
	data, err := clipboard.ReadAll()
	if err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(data) == "" {
		return nil, "", ErrEmptyClipboard
	}
	ops, commentary := FromMarkdown([]byte(data))
	return ops, commentary, nil
}

// FromMarkdown walks the markdown AST, pairing each fenced code block with
// the paragraph immediately before it. Blocks whose hint names a path and an
// edit kind become operations; everything else stays commentary. Delete
// hints take effect even without a fenced body.
func FromMarkdown(source []byte) ([]parser.Op, string) {
	blocks := extractBlocks(source)

	var wire strings.Builder
	for _, b := range blocks {
		wire.WriteString(b.hint)
		wire.WriteString("\n```\n")
		wire.WriteString(b.content)
		if b.content != "" && !strings.HasSuffix(b.content, "\n") {
			wire.WriteString("\n")
		}
		wire.WriteString("```\n")
	}

	// Delete operations carry no body, so goldmark sees only a paragraph.
	// Scan standalone hint lines that no fenced block claimed.
	for _, line := range strings.Split(string(source), "\n") {
		trimmed := strings.TrimSpace(line)
		if m := hintRegex.FindStringSubmatch(trimmed); m != nil && m[2] == "delete" {
			if !claimed(blocks, trimmed) {
				wire.WriteString(trimmed)
				wire.WriteString("\n```\n```\n")
			}
		}
	}

	p := parser.New()
	p.Feed(wire.String())
	// Inputs are whole documents; an open block means the source was
	// truncated. The closed operations before it are still usable.
	_ = p.Finish()
	return p.Ops(), commentaryOf(source, blocks)
}

func claimed(blocks []codeBlock, hint string) bool {
	for _, b := range blocks {
		if b.hint == hint {
			return true
		}
	}
	return false
}

// extractBlocks collects fenced code blocks whose preceding paragraph is a
// valid hint line.
func extractBlocks(source []byte) []codeBlock {
	var blocks []codeBlock
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	walker := func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		prev := fenced.PreviousSibling()
		para, ok := prev.(*ast.Paragraph)
		if !ok {
			return ast.WalkSkipChildren, nil
		}
		// ast.Paragraph.Text drops the backticks around the path, so read
		// the hint from the raw source line instead.
		hint := rawHint(source, para)
		if !hintRegex.MatchString(hint) {
			return ast.WalkSkipChildren, nil
		}

		var content bytes.Buffer
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			content.Write(seg.Value(source))
		}
		blocks = append(blocks, codeBlock{hint: hint, content: content.String()})
		return ast.WalkSkipChildren, nil
	}

	if err := ast.Walk(root, walker); err != nil {
		return nil
	}
	return blocks
}

// rawHint returns the paragraph's last raw source line, trimmed. Hints are
// single lines, but a paragraph may merge the hint with preceding prose.
func rawHint(source []byte, para *ast.Paragraph) string {
	lines := para.Lines()
	if lines.Len() == 0 {
		return ""
	}
	seg := lines.At(lines.Len() - 1)
	return strings.TrimSpace(string(seg.Value(source)))
}

// commentaryOf strips claimed blocks and hint lines out of the document,
// leaving the prose for display.
func commentaryOf(source []byte, blocks []codeBlock) string {
	doc := string(source)
	for _, b := range blocks {
		doc = strings.Replace(doc, b.content, "", 1)
		doc = strings.Replace(doc, b.hint, "", 1)
	}
	var out []string
	inFence := false
	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || hintRegex.MatchString(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
