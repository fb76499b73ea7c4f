// Package parser consumes the model's streamed text fragment-by-fragment and
// extracts file operations as soon as each block closes, without waiting for
// the stream to end.
//
// The wire format is markdown-shaped so streamed and pasted responses share
// one grammar. A file block is a hint line naming the target path and edit
// kind, followed by a fenced body:
//
//	`path/to/file.go` (replace)
//	```go
//	...verbatim content...
//	```
//
// Kinds are create, replace, patch, and delete. Patch bodies hold ordered
// hunks ("@@ -START,COUNT @@" for explicit line anchors or "@@ @@" for
// context anchors, then ' '/'-'/'+' prefixed lines). Everything outside file
// blocks is commentary.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/for-yt-video/open-engineer/internal/diff"
)

// ErrIncompleteBlock reports a stream that ended while a file block was open.
// The partial block is discarded, never emitted.
var ErrIncompleteBlock = errors.New("stream ended inside a file block")

// Kind is the edit kind declared in a block header.
type Kind int

const (
	KindCreate Kind = iota
	KindReplace
	KindPatch
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindReplace:
		return "replace"
	case KindPatch:
		return "patch"
	case KindDelete:
		return "delete"
	}
	return "unknown"
}

// Op is one parsed file operation. Immutable once emitted. A Malformed op
// carries the reason and is excluded from auto-apply but still surfaced.
type Op struct {
	Kind      Kind
	Path      string
	Content   string      // create/replace: verbatim file content
	Hunks     []diff.Hunk // patch only
	Malformed bool
	Reason    string
}

// IncompleteError describes a block that was open when the stream ended.
type IncompleteError struct {
	Path string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%v (path %q)", ErrIncompleteBlock, e.Path)
}

func (e *IncompleteError) Unwrap() error { return ErrIncompleteBlock }

var (
	// headerRegex matches a hint line: a backticked path followed by an edit
	// kind in parentheses. Paths with spaces are rejected so prose with
	// backticked commands is not mistaken for a header.
	headerRegex = regexp.MustCompile("^`([^` \n]+)`\\s*\\((create|replace|patch|delete)\\)\\s*$")

	fenceOpenRegex  = regexp.MustCompile("^```[a-zA-Z0-9_+.-]*\\s*$")
	fenceCloseRegex = regexp.MustCompile("^\\s*```\\s*$")

	hunkHeaderRegex = regexp.MustCompile(`^@@\s*(?:-(\d+)(?:,(\d+))?\s*)?@@\s*$`)
)

type state int

const (
	stateIdle state = iota
	stateHeader // header seen, waiting for the opening fence
	stateBody   // inside a fenced body
)

// Parser is a per-turn state machine. Feed it fragments as they arrive, then
// call Finish once the stream is drained. It keeps no state across turns:
// allocate a fresh Parser per turn.
type Parser struct {
	// OnText, when set, receives commentary as it is recognized (for live
	// display). OnOp receives each operation the moment its block closes.
	OnText func(text string)
	OnOp   func(op Op)

	buf        strings.Builder // pending partial line
	state      state
	headerPath string
	headerKind Kind
	headerLine string
	body       []string
	ops        []Op
	commentary strings.Builder
}

// New creates a parser for one turn.
func New() *Parser {
	return &Parser{}
}

// Feed consumes the next stream fragment. Fragments may split lines at any
// byte; only completed lines advance the state machine.
func (p *Parser) Feed(fragment string) {
	p.buf.WriteString(fragment)
	content := p.buf.String()

	for {
		idx := strings.IndexByte(content, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(content[:idx], "\r")
		content = content[idx+1:]
		p.processLine(line)
	}

	p.buf.Reset()
	p.buf.WriteString(content)
}

// Finish flushes any trailing partial line and reports whether the stream
// ended inside a file block. A partial block is discarded.
func (p *Parser) Finish() error {
	if p.buf.Len() > 0 {
		// A final line without a newline can still close a fence.
		line := strings.TrimSuffix(p.buf.String(), "\r")
		p.buf.Reset()
		p.processLine(line)
	}

	switch p.state {
	case stateHeader, stateBody:
		path := p.headerPath
		p.resetBlock()
		return &IncompleteError{Path: path}
	}
	return nil
}

// Ops returns the operations emitted so far. Safe to call mid-stream.
func (p *Parser) Ops() []Op {
	return p.ops
}

// Commentary returns all non-block text seen so far.
func (p *Parser) Commentary() string {
	return p.commentary.String()
}

func (p *Parser) processLine(line string) {
	switch p.state {
	case stateIdle:
		if m := headerRegex.FindStringSubmatch(line); m != nil {
			p.headerPath = m[1]
			p.headerKind = kindFromString(m[2])
			p.headerLine = line
			p.state = stateHeader
			return
		}
		p.emitText(line)

	case stateHeader:
		if strings.TrimSpace(line) == "" {
			// One blank line between the header and the fence is fine.
			return
		}
		if fenceOpenRegex.MatchString(line) {
			p.state = stateBody
			p.body = p.body[:0]
			return
		}
		// Not a block after all: the would-be header was commentary.
		p.emitText(p.headerLine)
		p.state = stateIdle
		p.processLine(line)

	case stateBody:
		if fenceCloseRegex.MatchString(line) {
			p.emitOp()
			p.resetBlock()
			return
		}
		p.body = append(p.body, line)
	}
}

func (p *Parser) resetBlock() {
	p.state = stateIdle
	p.headerPath = ""
	p.headerLine = ""
	p.body = nil
}

func (p *Parser) emitText(line string) {
	p.commentary.WriteString(line)
	p.commentary.WriteByte('\n')
	if p.OnText != nil {
		p.OnText(line + "\n")
	}
}

func (p *Parser) emitOp() {
	op := Op{Kind: p.headerKind, Path: p.headerPath}

	switch p.headerKind {
	case KindCreate, KindReplace:
		op.Content = diff.JoinLines(p.body)
	case KindDelete:
		if len(p.body) > 0 && strings.TrimSpace(strings.Join(p.body, "")) != "" {
			op.Malformed = true
			op.Reason = "delete block must have an empty body"
		}
	case KindPatch:
		hunks, err := parseHunks(p.body)
		if err != nil {
			op.Malformed = true
			op.Reason = err.Error()
		} else if len(hunks) == 0 {
			op.Malformed = true
			op.Reason = "patch block contains no hunks"
		}
		op.Hunks = hunks
	}

	p.ops = append(p.ops, op)
	if p.OnOp != nil {
		p.OnOp(op)
	}
}

// parseHunks reads the body of a patch block as an ordered hunk sequence.
func parseHunks(body []string) ([]diff.Hunk, error) {
	var hunks []diff.Hunk
	var current *diff.Hunk

	flush := func() {
		if current != nil {
			hunks = append(hunks, *current)
			current = nil
		}
	}

	for i, line := range body {
		if m := hunkHeaderRegex.FindStringSubmatch(line); m != nil {
			flush()
			current = &diff.Hunk{}
			if m[1] != "" {
				start, err := strconv.Atoi(m[1])
				if err != nil || start < 1 {
					return nil, fmt.Errorf("hunk header %q: bad start line", line)
				}
				current.StartLine = start
			}
			continue
		}

		if current == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			return nil, fmt.Errorf("line %d before first hunk header: %q", i+1, line)
		}

		switch {
		case line == "":
			// Bare empty line counts as empty context.
			current.OldLines = append(current.OldLines, "")
			current.NewLines = append(current.NewLines, "")
		case strings.HasPrefix(line, " "):
			text := line[1:]
			current.OldLines = append(current.OldLines, text)
			current.NewLines = append(current.NewLines, text)
		case strings.HasPrefix(line, "-"):
			current.OldLines = append(current.OldLines, line[1:])
		case strings.HasPrefix(line, "+"):
			current.NewLines = append(current.NewLines, line[1:])
		default:
			return nil, fmt.Errorf("line %d: unrecognized hunk line %q", i+1, line)
		}
	}

	flush()
	return hunks, nil
}

func kindFromString(s string) Kind {
	switch s {
	case "create":
		return KindCreate
	case "replace":
		return KindReplace
	case "patch":
		return KindPatch
	case "delete":
		return KindDelete
	}
	return KindReplace
}
