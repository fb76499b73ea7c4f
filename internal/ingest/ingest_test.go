package ingest

import (
	"strings"
	"testing"

	"github.com/for-yt-video/open-engineer/internal/parser"
)

const pastedDoc = `Here is the fix you asked for.

` + "`src/app.py`" + ` (replace)
` + "```python" + `
print("hello")
` + "```" + `

And a new helper:

` + "`src/util.py`" + ` (create)
` + "```python" + `
def helper():
    return 1
` + "```" + `

That should do it.
`

func TestFromMarkdown_ExtractsOps(t *testing.T) {
	ops, commentary := FromMarkdown([]byte(pastedDoc))
	if len(ops) != 2 {
		t.Fatalf("len(ops) = %d", len(ops))
	}

	if ops[0].Kind != parser.KindReplace || ops[0].Path != "src/app.py" {
		t.Errorf("ops[0] = %+v", ops[0])
	}
	if ops[0].Content != "print(\"hello\")\n" {
		t.Errorf("ops[0].Content = %q", ops[0].Content)
	}
	if ops[1].Kind != parser.KindCreate || ops[1].Path != "src/util.py" {
		t.Errorf("ops[1] = %+v", ops[1])
	}
	if !strings.Contains(ops[1].Content, "def helper():") {
		t.Errorf("ops[1].Content = %q", ops[1].Content)
	}

	if !strings.Contains(commentary, "Here is the fix") || !strings.Contains(commentary, "That should do it.") {
		t.Errorf("commentary = %q", commentary)
	}
	if strings.Contains(commentary, "print(") {
		t.Errorf("commentary leaked code: %q", commentary)
	}
}

func TestFromMarkdown_PatchBlock(t *testing.T) {
	doc := "`a.py` (patch)\n```\n@@ @@\n-print(1)\n+print(2)\n```\n"
	ops, _ := FromMarkdown([]byte(doc))
	if len(ops) != 1 {
		t.Fatalf("len(ops) = %d", len(ops))
	}
	if ops[0].Kind != parser.KindPatch || len(ops[0].Hunks) != 1 {
		t.Fatalf("ops[0] = %+v", ops[0])
	}
	h := ops[0].Hunks[0]
	if len(h.OldLines) != 1 || h.OldLines[0] != "print(1)" {
		t.Errorf("OldLines = %v", h.OldLines)
	}
	if len(h.NewLines) != 1 || h.NewLines[0] != "print(2)" {
		t.Errorf("NewLines = %v", h.NewLines)
	}
}

func TestFromMarkdown_DeleteWithoutBody(t *testing.T) {
	doc := "Removing the stale helper.\n\n`src/old.py` (delete)\n"
	ops, commentary := FromMarkdown([]byte(doc))
	if len(ops) != 1 {
		t.Fatalf("len(ops) = %d", len(ops))
	}
	if ops[0].Kind != parser.KindDelete || ops[0].Path != "src/old.py" {
		t.Errorf("ops[0] = %+v", ops[0])
	}
	if !strings.Contains(commentary, "Removing the stale helper.") {
		t.Errorf("commentary = %q", commentary)
	}
}

func TestFromMarkdown_PlainCodeBlockIgnored(t *testing.T) {
	doc := "Some example usage:\n\n```go\nfmt.Println(\"not a file block\")\n```\n"
	ops, _ := FromMarkdown([]byte(doc))
	if len(ops) != 0 {
		t.Errorf("ops = %+v", ops)
	}
}

func TestFromMarkdown_Empty(t *testing.T) {
	ops, commentary := FromMarkdown(nil)
	if len(ops) != 0 || commentary != "" {
		t.Errorf("ops = %v, commentary = %q", ops, commentary)
	}
}
