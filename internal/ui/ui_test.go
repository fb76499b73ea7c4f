package ui

import (
	"strings"
	"testing"

	"github.com/for-yt-video/open-engineer/internal/parser"
	"github.com/for-yt-video/open-engineer/internal/plan"
)

func TestPreviews(t *testing.T) {
	cs := &plan.ChangeSet{Changes: []plan.Change{
		{
			Op:        parser.Op{Kind: parser.KindReplace, Path: "a.py"},
			PreImage:  "print(1)\n",
			PostImage: "print(2)\n",
		},
		{
			Op:       parser.Op{Kind: parser.KindDelete, Path: "b.py"},
			PreImage: "gone\n",
		},
	}}

	previews := Previews(cs)
	if len(previews) != 2 {
		t.Fatalf("len = %d", len(previews))
	}

	d := previews[0].Diff
	if !strings.Contains(d, "-print(1)") || !strings.Contains(d, "+print(2)") {
		t.Errorf("diff missing change lines:\n%s", d)
	}
	if !strings.Contains(d, "a/a.py") || !strings.Contains(d, "b/a.py") {
		t.Errorf("diff missing file headers:\n%s", d)
	}

	if previews[1].Diff != "" {
		t.Errorf("delete preview should have no diff, got:\n%s", previews[1].Diff)
	}
}
