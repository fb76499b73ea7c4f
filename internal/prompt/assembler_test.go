package prompt

import (
	"strings"
	"testing"

	"github.com/for-yt-video/open-engineer/internal/llm"
	"github.com/for-yt-video/open-engineer/internal/store"
)

// charCount makes budgets deterministic in tests: one token per byte.
func charCount(s string) int { return len(s) }

func tracked(t *testing.T, entries ...[2]string) []store.TrackedFile {
	t.Helper()
	s := store.New()
	for _, e := range entries {
		if err := s.Upsert(e[0], e[1], store.OriginAdded); err != nil {
			t.Fatalf("upsert %s: %v", e[0], err)
		}
	}
	return s.RecentFirst()
}

func TestBuild_AllFits(t *testing.T) {
	a := &Assembler{Budget: 1000, Count: charCount}
	files := tracked(t, [2]string{"a.go", "package a"})
	history := []llm.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	p := a.Build("system text", files, history, "latest question")
	if len(p.OmittedFiles) != 0 {
		t.Errorf("OmittedFiles = %v", p.OmittedFiles)
	}
	if p.DroppedTurns != 0 {
		t.Errorf("DroppedTurns = %d", p.DroppedTurns)
	}
	// system, 1 file, 2 history, latest
	if len(p.Messages) != 5 {
		t.Fatalf("len(Messages) = %d", len(p.Messages))
	}
	if p.Messages[0].Role != "system" || p.Messages[0].Content != "system text" {
		t.Errorf("first message = %+v", p.Messages[0])
	}
	if !strings.Contains(p.Messages[1].Content, "Content of file 'a.go'") {
		t.Errorf("file section = %q", p.Messages[1].Content)
	}
	last := p.Messages[len(p.Messages)-1]
	if last.Role != "user" || last.Content != "latest question" {
		t.Errorf("last message = %+v", last)
	}
	if p.Tokens > a.Budget {
		t.Errorf("Tokens %d exceeds budget %d", p.Tokens, a.Budget)
	}
}

func TestBuild_DropsLeastRecentFilesFirst(t *testing.T) {
	files := tracked(t,
		[2]string{"old.go", strings.Repeat("x", 100)},
		[2]string{"new.go", strings.Repeat("y", 100)},
	)
	// Budget fits system + latest + one file section but not two.
	a := &Assembler{Budget: 160, Count: charCount}
	p := a.Build("sys", files, nil, "go")

	if len(p.OmittedFiles) != 1 || p.OmittedFiles[0] != "old.go" {
		t.Fatalf("OmittedFiles = %v, want [old.go]", p.OmittedFiles)
	}
	if !strings.Contains(p.Messages[1].Content, "'new.go'") {
		t.Errorf("kept section = %q", p.Messages[1].Content)
	}
	if p.Tokens > a.Budget {
		t.Errorf("Tokens %d exceeds budget %d", p.Tokens, a.Budget)
	}
}

func TestBuild_SingleOversizedFileOmittedWhole(t *testing.T) {
	files := tracked(t, [2]string{"huge.go", strings.Repeat("z", 5000)})
	a := &Assembler{Budget: 100, Count: charCount}
	p := a.Build("sys", files, nil, "hi")

	if len(p.OmittedFiles) != 1 || p.OmittedFiles[0] != "huge.go" {
		t.Fatalf("OmittedFiles = %v, want [huge.go]", p.OmittedFiles)
	}
	// No truncated remnant of the file may appear anywhere.
	for _, m := range p.Messages {
		if strings.Contains(m.Content, "zzz") {
			t.Errorf("truncated file content leaked into prompt")
		}
	}
}

func TestBuild_HistoryNewestFirst(t *testing.T) {
	history := []llm.Message{
		{Role: "user", Content: strings.Repeat("a", 50)},
		{Role: "assistant", Content: strings.Repeat("b", 50)},
		{Role: "user", Content: strings.Repeat("c", 20)},
		{Role: "assistant", Content: strings.Repeat("d", 20)},
	}
	// Room for the two newest turns only.
	a := &Assembler{Budget: 50, Count: charCount}
	p := a.Build("sy", nil, history, "q")

	if p.DroppedTurns != 2 {
		t.Fatalf("DroppedTurns = %d, want 2", p.DroppedTurns)
	}
	// Kept history stays chronological.
	if !strings.HasPrefix(p.Messages[1].Content, "c") || !strings.HasPrefix(p.Messages[2].Content, "d") {
		t.Errorf("kept history = %q, %q", p.Messages[1].Content, p.Messages[2].Content)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	files := tracked(t,
		[2]string{"a.go", strings.Repeat("1", 40)},
		[2]string{"b.go", strings.Repeat("2", 40)},
		[2]string{"c.go", strings.Repeat("3", 40)},
	)
	a := &Assembler{Budget: 150, Count: charCount}

	first := a.Build("s", files, nil, "q")
	for i := 0; i < 10; i++ {
		again := a.Build("s", files, nil, "q")
		if len(again.Messages) != len(first.Messages) {
			t.Fatalf("message count varies between runs")
		}
		for j := range again.Messages {
			if again.Messages[j] != first.Messages[j] {
				t.Fatalf("message %d varies between runs", j)
			}
		}
		if len(again.OmittedFiles) != len(first.OmittedFiles) {
			t.Fatalf("omissions vary between runs")
		}
	}
}

func TestBuild_MinTurnsReservedAheadOfFiles(t *testing.T) {
	// Both file sections alone fit the budget; the reservation forces the
	// least-recent file out so the two newest history turns survive.
	a := &Assembler{Budget: 70, MinTurns: 2, Count: charCount}
	files := tracked(t,
		[2]string{"a.go", "aaaa"},
		[2]string{"b.go", "bbbb"},
	)
	history := []llm.Message{
		{Role: "user", Content: "old old old old old old"},
		{Role: "user", Content: "qqqqqqqqqq"},
		{Role: "assistant", Content: "aaaaaaaaaa"},
	}

	p := a.Build("sys", files, history, "go")
	if p.DroppedTurns != 1 {
		t.Errorf("DroppedTurns = %d, want 1", p.DroppedTurns)
	}
	var kept []string
	for _, m := range p.Messages {
		kept = append(kept, m.Content)
	}
	joined := strings.Join(kept, "|")
	if !strings.Contains(joined, "qqqqqqqqqq") || !strings.Contains(joined, "aaaaaaaaaa") {
		t.Errorf("reserved turns missing from %q", joined)
	}
	if len(p.OmittedFiles) == 0 {
		t.Error("expected a file to lose out to reserved history")
	}
	if p.Tokens > a.Budget {
		t.Errorf("Tokens %d exceeds budget %d", p.Tokens, a.Budget)
	}
}
