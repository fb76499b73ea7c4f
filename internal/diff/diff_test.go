package diff

import (
	"errors"
	"testing"
)

func TestResolve_ContextAnchor(t *testing.T) {
	pre := SplitLines("package main\n\nfunc hello() {\n\tprintln(\"hello\")\n}\n")
	hunks := []Hunk{{
		OldLines: []string{"\tprintln(\"hello\")"},
		NewLines: []string{"\tprintln(\"hello world\")"},
	}}
	post, err := Resolve(pre, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := JoinLines(post)
	want := "package main\n\nfunc hello() {\n\tprintln(\"hello world\")\n}\n"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestResolve_ExplicitLineAnchor(t *testing.T) {
	pre := SplitLines("one\ntwo\nthree\n")
	hunks := []Hunk{{
		StartLine: 2,
		OldLines:  []string{"two"},
		NewLines:  []string{"TWO"},
	}}
	post, err := Resolve(pre, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := JoinLines(post); got != "one\nTWO\nthree\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_ExplicitLineMismatch(t *testing.T) {
	pre := SplitLines("one\ntwo\nthree\n")
	hunks := []Hunk{{
		StartLine: 2,
		OldLines:  []string{"not two"},
		NewLines:  []string{"x"},
	}}
	_, err := Resolve(pre, hunks)
	var rerr *ResolveError
	if !errors.As(err, &rerr) || rerr.Reason != ReasonMismatch {
		t.Errorf("err = %v, want ReasonMismatch", err)
	}
}

func TestResolve_AnchorNotFound(t *testing.T) {
	pre := SplitLines("a\nb\n")
	_, err := Resolve(pre, []Hunk{{OldLines: []string{"missing"}, NewLines: []string{"x"}}})
	var rerr *ResolveError
	if !errors.As(err, &rerr) || rerr.Reason != ReasonNotFound {
		t.Errorf("err = %v, want ReasonNotFound", err)
	}
}

func TestResolve_AnchorAmbiguous(t *testing.T) {
	pre := SplitLines("dup\nmiddle\ndup\n")
	_, err := Resolve(pre, []Hunk{{OldLines: []string{"dup"}, NewLines: []string{"x"}}})
	var rerr *ResolveError
	if !errors.As(err, &rerr) || rerr.Reason != ReasonAmbiguous {
		t.Errorf("err = %v, want ReasonAmbiguous", err)
	}
}

func TestResolve_ContextDisambiguates(t *testing.T) {
	pre := SplitLines("dup\nfirst\ndup\nsecond\n")
	hunks := []Hunk{{
		OldLines: []string{"dup", "second"},
		NewLines: []string{"DUP", "second"},
	}}
	post, err := Resolve(pre, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := JoinLines(post); got != "dup\nfirst\nDUP\nsecond\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_TrailingWhitespacePass(t *testing.T) {
	pre := SplitLines("line one   \nline two\n")
	hunks := []Hunk{{
		OldLines: []string{"line one"},
		NewLines: []string{"line ONE"},
	}}
	post, err := Resolve(pre, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := JoinLines(post); got != "line ONE\nline two\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_MultipleHunksBottomUp(t *testing.T) {
	pre := SplitLines("a\nb\nc\nd\ne\n")
	hunks := []Hunk{
		{OldLines: []string{"b"}, NewLines: []string{"B", "B2"}},
		{OldLines: []string{"d"}, NewLines: []string{"D"}},
	}
	post, err := Resolve(pre, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := JoinLines(post); got != "a\nB\nB2\nc\nD\ne\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_OverlapRejected(t *testing.T) {
	pre := SplitLines("a\nb\nc\n")
	hunks := []Hunk{
		{OldLines: []string{"a", "b"}, NewLines: []string{"x"}},
		{OldLines: []string{"b", "c"}, NewLines: []string{"y"}},
	}
	_, err := Resolve(pre, hunks)
	var rerr *ResolveError
	if !errors.As(err, &rerr) || rerr.Reason != ReasonOverlap {
		t.Errorf("err = %v, want ReasonOverlap", err)
	}
}

// Two hunks where the second's anchor text only exists before the first is
// applied. Hunks resolve independently against the original pre-image, so
// both succeed here; the overlap check is what protects colliding regions.
func TestResolve_IndependentAgainstPreImage(t *testing.T) {
	pre := SplitLines("alpha\nbeta\ngamma\n")
	hunks := []Hunk{
		{OldLines: []string{"alpha"}, NewLines: []string{"ALPHA"}},
		{OldLines: []string{"beta"}, NewLines: []string{"BETA"}},
	}
	post, err := Resolve(pre, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := JoinLines(post); got != "ALPHA\nBETA\ngamma\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_DeletionHunk(t *testing.T) {
	pre := SplitLines("keep\ndrop me\nkeep too\n")
	hunks := []Hunk{{OldLines: []string{"drop me"}, NewLines: nil}}
	post, err := Resolve(pre, hunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := JoinLines(post); got != "keep\nkeep too\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_EmptyHunkRejected(t *testing.T) {
	_, err := Resolve([]string{"a"}, []Hunk{{NewLines: []string{"x"}}})
	var rerr *ResolveError
	if !errors.As(err, &rerr) || rerr.Reason != ReasonEmpty {
		t.Errorf("err = %v, want ReasonEmpty", err)
	}
}

func TestSplitJoinLines(t *testing.T) {
	if got := SplitLines(""); got != nil {
		t.Errorf("SplitLines(\"\") = %v", got)
	}
	if got := SplitLines("a\r\nb\n"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("SplitLines crlf = %v", got)
	}
	if got := JoinLines(nil); got != "" {
		t.Errorf("JoinLines(nil) = %q", got)
	}
	if got := JoinLines([]string{"a", "b"}); got != "a\nb\n" {
		t.Errorf("JoinLines = %q", got)
	}
}
