package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func chunk(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`, content)
}

func TestChatStream_ContentAndDone(t *testing.T) {
	srv := sseServer(t, []string{
		chunk("Hello "),
		chunk("world"),
		`data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`,
		"data: [DONE]",
	})
	defer srv.Close()

	client := NewClient(srv.URL, "")
	var got strings.Builder
	var done bool
	var usage *Usage

	err := client.ChatStream(context.Background(), "test-model", []Message{{Role: "user", Content: "hi"}}, func(ev Event) {
		switch ev.Type {
		case "content":
			got.WriteString(ev.Content)
		case "done":
			done = true
			usage = ev.Usage
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "Hello world" {
		t.Errorf("content = %q", got.String())
	}
	if !done {
		t.Error("done event not emitted")
	}
	if usage == nil || usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestChatStream_NoDoneMarker(t *testing.T) {
	srv := sseServer(t, []string{chunk("partial")})
	defer srv.Close()

	client := NewClient(srv.URL, "")
	var done bool
	err := client.ChatStream(context.Background(), "m", []Message{{Role: "user", Content: "x"}}, func(ev Event) {
		if ev.Type == "done" {
			done = true
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Error("done event not emitted after stream end without [DONE]")
	}
}

func TestChatStream_BackendError(t *testing.T) {
	srv := sseServer(t, []string{
		chunk("a"),
		`data: {"error":{"message":"model overloaded"}}`,
	})
	defer srv.Close()

	client := NewClient(srv.URL, "")
	var errEvent error
	err := client.ChatStream(context.Background(), "m", []Message{{Role: "user", Content: "x"}}, func(ev Event) {
		if ev.Type == "error" {
			errEvent = ev.Error
		}
	})
	if !errors.Is(err, ErrStreamFault) {
		t.Errorf("err = %v, want ErrStreamFault", err)
	}
	if errEvent == nil || !errors.Is(errEvent, ErrStreamFault) {
		t.Errorf("error event = %v, want ErrStreamFault", errEvent)
	}
	if !strings.Contains(errEvent.Error(), "model overloaded") {
		t.Errorf("error event = %q, want backend message", errEvent)
	}
}

func TestChatStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "wrong")
	err := client.ChatStream(context.Background(), "m", nil, func(Event) {})
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("err = %v, want ErrRequestFailed", err)
	}
}

func TestChatStream_Cancellation(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, chunk("first")+"\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(srv.URL, "")
	err := client.ChatStream(ctx, "m", nil, func(ev Event) {
		if ev.Type == "content" {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"todo-list-app"}}]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	got, err := client.Complete(context.Background(), "m", []Message{{Role: "user", Content: "name it"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "todo-list-app" {
		t.Errorf("content = %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	n, err := EstimateTokens("hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n <= 0 {
		t.Errorf("token count = %d, want > 0", n)
	}
	if EstimateTokensSimple("") != 0 {
		t.Error("empty string should estimate to 0 tokens")
	}
}
