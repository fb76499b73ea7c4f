package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/for-yt-video/open-engineer/internal/logging"
)

var (
	ErrRequestFailed = errors.New("API request failed")
	ErrStreamFault   = errors.New("stream fault")
	log              = logging.Get()
)

const defaultRequestTimeout = 30 * time.Second

// Client handles communication with an OpenAI-compatible chat backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new backend client. apiKey may be empty for local
// backends that do not authenticate.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// ChatStream sends a chat request and streams the response.
// The callback is called for each event (content chunks, completion, error).
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, fn StreamFunc) error {
	reqBody := ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	log.Debug("HTTP POST %s/chat/completions (model: %s, messages: %d)",
		c.baseURL, model, len(messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("HTTP request failed: %v", err)
		return fmt.Errorf("%w: %v", ErrStreamFault, err)
	}
	defer resp.Body.Close()

	log.Debug("HTTP response status: %d", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error("API error %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	return c.processStream(ctx, resp.Body, fn)
}

// processStream reads SSE events and calls the callback for each.
func (c *Client) processStream(ctx context.Context, reader io.Reader, fn StreamFunc) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lastUsage *Usage
	log.Debug("Starting SSE stream processing")

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// SSE format: "data: {json}"
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		// Stream end marker
		if data == "[DONE]" {
			log.Debug("SSE stream received [DONE]")
			fn(Event{Type: "done", Usage: lastUsage})
			return nil
		}

		var resp ChatResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue // Skip malformed chunks
		}

		if resp.Error != nil {
			streamErr := fmt.Errorf("%w: %s", ErrStreamFault, resp.Error.Message)
			fn(Event{Type: "error", Error: streamErr})
			return streamErr
		}

		if resp.Usage != nil {
			lastUsage = resp.Usage
			log.Debug("Captured usage: prompt=%d, completion=%d",
				resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		delta := choice.Delta
		if delta == nil {
			delta = choice.Message
		}
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			log.Stream("content", delta.Content)
			fn(Event{Type: "content", Content: delta.Content})
		}
	}

	if err := scanner.Err(); err != nil {
		// When the context is canceled (user abort), the HTTP body closes and
		// the scanner sees an IO error. Return the context error so callers
		// can tell cancellation from a backend fault.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("SSE scanner error: %v", err)
		return fmt.Errorf("%w: %v", ErrStreamFault, err)
	}

	// Stream ended without [DONE]. The callers treat this like a normal end;
	// any half-open file block is the parser's problem to discard.
	log.Debug("SSE stream ended without [DONE]")
	fn(Event{Type: "done", Usage: lastUsage})

	return nil
}

// Complete sends a non-streaming chat request and returns the assistant's
// response content. Used for short utility calls like project naming.
func (c *Client) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	reqBody := ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	log.Debug("HTTP POST %s/chat/completions (simple, model: %s)", c.baseURL, model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("HTTP request failed: %v", err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error("API error %d: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", err
	}

	if len(chatResp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	msg := chatResp.Choices[0].Message
	if msg == nil {
		return "", errors.New("no message in response")
	}

	return msg.Content, nil
}
