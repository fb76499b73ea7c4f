// Package project bootstraps a fresh project directory: asks the model for a
// short name and creates a unique folder for it.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/for-yt-video/open-engineer/internal/llm"
	"github.com/for-yt-video/open-engineer/internal/logging"
)

// FallbackName is used when the backend cannot produce a usable name.
const FallbackName = "unnamed-project"

const namingPrompt = `You are a project naming assistant. Create a concise folder name for a coding project based on the user's description.

Guidelines:
1. Use lowercase letters, numbers, and hyphens only
2. Keep it short but descriptive (max 50 characters)
3. Avoid generic names like "project" or "app"

Respond in this JSON format:
{"project_name": "your-suggested-name"}`

type nameResponse struct {
	ProjectName string `json:"project_name"`
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// Namer is satisfied by llm.Client.
type Namer interface {
	Complete(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// Name asks the backend for a kebab-case project name. Any failure falls
// back to FallbackName; naming is best-effort and never blocks a session.
func Name(ctx context.Context, client Namer, model, description string) string {
	log := logging.Get()
	if strings.TrimSpace(description) == "" {
		return FallbackName
	}

	reply, err := client.Complete(ctx, model, []llm.Message{
		{Role: "system", Content: namingPrompt},
		{Role: "user", Content: "Create a folder name for this project: " + description},
	})
	if err != nil {
		log.Error("project naming failed: %v", err)
		return FallbackName
	}

	var parsed nameResponse
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		log.Error("project name response unparseable: %v", err)
		return FallbackName
	}
	return Sanitize(parsed.ProjectName)
}

// extractJSON pulls the first JSON object out of a reply that may be wrapped
// in prose or a code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// Sanitize forces a candidate into a safe kebab-case directory name.
func Sanitize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = invalidNameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "-")
	if len(name) > 50 {
		name = strings.Trim(name[:50], "-")
	}
	if name == "" {
		return FallbackName
	}
	return name
}

// UniqueDir returns a directory name under base that does not exist yet,
// appending -1, -2, ... to the candidate as needed.
func UniqueDir(base, name string) string {
	if !exists(filepath.Join(base, name)) {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !exists(filepath.Join(base, candidate)) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Bootstrap creates the project directory and returns its path.
func Bootstrap(base, name string) (string, error) {
	dir := filepath.Join(base, UniqueDir(base, name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
