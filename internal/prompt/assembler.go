// Package prompt builds the bounded context sent to the model for one turn.
package prompt

import (
	"fmt"

	"github.com/for-yt-video/open-engineer/internal/llm"
	"github.com/for-yt-video/open-engineer/internal/store"
)

// CountFunc measures the size of a piece of text against the budget.
type CountFunc func(text string) int

// Assembler produces a bounded message sequence for one model turn.
type Assembler struct {
	Budget   int       // hard ceiling, in tokens
	MinTurns int       // newest history turns reserved ahead of file sections
	Count    CountFunc // defaults to the cl100k_base estimator
}

// New creates an Assembler with the default token counter.
func New(budget int) *Assembler {
	return &Assembler{Budget: budget, Count: llm.EstimateTokensSimple}
}

// Prompt is the assembled context for one turn.
type Prompt struct {
	Messages     []llm.Message
	OmittedFiles []string // tracked files dropped to fit the budget
	DroppedTurns int      // history turns evicted to fit the budget
	Tokens       int      // estimated size of Messages
}

// fileSection renders one tracked file as a system message body.
func fileSection(tf store.TrackedFile) string {
	return fmt.Sprintf("Content of file '%s':\n\n%s", tf.Path, tf.Content)
}

// Build assembles the prompt. The system text and the latest user input are
// always included, then the newest MinTurns history turns, then file
// contents most-recently-modified first; when files do not fit, the
// least-recently-modified are dropped whole (never truncated) and reported
// in OmittedFiles. Remaining history is walked newest-first until the budget
// is exhausted. Output is deterministic for identical inputs: ties break on
// store insertion order, which RecentFirst preserves.
func (a *Assembler) Build(system string, files []store.TrackedFile, history []llm.Message, latest string) *Prompt {
	count := a.Count
	if count == nil {
		count = llm.EstimateTokensSimple
	}

	p := &Prompt{}

	systemCost := count(system)
	latestCost := count(latest)
	used := systemCost + latestCost

	// Reserve the newest MinTurns history turns before files compete for
	// the budget.
	reserved := 0
	for i := len(history) - 1; i >= 0 && reserved < a.MinTurns; i-- {
		c := count(history[i].Content)
		if used+c > a.Budget {
			break
		}
		used += c
		reserved++
	}

	// Select file sections. files arrives most-recently-modified first;
	// drop from the tail (least recent) until the rest fits.
	sections := make([]string, len(files))
	costs := make([]int, len(files))
	fileTotal := 0
	for i, tf := range files {
		sections[i] = fileSection(tf)
		costs[i] = count(sections[i])
		fileTotal += costs[i]
	}

	keep := len(files)
	for keep > 0 && used+fileTotal > a.Budget {
		keep--
		fileTotal -= costs[keep]
		p.OmittedFiles = append(p.OmittedFiles, files[keep].Path)
	}
	used += fileTotal

	// Select remaining history newest-first within what is left.
	keepHistory := reserved
	for i := len(history) - 1 - reserved; i >= 0; i-- {
		c := count(history[i].Content)
		if used+c > a.Budget {
			break
		}
		used += c
		keepHistory++
	}
	p.DroppedTurns = len(history) - keepHistory

	// Emit in final order: system, files (most recent first), history
	// (chronological), latest user input.
	p.Messages = append(p.Messages, llm.Message{Role: "system", Content: system})
	for i := 0; i < keep; i++ {
		p.Messages = append(p.Messages, llm.Message{Role: "system", Content: sections[i]})
	}
	p.Messages = append(p.Messages, history[len(history)-keepHistory:]...)
	p.Messages = append(p.Messages, llm.Message{Role: "user", Content: latest})

	p.Tokens = used
	return p
}
