// Package session orchestrates one interactive exchange at a time: assemble
// context, stream the model response, parse it, plan the edits, collect
// approval and apply, then fold the results back into history and the
// content store.
package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/for-yt-video/open-engineer/internal/apply"
	"github.com/for-yt-video/open-engineer/internal/llm"
	"github.com/for-yt-video/open-engineer/internal/logging"
	"github.com/for-yt-video/open-engineer/internal/parser"
	"github.com/for-yt-video/open-engineer/internal/plan"
	"github.com/for-yt-video/open-engineer/internal/prompt"
	"github.com/for-yt-video/open-engineer/internal/store"
	"github.com/for-yt-video/open-engineer/internal/tui"
	"github.com/for-yt-video/open-engineer/internal/ui"
)

// ErrTurnInFlight is returned when RunTurn is called while a previous turn
// has not finished.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// Turn is one immutable history record.
type Turn struct {
	Role      string // "user" or "assistant"
	Text      string
	Timestamp time.Time
}

// State names the stage a turn is in. Exposed for logging and the prompt
// indicator; transitions happen only inside RunTurn.
type State int

const (
	StateIdle State = iota
	StateAssembling
	StateStreaming
	StateParsing
	StatePlanning
	StateAwaitingApproval
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssembling:
		return "assembling"
	case StateStreaming:
		return "streaming"
	case StateParsing:
		return "parsing"
	case StatePlanning:
		return "planning"
	case StateAwaitingApproval:
		return "awaiting-approval"
	case StateApplying:
		return "applying"
	}
	return "unknown"
}

// Failure classifies how a turn went wrong. Empty means the turn completed.
type Failure string

const (
	FailNone          Failure = ""
	FailStream        Failure = "StreamFault"
	FailParse         Failure = "ParseIncomplete"
	FailStale         Failure = "StaleContent"
	FailDuplicate     Failure = "DuplicateTarget"
	FailMissing       Failure = "MissingTarget"
	FailAmbiguous     Failure = "AmbiguousPatch"
	FailConcurrent    Failure = "ConcurrentModification"
	FailApplyIO       Failure = "ApplyIOFailure"
	FailDataIntegrity Failure = "DataIntegrity"
	FailCancelled     Failure = "Cancelled"
)

// TurnReport is everything the caller needs to render the outcome of one
// turn. Failures never escape RunTurn as panics or crashes; they land here.
type TurnReport struct {
	Commentary   string
	Applied      []string          // paths written to disk this turn
	Rejected     []string          // paths the user declined at review
	Unresolved   []plan.Unresolved // operations sidelined for manual handling
	OmittedFiles []string          // context omissions, for display
	DroppedTurns int
	AutoAdded    []string // files pulled in by path guessing

	Failure    Failure
	FailedPath string
	Restored   bool
	Err        error
}

// Failed reports whether the turn ended on a failure edge.
func (r *TurnReport) Failed() bool { return r.Failure != FailNone }

// Streamer produces the model response stream for an assembled prompt.
type Streamer interface {
	ChatStream(ctx context.Context, model string, messages []llm.Message, fn llm.StreamFunc) error
}

// Approver collects the user's verdict on a planned change set.
type Approver interface {
	Review(cs *plan.ChangeSet, previews []ui.FilePreview) (tui.Decision, error)
}

// Options configures a session.
type Options struct {
	Root     string // project directory all edits are contained in
	Model    string
	System   string // system instructions for every turn
	Budget   int    // context token ceiling
	MinTurns int    // newest history turns protected by the assembler
	Streamer Streamer
	Approver Approver
	OnToken  func(text string) // live commentary sink, may be nil
	Clock    func() time.Time  // test hook, defaults to time.Now
}

// Session owns the conversation history and the content store. Not safe for
// concurrent use; RunTurn enforces one turn at a time.
type Session struct {
	opts      Options
	store     *store.Store
	assembler *prompt.Assembler
	engine    *apply.Engine
	history   []Turn
	state     State
	inFlight  bool
	log       *logging.Logger
}

func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	a := prompt.New(opts.Budget)
	a.MinTurns = opts.MinTurns
	return &Session{
		opts:      opts,
		store:     store.New(),
		assembler: a,
		engine:    apply.New(opts.Root),
		state:     StateIdle,
		log:       logging.Get(),
	}
}

// Store exposes the content store for read-only inspection (the /files
// command). Mutation goes through AddFile, RemoveFile and RunTurn.
func (s *Session) Store() *store.Store { return s.store }

// History returns the turn records accumulated so far.
func (s *Session) History() []Turn { return s.history }

// State returns the current stage.
func (s *Session) State() State { return s.state }

// AddFile reads a file from disk and tracks it. The path must stay inside
// the project root; content is captured at add time.
func (s *Session) AddFile(path string) error {
	abs, err := s.engine.SafeJoin(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	rel, err := store.Normalize(filepath.ToSlash(path))
	if err != nil {
		return err
	}
	if err := s.store.Upsert(rel, string(data), store.OriginAdded); err != nil {
		return err
	}
	return s.store.MarkSynced(rel, string(data))
}

// RemoveFile stops tracking a path. The file on disk is untouched.
func (s *Session) RemoveFile(path string) error {
	rel, err := store.Normalize(filepath.ToSlash(path))
	if err != nil {
		return err
	}
	return s.store.Remove(rel)
}

// guessExtensions are the filename markers path guessing looks for in a
// user message.
var guessExtensions = []string{".css", ".html", ".js", ".py", ".json", ".md", ".go"}

// GuessPaths scans a user message for words that look like file paths and
// returns the ones that exist inside the project root and are not yet
// tracked.
func (s *Session) GuessPaths(message string) []string {
	var out []string
	for _, word := range strings.Fields(message) {
		candidate := strings.Trim(word, "'\",`:;()")
		if candidate == "" {
			continue
		}
		looksLikePath := strings.Contains(candidate, "/")
		for _, ext := range guessExtensions {
			if strings.HasSuffix(candidate, ext) {
				looksLikePath = true
				break
			}
		}
		if !looksLikePath {
			continue
		}
		rel, err := store.Normalize(candidate)
		if err != nil || s.store.Has(rel) {
			continue
		}
		abs, err := s.engine.SafeJoin(rel)
		if err != nil {
			continue
		}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			continue
		}
		out = append(out, rel)
	}
	return out
}

func (s *Session) transition(next State) {
	s.log.Turn(next.String(), "")
	s.state = next
}

// RunTurn drives one full exchange. Failures of every kind are folded into
// the report; the returned error is reserved for ErrTurnInFlight. The
// context cancels everything up to the approval step; once applying starts,
// the batch runs to completion or rollback.
func (s *Session) RunTurn(ctx context.Context, input string) (*TurnReport, error) {
	if s.inFlight {
		return nil, ErrTurnInFlight
	}
	s.inFlight = true
	defer func() {
		s.inFlight = false
		s.transition(StateIdle)
	}()

	report := &TurnReport{}

	for _, path := range s.GuessPaths(input) {
		if err := s.AddFile(path); err != nil {
			s.log.Debug("guess add %s failed: %v", path, err)
			continue
		}
		report.AutoAdded = append(report.AutoAdded, path)
	}

	s.transition(StateAssembling)
	files := s.store.RecentFirst()
	p := s.assembler.Build(s.opts.System, files, s.historyMessages(), input)
	report.OmittedFiles = p.OmittedFiles
	report.DroppedTurns = p.DroppedTurns

	// Remember exactly what the model was shown so the planner can refuse
	// hunks written against content that changed mid-turn.
	omitted := make(map[string]bool, len(p.OmittedFiles))
	for _, path := range p.OmittedFiles {
		omitted[path] = true
	}
	shown := make(map[string]string, len(files))
	for _, tf := range files {
		if !omitted[tf.Path] {
			shown[tf.Path] = tf.Content
		}
	}

	s.transition(StateStreaming)
	par := parser.New()
	par.OnText = s.opts.OnToken

	var streamErr error
	err := s.opts.Streamer.ChatStream(ctx, s.opts.Model, p.Messages, func(ev llm.Event) {
		switch ev.Type {
		case "content":
			par.Feed(ev.Content)
		case "error":
			streamErr = ev.Error
		}
	})
	if err == nil {
		err = streamErr
	}
	if err != nil {
		report.Failure = FailStream
		if errors.Is(err, context.Canceled) {
			report.Failure = FailCancelled
		}
		report.Err = err
		return report, nil
	}

	s.transition(StateParsing)
	if err := par.Finish(); err != nil {
		var inc *parser.IncompleteError
		if errors.As(err, &inc) {
			report.FailedPath = inc.Path
		}
		report.Failure = FailParse
		report.Err = err
		return report, nil
	}
	report.Commentary = par.Commentary()

	ops := par.Ops()
	if len(ops) > 0 {
		s.planAndApply(ctx, ops, shown, report)
	}
	if !report.Failed() {
		s.appendExchange(input, report.Commentary)
	}
	return report, nil
}

// ApplyOps plans, reviews and applies operations that arrived outside a
// model turn, for the /paste path. History is untouched; there is no shown
// snapshot so the planner's drift check is skipped for these batches.
func (s *Session) ApplyOps(ctx context.Context, ops []parser.Op) (*TurnReport, error) {
	if s.inFlight {
		return nil, ErrTurnInFlight
	}
	s.inFlight = true
	defer func() {
		s.inFlight = false
		s.transition(StateIdle)
	}()

	report := &TurnReport{}
	s.planAndApply(ctx, ops, nil, report)
	return report, nil
}

// planAndApply runs the back half of a turn: plan, await approval, apply,
// then fold the post-images into the store.
func (s *Session) planAndApply(ctx context.Context, ops []parser.Op, shown map[string]string, report *TurnReport) {
	if err := ctx.Err(); err != nil {
		report.Failure = FailCancelled
		report.Err = err
		return
	}

	s.transition(StatePlanning)
	cs, err := plan.Build(ops, s.store, shown)
	if err != nil {
		report.Failure = planFailure(err)
		var rej *plan.Rejection
		if errors.As(err, &rej) {
			report.FailedPath = rej.Path
		}
		report.Err = err
		return
	}
	report.Unresolved = cs.Unresolved

	if cs.Empty() {
		return
	}

	s.transition(StateAwaitingApproval)
	decision, err := s.opts.Approver.Review(cs, ui.Previews(cs))
	if err != nil {
		report.Failure = FailCancelled
		report.Err = err
		return
	}
	kept := cs.Filter(decision.Approves)
	for _, path := range cs.Paths() {
		if !decision.Approves(path) {
			report.Rejected = append(report.Rejected, path)
		}
	}
	if kept.Empty() {
		return
	}

	if err := ctx.Err(); err != nil {
		report.Failure = FailCancelled
		report.Err = err
		return
	}

	// Applying is not cancellable: the engine runs to success or rollback.
	s.transition(StateApplying)
	res, err := s.engine.Run(kept)
	report.Applied = res.Succeeded
	report.FailedPath = res.FailedPath
	report.Restored = res.Restored
	if err != nil {
		report.Applied = nil
		report.Failure = applyFailure(err)
		report.Err = err
		return
	}

	for _, c := range kept.Changes {
		if c.Op.Kind == parser.KindDelete {
			if err := s.store.Remove(c.Op.Path); err != nil {
				s.log.Error("store remove %s: %v", c.Op.Path, err)
			}
			continue
		}
		// Upsert keeps the existing origin for files that were already
		// tracked; only genuinely new files read as generated.
		if err := s.store.Upsert(c.Op.Path, c.PostImage, store.OriginGenerated); err != nil {
			s.log.Error("store upsert %s: %v", c.Op.Path, err)
			continue
		}
		if err := s.store.MarkSynced(c.Op.Path, c.PostImage); err != nil {
			s.log.Error("store sync %s: %v", c.Op.Path, err)
		}
	}
}

// appendExchange records the user/assistant pair. History mutates only
// here, at the end of a turn that produced a response.
func (s *Session) appendExchange(input, reply string) {
	now := s.opts.Clock()
	s.history = append(s.history, Turn{Role: "user", Text: input, Timestamp: now})
	s.history = append(s.history, Turn{Role: "assistant", Text: reply, Timestamp: now})
}

func (s *Session) historyMessages() []llm.Message {
	out := make([]llm.Message, len(s.history))
	for i, t := range s.history {
		out[i] = llm.Message{Role: t.Role, Content: t.Text}
	}
	return out
}

func planFailure(err error) Failure {
	var rej *plan.Rejection
	if errors.As(err, &rej) {
		switch rej.Reason {
		case plan.DuplicateTarget:
			return FailDuplicate
		case plan.StaleContent:
			return FailStale
		case plan.MissingTarget:
			return FailMissing
		case plan.AmbiguousPatch:
			return FailAmbiguous
		}
	}
	return FailAmbiguous
}

func applyFailure(err error) Failure {
	var integrity *apply.IntegrityError
	if errors.As(err, &integrity) {
		return FailDataIntegrity
	}
	if errors.Is(err, apply.ErrConcurrentModification) {
		return FailConcurrent
	}
	return FailApplyIO
}
