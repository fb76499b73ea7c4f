// Package plan validates a batch of parsed operations against the content
// store and turns it into an ordered, fully-resolved change set with exact
// pre- and post-images for every touched path.
package plan

import (
	"errors"
	"fmt"

	"github.com/for-yt-video/open-engineer/internal/diff"
	"github.com/for-yt-video/open-engineer/internal/parser"
	"github.com/for-yt-video/open-engineer/internal/store"
)

// Reason classifies why an operation or the whole batch was rejected.
type Reason string

const (
	DuplicateTarget Reason = "DuplicateTarget"
	StaleContent    Reason = "StaleContent"
	AmbiguousPatch  Reason = "AmbiguousPatch"
	MissingTarget   Reason = "MissingTarget"
)

// Rejection invalidates a whole batch before any file is touched.
type Rejection struct {
	Path   string
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	msg := fmt.Sprintf("%s: %s", r.Reason, r.Path)
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}

func (r *Rejection) Unwrap() error { return r.Err }

// Change is one validated operation with its images captured at plan time.
// PreImage must still equal the store's content when the batch is applied;
// the apply engine re-checks this against the disk.
type Change struct {
	Op        parser.Op
	Exists    bool   // path was tracked when planning
	PreImage  string // store content at plan time ("" for creates)
	PostImage string // computed target content ("" for deletes)
}

// Unresolved is an operation excluded from auto-apply and surfaced for
// manual resolution (ambiguous or unlocatable patch anchors, malformed
// blocks).
type Unresolved struct {
	Op     parser.Op
	Reason Reason
	Detail string
}

// ChangeSet is a validated, ready-to-apply batch for one turn. Paths are
// unique across Changes.
type ChangeSet struct {
	Changes    []Change
	Unresolved []Unresolved
}

// Empty reports whether there is nothing to apply.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Changes) == 0
}

// Paths returns the target path of every appliable change, in order.
func (cs *ChangeSet) Paths() []string {
	out := make([]string, len(cs.Changes))
	for i, c := range cs.Changes {
		out[i] = c.Op.Path
	}
	return out
}

// Filter returns a copy of the change set containing only the changes whose
// paths the keep function accepts. Used for per-file approval.
func (cs *ChangeSet) Filter(keep func(path string) bool) *ChangeSet {
	out := &ChangeSet{Unresolved: cs.Unresolved}
	for _, c := range cs.Changes {
		if keep(c.Op.Path) {
			out.Changes = append(out.Changes, c)
		}
	}
	return out
}

// Build validates ops against the store. shown maps path to the content the
// model was shown at assembly time (nil skips the check, for ingested
// batches). Duplicate targets, stale patch pre-images and deletes of
// untracked paths reject the whole batch; patch anchors that match zero or
// multiple locations only sideline that operation into Unresolved.
// Operation order within the batch is preserved.
func Build(ops []parser.Op, s *store.Store, shown map[string]string) (*ChangeSet, error) {
	cs := &ChangeSet{}
	seen := make(map[string]bool)

	for _, op := range ops {
		path, err := store.Normalize(op.Path)
		if err != nil {
			return nil, &Rejection{Path: op.Path, Reason: MissingTarget, Err: err}
		}

		// Uniqueness is checked across every operation in the batch, the
		// unresolved ones included: two blocks naming one path is a model
		// error regardless of whether both resolve.
		if seen[path] {
			return nil, &Rejection{Path: path, Reason: DuplicateTarget}
		}
		seen[path] = true

		if op.Malformed {
			cs.Unresolved = append(cs.Unresolved, Unresolved{Op: op, Reason: AmbiguousPatch, Detail: op.Reason})
			continue
		}

		current, getErr := s.Get(path)
		exists := getErr == nil

		switch op.Kind {
		case parser.KindCreate, parser.KindReplace:
			cs.Changes = append(cs.Changes, Change{
				Op:        op,
				Exists:    exists,
				PreImage:  current,
				PostImage: op.Content,
			})

		case parser.KindDelete:
			if !exists {
				return nil, &Rejection{Path: path, Reason: MissingTarget}
			}
			cs.Changes = append(cs.Changes, Change{
				Op:       op,
				Exists:   true,
				PreImage: current,
			})

		case parser.KindPatch:
			if !exists {
				return nil, &Rejection{Path: path, Reason: MissingTarget}
			}

			// Drift between what the model was shown and what the store
			// holds now invalidates the whole batch: the hunks were written
			// against content that no longer exists.
			if shown != nil {
				if shownContent, ok := shown[path]; ok && shownContent != current {
					return nil, &Rejection{Path: path, Reason: StaleContent}
				}
			}

			pre := diff.SplitLines(current)
			post, err := diff.Resolve(pre, op.Hunks)
			if err != nil {
				var rerr *diff.ResolveError
				if errors.As(err, &rerr) {
					switch rerr.Reason {
					case diff.ReasonNotFound, diff.ReasonMismatch:
						cs.Unresolved = append(cs.Unresolved, Unresolved{Op: op, Reason: MissingTarget, Detail: rerr.Error()})
						continue
					case diff.ReasonAmbiguous, diff.ReasonOverlap, diff.ReasonEmpty:
						cs.Unresolved = append(cs.Unresolved, Unresolved{Op: op, Reason: AmbiguousPatch, Detail: rerr.Error()})
						continue
					}
				}
				return nil, &Rejection{Path: path, Reason: AmbiguousPatch, Err: err}
			}

			cs.Changes = append(cs.Changes, Change{
				Op:        op,
				Exists:    true,
				PreImage:  current,
				PostImage: diff.JoinLines(post),
			})
		}
	}

	return cs, nil
}
