// Package apply writes an approved change set to disk atomically from the
// caller's point of view: either every change lands or the workspace is
// restored to its pre-batch state.
package apply

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/for-yt-video/open-engineer/internal/parser"
	"github.com/for-yt-video/open-engineer/internal/plan"
)

// Apply errors.
var (
	ErrPathEscape             = errors.New("path escapes project root")
	ErrConcurrentModification = errors.New("file changed on disk since planning")
)

// IntegrityError reports a failed rollback: the apply failed AND one or more
// already-applied paths could not be restored. The workspace is in a mixed
// state and needs manual inspection.
type IntegrityError struct {
	Paths []string // paths left in their post-change state
	Cause error    // the apply failure that triggered the rollback
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("rollback failed, paths left modified: %s (apply error: %v)",
		strings.Join(e.Paths, ", "), e.Cause)
}

func (e *IntegrityError) Unwrap() error { return e.Cause }

// Result describes the outcome of one batch.
type Result struct {
	Succeeded  []string // paths written, in apply order
	FailedPath string   // path whose write failed, "" on success
	Restored   bool     // rollback ran and completed
}

// Engine applies change sets under a single project root. Every target path
// is containment-checked against the root before any file is touched.
type Engine struct {
	Root string
}

func New(root string) *Engine {
	return &Engine{Root: root}
}

// SafeJoin joins the root with a relative path, ensuring the result stays
// within the root. Returns the absolute path if valid.
func (e *Engine) SafeJoin(relativePath string) (string, error) {
	if relativePath == "" {
		return "", ErrPathEscape
	}

	joined := filepath.Join(e.Root, filepath.FromSlash(relativePath))

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(e.Root)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absBase, absJoined)
	if err != nil {
		return "", err
	}

	// Exactly ".." or a "../" prefix is a traversal; "..foo" is a valid
	// filename.
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}

	return absJoined, nil
}

// rollbackImage captures one path's on-disk state before the batch. absent
// means the file did not exist.
type rollbackImage struct {
	path   string // relative, as in the change set
	abs    string
	data   []byte
	absent bool
}

// Run applies the change set. The protocol is strict:
//
//  1. Resolve and containment-check every target path.
//  2. Capture a rollback image for every target (bytes or absence).
//  3. Verify each on-disk file still matches its change's PreImage.
//  4. Apply in order, creating parent directories as needed.
//  5. On any write failure, restore already-applied paths in reverse order.
//
// Steps 1-3 touch nothing; a failure there returns with Restored false and
// an unchanged workspace. A restore failure in step 5 returns
// *IntegrityError naming the paths left modified.
func (e *Engine) Run(cs *plan.ChangeSet) (*Result, error) {
	res := &Result{}
	images := make([]rollbackImage, 0, len(cs.Changes))

	for _, c := range cs.Changes {
		abs, err := e.SafeJoin(c.Op.Path)
		if err != nil {
			return res, fmt.Errorf("%s: %w", c.Op.Path, err)
		}

		img := rollbackImage{path: c.Op.Path, abs: abs}
		data, err := os.ReadFile(abs)
		switch {
		case err == nil:
			img.data = data
		case os.IsNotExist(err):
			img.absent = true
		default:
			return res, fmt.Errorf("read %s: %w", c.Op.Path, err)
		}
		images = append(images, img)

		// The plan captured PreImage from the store; the disk must agree or
		// someone edited the file after planning.
		if err := checkFresh(c, img); err != nil {
			res.FailedPath = c.Op.Path
			return res, err
		}
	}

	for i, c := range cs.Changes {
		var err error
		if c.Op.Kind == parser.KindDelete {
			err = e.remove(images[i].abs)
		} else {
			err = writeFile(images[i].abs, []byte(c.PostImage))
		}
		if err != nil {
			res.FailedPath = c.Op.Path
			applyErr := fmt.Errorf("apply %s: %w", c.Op.Path, err)
			if rerr := e.restore(images[:i], applyErr); rerr != nil {
				return res, rerr
			}
			res.Restored = true
			return res, applyErr
		}
		res.Succeeded = append(res.Succeeded, c.Op.Path)
	}

	return res, nil
}

func checkFresh(c plan.Change, img rollbackImage) error {
	switch {
	case c.Op.Kind == parser.KindCreate && !c.Exists:
		// A create may overwrite untracked disk content only when the store
		// agreed the path was absent at plan time.
		if !img.absent && string(img.data) != c.PreImage {
			return fmt.Errorf("%s: %w", c.Op.Path, ErrConcurrentModification)
		}
	default:
		if img.absent {
			if c.Exists {
				return fmt.Errorf("%s: %w", c.Op.Path, ErrConcurrentModification)
			}
			return nil
		}
		if string(img.data) != c.PreImage {
			return fmt.Errorf("%s: %w", c.Op.Path, ErrConcurrentModification)
		}
	}
	return nil
}

func writeFile(abs string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, data, 0o644)
}

func (e *Engine) remove(abs string) error {
	if err := os.Remove(abs); err != nil {
		return err
	}
	e.pruneEmptyParents(filepath.Dir(abs))
	return nil
}

// pruneEmptyParents removes now-empty directories between the deleted file
// and the root. Stops at the first non-empty directory.
func (e *Engine) pruneEmptyParents(dir string) {
	absBase, err := filepath.Abs(e.Root)
	if err != nil {
		return
	}
	for {
		abs, err := filepath.Abs(dir)
		if err != nil || abs == absBase {
			return
		}
		rel, err := filepath.Rel(absBase, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return
		}
		entries, err := os.ReadDir(abs)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(abs); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// restore puts already-applied paths back, newest first. It keeps going past
// individual failures so every restorable path is restored, then reports the
// rest.
func (e *Engine) restore(applied []rollbackImage, cause error) error {
	var stuck []string
	for i := len(applied) - 1; i >= 0; i-- {
		img := applied[i]
		var err error
		if img.absent {
			err = os.Remove(img.abs)
			if err == nil {
				e.pruneEmptyParents(filepath.Dir(img.abs))
			}
		} else {
			err = writeFile(img.abs, img.data)
		}
		if err != nil && !os.IsNotExist(err) {
			stuck = append(stuck, img.path)
		}
	}
	if len(stuck) > 0 {
		return &IntegrityError{Paths: stuck, Cause: cause}
	}
	return nil
}
