// Package store holds the in-memory set of files currently in scope for the
// conversation: everything the user added plus everything the assistant
// created or modified this session.
package store

import (
	"errors"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("file not tracked")
	ErrInvalidPath = errors.New("invalid path")
)

// Origin records how a file entered the store.
type Origin int

const (
	// OriginAdded means the user added the file explicitly (/add or path guess).
	OriginAdded Origin = iota
	// OriginGenerated means the assistant created the file this session.
	OriginGenerated
)

func (o Origin) String() string {
	if o == OriginGenerated {
		return "generated"
	}
	return "added"
}

// TrackedFile is a single file in scope. LastSynced is the on-disk content at
// the last successful apply; it is the drift-detection baseline and the
// rollback target.
type TrackedFile struct {
	Path       string
	Content    string
	Origin     Origin
	LastSynced string

	seq     int // insertion order, for deterministic prompt assembly
	touched int // bumped on every content change, for recency ordering
}

// Store tracks files for one session. Not safe for concurrent use: the
// session manager is the only mutator (see the concurrency model).
type Store struct {
	files   map[string]*TrackedFile
	nextSeq int
	clock   int
}

// New creates an empty store.
func New() *Store {
	return &Store{files: make(map[string]*TrackedFile)}
}

// Normalize cleans a path for use as a store key: slash-separated, cleaned,
// relative. Absolute paths and paths escaping the root are rejected.
func Normalize(p string) (string, error) {
	if p == "" || strings.ContainsRune(p, '\x00') {
		return "", ErrInvalidPath
	}
	p = filepath.ToSlash(p)
	if path.IsAbs(p) {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// Get returns the content for a tracked path.
func (s *Store) Get(p string) (string, error) {
	key, err := Normalize(p)
	if err != nil {
		return "", err
	}
	tf, ok := s.files[key]
	if !ok {
		return "", ErrNotFound
	}
	return tf.Content, nil
}

// Has reports whether the path is tracked.
func (s *Store) Has(p string) bool {
	key, err := Normalize(p)
	if err != nil {
		return false
	}
	_, ok := s.files[key]
	return ok
}

// Upsert inserts or replaces the tracked content for a path.
func (s *Store) Upsert(p, content string, origin Origin) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	s.clock++
	if tf, ok := s.files[key]; ok {
		tf.Content = content
		tf.touched = s.clock
		return nil
	}
	s.files[key] = &TrackedFile{
		Path:    key,
		Content: content,
		Origin:  origin,
		seq:     s.nextSeq,
		touched: s.clock,
	}
	s.nextSeq++
	return nil
}

// MarkSynced records the on-disk content after a successful apply.
func (s *Store) MarkSynced(p, content string) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	tf, ok := s.files[key]
	if !ok {
		return ErrNotFound
	}
	tf.LastSynced = content
	return nil
}

// LastSynced returns the last-synced on-disk content for a tracked path.
func (s *Store) LastSynced(p string) (string, error) {
	key, err := Normalize(p)
	if err != nil {
		return "", err
	}
	tf, ok := s.files[key]
	if !ok {
		return "", ErrNotFound
	}
	return tf.LastSynced, nil
}

// Remove drops a path from the store.
func (s *Store) Remove(p string) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	if _, ok := s.files[key]; !ok {
		return ErrNotFound
	}
	delete(s.files, key)
	return nil
}

// Len returns the number of tracked files.
func (s *Store) Len() int {
	return len(s.files)
}

// Snapshot returns all tracked files in insertion order.
func (s *Store) Snapshot() []TrackedFile {
	out := make([]TrackedFile, 0, len(s.files))
	for _, tf := range s.files {
		out = append(out, *tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// RecentFirst returns all tracked files ordered most-recently-modified first,
// with insertion order as the stable tie-break.
func (s *Store) RecentFirst() []TrackedFile {
	out := s.Snapshot()
	sort.SliceStable(out, func(i, j int) bool { return out[i].touched > out[j].touched })
	return out
}
