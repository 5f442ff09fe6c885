// Package storage keeps the transcript log of chat sessions: an append-only
// index of session metadata and one turn file per session.
package storage

import (
	"bufio"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrNoMatches is returned when no session matches the query.
	ErrNoMatches = errors.New("no sessions found")
	// ErrManyMatches is returned when more than one session matches the query.
	ErrManyMatches = errors.New("multiple sessions matched the input")
)

const (
	indexFileName = "index.jsonl"
	lockFileName  = "index.lock"

	compactMinOps      = 256
	compactScaleFactor = 4
)

// Session is the index entry of one chat session.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	API       string    `json:"api,omitempty"`
	Model     string    `json:"model,omitempty"`
	Turns     int       `json:"turns"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type indexEvent struct {
	Op      string   `json:"op"`
	ID      string   `json:"id,omitempty"`
	Session *Session `json:"session,omitempty"`
}

// Index is the session metadata store. Every change is appended to a JSONL
// file under a file lock, so concurrent gizmo processes can share it; the
// file is rewritten once stale events outnumber live sessions.
type Index struct {
	mu       sync.RWMutex
	path     string
	lock     *flock.Flock
	sessions map[string]Session
	ops      int
}

func openIndex(dir string) (*Index, error) {
	idx := &Index{
		path:     filepath.Join(dir, indexFileName),
		lock:     flock.New(filepath.Join(dir, lockFileName)),
		sessions: map[string]Session{},
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Put upserts a session record.
func (idx *Index) Put(s Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("put: %w", errors.New("empty id"))
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("put: %w", errors.New("empty title"))
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = s.UpdatedAt
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.sessions[s.ID] = s
	if err := idx.appendLocked(indexEvent{Op: "upsert", Session: &s}); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return idx.compactIfNeededLocked()
}

// Get returns the session with exactly this id.
func (idx *Index) Get(id string) (Session, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.sessions[id]
	return s, ok
}

// Delete removes a session record. Unknown ids are ignored.
func (idx *Index) Delete(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("delete: %w", errors.New("empty id"))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.sessions[id]; !ok {
		return nil
	}
	delete(idx.sessions, id)
	if err := idx.appendLocked(indexEvent{Op: "delete", ID: id}); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return idx.compactIfNeededLocked()
}

// List returns sessions, most recently updated first.
func (idx *Index) List() []Session {
	return idx.filter(func(Session) bool { return true })
}

// OlderThan returns sessions not updated within d.
func (idx *Index) OlderThan(d time.Duration) []Session {
	cutoff := time.Now().Add(-d)
	return idx.filter(func(s Session) bool { return s.UpdatedAt.Before(cutoff) })
}

// Latest returns the most recently updated session.
func (idx *Index) Latest() (Session, error) {
	list := idx.List()
	if len(list) == 0 {
		return Session{}, fmt.Errorf("latest: %w", ErrNoMatches)
	}
	return list[0], nil
}

// Find resolves a session by id prefix or exact title. Prefixes shorter than
// MinIDLen only match titles.
func (idx *Index) Find(in string) (Session, error) {
	matches := idx.filter(func(s Session) bool {
		if s.Title == in {
			return true
		}
		return len(in) >= MinIDLen && strings.HasPrefix(s.ID, in)
	})
	switch len(matches) {
	case 0:
		return Session{}, fmt.Errorf("%w: %s", ErrNoMatches, in)
	case 1:
		return matches[0], nil
	default:
		return Session{}, fmt.Errorf("%w: %s", ErrManyMatches, in)
	}
}

// Completions returns shell completion candidates for ids and titles.
func (idx *Index) Completions(in string) []string {
	var out []string
	for _, s := range idx.List() {
		if strings.HasPrefix(s.ID, in) {
			out = append(out, ShortID(s.ID)+"\t"+s.Title)
		}
		if strings.HasPrefix(s.Title, in) {
			out = append(out, s.Title+"\t"+ShortID(s.ID))
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (idx *Index) filter(keep func(Session) bool) []Session {
	idx.mu.RLock()
	out := make([]Session, 0, len(idx.sessions))
	for _, s := range idx.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	idx.mu.RUnlock()

	slices.SortFunc(out, func(a, b Session) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (idx *Index) load() error {
	if err := idx.lock.RLock(); err != nil {
		return fmt.Errorf("could not lock index: %w", err)
	}
	defer func() { _ = idx.lock.Unlock() }()

	file, err := os.Open(idx.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not open index: %w", err)
	}
	defer file.Close() //nolint:errcheck

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var evt indexEvent
		if err := json.Unmarshal([]byte(text), &evt); err != nil {
			return fmt.Errorf("index line %d: %w", line, err)
		}
		if err := idx.apply(evt); err != nil {
			return fmt.Errorf("index line %d: %w", line, err)
		}
		idx.ops++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("could not scan index: %w", err)
	}
	return nil
}

func (idx *Index) apply(evt indexEvent) error {
	switch evt.Op {
	case "upsert":
		if evt.Session == nil || strings.TrimSpace(evt.Session.ID) == "" {
			return errors.New("invalid upsert event")
		}
		idx.sessions[evt.Session.ID] = *evt.Session
	case "delete":
		if strings.TrimSpace(evt.ID) == "" {
			return errors.New("invalid delete event")
		}
		delete(idx.sessions, evt.ID)
	default:
		return fmt.Errorf("invalid index op %q", evt.Op)
	}
	return nil
}

func (idx *Index) appendLocked(evt indexEvent) error {
	if err := idx.lock.Lock(); err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	defer func() { _ = idx.lock.Unlock() }()

	bts, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal index event: %w", err)
	}
	if err := appendLine(idx.path, bts); err != nil {
		return fmt.Errorf("append index event: %w", err)
	}
	idx.ops++
	return nil
}

func (idx *Index) compactIfNeededLocked() error {
	if idx.ops < compactMinOps {
		return nil
	}
	if len(idx.sessions) > 0 && idx.ops < len(idx.sessions)*compactScaleFactor {
		return nil
	}
	if err := idx.lock.Lock(); err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	defer func() { _ = idx.lock.Unlock() }()

	items := make([]Session, 0, len(idx.sessions))
	for _, s := range idx.sessions {
		items = append(items, s)
	}
	slices.SortFunc(items, func(a, b Session) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	err := replaceFile(idx.path, func(enc *json.Encoder) error {
		for _, s := range items {
			if err := enc.Encode(indexEvent{Op: "upsert", Session: &s}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("compact index: %w", err)
	}
	idx.ops = len(items)
	return nil
}

func appendLine(path string, line []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err //nolint:wrapcheck
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		_ = file.Close()
		return err //nolint:wrapcheck
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err //nolint:wrapcheck
	}
	return file.Close() //nolint:wrapcheck
}

func replaceFile(path string, write func(*json.Encoder) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := write(json.NewEncoder(tmp)); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err //nolint:wrapcheck
	}
	if err := tmp.Close(); err != nil {
		return err //nolint:wrapcheck
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err //nolint:wrapcheck
	}
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
