// task_store.go implements a thread-safe task store backed by a JSON ledger.
//
// The store is the only shared mutable state in the engine: the submitting
// path and every monitor goroutine mutate tasks exclusively through Create
// and Update, which rewrite the ledger file under the store lock. Ledger
// write failures are logged and never surfaced to callers — in-memory state
// keeps working without durability.
package main

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TaskStore holds all tasks in memory, protected by a mutex, and mirrors
// them to a JSON document keyed by task id. Expected scale is tens to low
// hundreds of tasks per ledger, so every mutation rewrites the whole file.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
	path  string
	log   *logrus.Entry
}

// NewTaskStore opens the ledger at path. A missing file starts an empty
// store; entries that fail to parse are dropped with a warning so a damaged
// ledger never blocks startup.
func NewTaskStore(path string) *TaskStore {
	s := &TaskStore{
		tasks: make(map[string]*Task),
		path:  path,
		log:   logrus.WithField("component", "task_store"),
	}
	s.load()
	return s
}

// CreateParams are the immutable fields fixed when a task is created.
type CreateParams struct {
	Prompt         string
	Model          string
	Resolution     string
	NegativePrompt string
	PromptExtend   bool
	InputFile      string
}

// Create inserts a new PENDING task with a fresh id and persists the ledger.
// The returned value is a copy, safe to read without the store lock.
func (s *TaskStore) Create(p CreateParams) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Task{
		ID:             uuid.NewString(),
		Prompt:         p.Prompt,
		Model:          p.Model,
		Resolution:     p.Resolution,
		NegativePrompt: p.NegativePrompt,
		PromptExtend:   p.PromptExtend,
		InputFile:      p.InputFile,
		Status:         StatusPending,
		CreatedAt:      time.Now().Format(time.RFC3339),
	}
	s.tasks[t.ID] = t
	s.save()
	return *t
}

// Get returns a copy of the task with the given id.
func (s *TaskStore) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns copies of all tasks, in no particular order. Callers that
// display tasks sort by CreatedAt themselves.
func (s *TaskStore) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

// Pending returns copies of all non-terminal tasks. Used on startup to
// resume monitoring after a process restart.
func (s *TaskStore) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, t := range s.tasks {
		if !t.Completed() {
			out = append(out, *t)
		}
	}
	return out
}

// Update applies the non-nil fields of u to the task with the given id and
// persists the ledger. Unknown ids are a no-op.
func (s *TaskStore) Update(id string, u TaskUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}
	u.apply(t)
	s.save()
}

// save serializes the whole map to the ledger file. Callers must hold mu.
// The document is written to a temp file and renamed into place, so a
// failed write leaves the previous ledger intact.
func (s *TaskStore) save() {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		s.log.WithError(err).Error("failed to serialize task ledger")
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.WithError(err).Error("failed to write task ledger")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.WithError(err).Error("failed to replace task ledger")
	}
}

// load reads the ledger file into memory. Each entry is decoded on its own
// so one corrupt record costs only that record, not the whole ledger.
func (s *TaskStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).Error("failed to read task ledger, starting empty")
		}
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.WithError(err).Error("task ledger is not valid JSON, starting empty")
		return
	}

	for id, entry := range raw {
		var t Task
		if err := json.Unmarshal(entry, &t); err != nil {
			s.log.WithFields(logrus.Fields{"task": id}).WithError(err).Warn("dropping unreadable ledger entry")
			continue
		}
		if t.ID == "" {
			t.ID = id
		}
		s.tasks[t.ID] = &t
	}
}
