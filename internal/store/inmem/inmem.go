// Package inmem provides an in-memory implementation of store.Store for
// tests and local development. Records hold no persistence across process
// restarts; production deployments use internal/store/mongo instead.
package inmem

import (
	"context"
	"sync"
	"time"

	"flowengine/internal/flow"
	"flowengine/internal/store"
)

// Store implements store.Store in memory with no durability. All operations
// are thread-safe via sync.RWMutex. Records are defensively copied on read
// and write to prevent accidental mutation of stored data.
type Store struct {
	mu       sync.RWMutex
	versions map[string]flow.Version
	tasks    map[string]flow.Task
	sessions map[string]*flow.Session
}

// New constructs an empty Store, immediately ready for use.
func New() *Store {
	return &Store{
		versions: make(map[string]flow.Version),
		tasks:    make(map[string]flow.Task),
		sessions: make(map[string]*flow.Session),
	}
}

// PutVersion seeds a workflow version for tests; it is not part of
// store.Store because production callers populate versions out of band
// (the workflow-authoring subsystem is out of scope, spec.md §1).
func (s *Store) PutVersion(v flow.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.FlowVersionID] = v
}

// PutSession registers a session so UpdateSessionStatus has a row to patch;
// tests call this directly, production code does so via the Status
// Updater's CreateTask path's first task (the trigger task) implicitly.
func (s *Store) PutSession(sess flow.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sess
	s.sessions[sess.SessionID] = &cp
}

func (s *Store) FlowVersion(_ context.Context, flowVersionID string) (flow.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[flowVersionID]
	if !ok {
		return flow.Version{}, store.ErrNotFound
	}
	return v, nil
}

func (s *Store) PublishedTriggerVersions(_ context.Context) ([]flow.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []flow.Version
	for _, v := range s.versions {
		if !v.Published {
			continue
		}
		for _, a := range v.Definition.Actions {
			if a.Kind == flow.ActionKindTrigger && a.PluginName == "@anything/cron" {
				out = append(out, v)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) InsertTask(_ context.Context, task flow.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = task
	if _, ok := s.sessions[task.FlowSessionID]; !ok && task.FlowSessionID != "" {
		s.sessions[task.FlowSessionID] = &flow.Session{
			SessionID: task.FlowSessionID, FlowID: task.FlowID, FlowVersionID: task.FlowVersionID,
			Stage: task.Stage, AccountID: task.AccountID, CreatedAt: time.Now(),
		}
	}
	return nil
}

func (s *Store) UpdateTask(_ context.Context, taskID string, patch store.TaskPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = patch.Status
	if patch.Result != nil {
		t.Result = patch.Result
	}
	if patch.Context != nil {
		t.Context = patch.Context
	}
	if patch.Error != nil {
		t.Error = patch.Error
	}
	if patch.StartedAt != nil {
		ts := time.Unix(0, *patch.StartedAt)
		t.StartedAt = &ts
	}
	if patch.EndedAt != nil {
		ts := time.Unix(0, *patch.EndedAt)
		t.EndedAt = &ts
	}
	s.tasks[taskID] = t
	return nil
}

func (s *Store) UpdateSessionStatus(_ context.Context, sessionID string, flowStatus, triggerStatus flow.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	sess.Status = flowStatus
	sess.TriggerSessionStatus = triggerStatus
	return nil
}

// Task returns a defensive copy of a task row, for test assertions.
func (s *Store) Task(taskID string) (flow.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	return t, ok
}

// Session returns a defensive copy of a session row, for test assertions.
func (s *Store) Session(sessionID string) (flow.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return flow.Session{}, false
	}
	return *sess, true
}

// TasksForSession returns every task row recorded against sessionID, for
// test assertions that need to inspect a whole workflow run's task set
// without knowing individual task ids up front.
func (s *Store) TasksForSession(sessionID string) []flow.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []flow.Task
	for _, t := range s.tasks {
		if t.FlowSessionID == sessionID {
			out = append(out, t)
		}
	}
	return out
}
