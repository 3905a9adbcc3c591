package timer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Repeat is a timer's repeat strategy.
type Repeat string

const (
	RepeatOnce    Repeat = "once"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
)

// ParseRepeat normalises a repeat attribute, defaulting to once.
func ParseRepeat(s string) Repeat {
	switch Repeat(s) {
	case RepeatDaily, RepeatWeekly, RepeatMonthly:
		return Repeat(s)
	default:
		return RepeatOnce
	}
}

// Next returns the trigger time advanced by one repeat period.
// Monthly is approximated as 30 days.
func (r Repeat) Next(t time.Time) time.Time {
	switch r {
	case RepeatDaily:
		return t.AddDate(0, 0, 1)
	case RepeatWeekly:
		return t.AddDate(0, 0, 7)
	case RepeatMonthly:
		return t.AddDate(0, 0, 30)
	default:
		return t
	}
}

// Task is one scheduled reminder.
type Task struct {
	ID             string    `json:"-"`
	TriggerTime    time.Time `json:"trigger_time"`
	Reason         string    `json:"reason"`
	Repeat         Repeat    `json:"repeat"`
	ContextSummary string    `json:"context_summary"`
	Platform       string    `json:"platform"`
	UserID         string    `json:"user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Enabled        bool      `json:"enabled"`
}

// Storage persists timer tasks as a JSON object keyed by id. Writes go
// through a temp file and rename so readers never see a torn file.
type Storage struct {
	mu   sync.Mutex
	path string
	// tasks is the in-memory copy; the file is rewritten on every
	// mutation.
	tasks map[string]*Task
}

// DefaultStoragePath returns ~/.ye-linghua/timers.json.
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".ye-linghua", "timers.json")
}

// NewStorage opens (or initialises) timer storage at path. Corrupt
// entries are dropped rather than failing the load.
func NewStorage(path string) (*Storage, error) {
	s := &Storage{path: path, tasks: make(map[string]*Task)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading timer storage: %w", err)
	}

	var raw map[string]*Task
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing timer storage: %w", err)
	}
	for id, task := range raw {
		if task == nil {
			continue
		}
		task.ID = id
		s.tasks[id] = task
	}
	return s, nil
}

// Add inserts or updates a task and persists.
func (s *Storage) Add(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return s.save()
}

// Remove deletes a task by exact id and persists.
func (s *Storage) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false, nil
	}
	delete(s.tasks, id)
	return true, s.save()
}

// RemoveByPrefix deletes the first task whose id starts with prefix.
func (s *Storage) RemoveByPrefix(prefix string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.tasks {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			delete(s.tasks, id)
			return true, s.save()
		}
	}
	return false, nil
}

// Get returns a task by id, nil if absent.
func (s *Storage) Get(id string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// All returns every task ordered by trigger time.
func (s *Storage) All() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerTime.Before(out[j].TriggerTime) })
	return out
}

// Due returns the enabled tasks whose trigger time has passed.
func (s *Storage) Due(now time.Time) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.Enabled && !t.TriggerTime.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerTime.Before(out[j].TriggerTime) })
	return out
}

// save must be called with the mutex held.
func (s *Storage) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating timer storage directory: %w", err)
	}

	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding timer storage: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing timer storage: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing timer storage: %w", err)
	}
	return nil
}
