package timer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ye-linghua/linghua/internal/plugins"
)

// schedulerInterval is how often the scheduler wakes to look for due
// timers.
const schedulerInterval = 30 * time.Second

// Callback is invoked for each due timer before its repeat handling.
type Callback func(task *Task)

// Plugin schedules reminders that the model sets through in-text tags.
type Plugin struct {
	meta     plugins.Metadata
	storage  *Storage
	logger   *log.Logger
	callback Callback
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates the timer plugin backed by the given storage path
// (DefaultStoragePath when empty).
func New(storagePath string, logger *log.Logger) (*Plugin, error) {
	if storagePath == "" {
		storagePath = DefaultStoragePath()
	}
	storage, err := NewStorage(storagePath)
	if err != nil {
		return nil, err
	}
	return &Plugin{
		meta: plugins.Metadata{
			ID:          "timer",
			Name:        "Timer Plugin",
			Version:     "1.0.0",
			Description: "Scheduled tasks and reminders",
			Type:        plugins.TypeGo,
			Enabled:     true,
		},
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (p *Plugin) Metadata() *plugins.Metadata { return &p.meta }

// SetCallback registers the function invoked when a timer fires.
func (p *Plugin) SetCallback(cb Callback) { p.callback = cb }

// Storage exposes the underlying task store.
func (p *Plugin) Storage() *Storage { return p.storage }

// Initialise starts the background scheduler.
func (p *Plugin) Initialise(ctx context.Context) error {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.schedulerLoop()
	p.logger.Printf("timer plugin initialised (storage: %s)", p.storage.path)
	return nil
}

// Shutdown stops the scheduler and waits for it to exit.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.stop == nil {
		return nil
	}
	close(p.stop)
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.stop = nil
	return nil
}

func (p *Plugin) schedulerLoop() {
	defer close(p.done)
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.fireDue()
		}
	}
}

// fireDue triggers every due timer, then removes it or advances its
// trigger time according to the repeat strategy.
func (p *Plugin) fireDue() {
	for _, task := range p.storage.Due(p.now()) {
		if p.callback != nil {
			p.callback(task)
		}

		if task.Repeat == RepeatOnce {
			if _, err := p.storage.Remove(task.ID); err != nil {
				p.logger.Printf("removing fired timer %s: %v", task.ID, err)
			}
			continue
		}
		task.TriggerTime = task.Repeat.Next(task.TriggerTime)
		if err := p.storage.Add(task); err != nil {
			p.logger.Printf("rescheduling timer %s: %v", task.ID, err)
		}
	}
}

// SetTimer parses the time string, creates a task, and persists it.
// Returns the new timer id.
func (p *Plugin) SetTimer(timeStr, reason string, repeat Repeat, pctx *plugins.Context) (string, error) {
	task := &Task{
		ID:          uuid.NewString(),
		TriggerTime: p.parseTime(timeStr),
		Reason:      reason,
		Repeat:      repeat,
		CreatedAt:   p.now(),
		Enabled:     true,
	}
	if pctx != nil {
		task.Platform = pctx.Platform
		task.UserID = pctx.UserID
		task.ContextSummary = pctx.MessageSummary()
	}
	if err := p.storage.Add(task); err != nil {
		return "", err
	}
	p.logger.Printf("set timer %s for %s", task.ID, task.TriggerTime.Format(time.RFC3339))
	return task.ID, nil
}

// RemoveTimer removes a timer by id or id prefix.
func (p *Plugin) RemoveTimer(id string) bool {
	ok, err := p.storage.RemoveByPrefix(id)
	if err != nil {
		p.logger.Printf("removing timer %s: %v", id, err)
	}
	return ok
}

// ListTimers renders the active timer table for the user.
func (p *Plugin) ListTimers() string {
	tasks := p.storage.All()
	if len(tasks) == 0 {
		return "No active timers"
	}

	var b strings.Builder
	b.WriteString("Active timers:\n")
	for _, t := range tasks {
		glyph := "✅"
		if !t.Enabled {
			glyph = "❌"
		}
		fmt.Fprintf(&b, "%s [%s] %s - %s (%s)\n",
			glyph, t.ID[:8], t.TriggerTime.Format("2006-01-02 15:04:05"), t.Reason, t.Repeat)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseTime resolves a timer time attribute. Accepted forms, in order:
// relative ("in N minutes/hours/days/weeks"), ISO 8601, then a handful
// of common layouts. Anything else defaults to one hour from now with
// a warning.
func (p *Plugin) parseTime(s string) time.Time {
	now := p.now()
	cleaned := strings.ToLower(strings.TrimSpace(s))

	if rest, ok := strings.CutPrefix(cleaned, "in "); ok {
		if t, ok := parseRelative(now, rest); ok {
			return t
		}
	}

	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
		return t
	}

	layouts := []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"01/02/2006 15:04",
		"02/01/2006 15:04",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.Local); err == nil {
			return t
		}
	}

	p.logger.Printf("could not parse time string %q, defaulting to 1 hour", s)
	return now.Add(time.Hour)
}

func parseRelative(now time.Time, rest string) (time.Time, bool) {
	parts := strings.Fields(rest)
	if len(parts) < 2 {
		return time.Time{}, false
	}
	amount, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, false
	}

	unit := parts[1]
	switch {
	case strings.Contains(unit, "minute"):
		return now.Add(time.Duration(amount) * time.Minute), true
	case strings.Contains(unit, "hour"):
		return now.Add(time.Duration(amount) * time.Hour), true
	case strings.Contains(unit, "day"):
		return now.AddDate(0, 0, amount), true
	case strings.Contains(unit, "week"):
		return now.AddDate(0, 0, 7*amount), true
	}
	return time.Time{}, false
}

// PromptExtension documents the timer tags for the model.
func (p *Plugin) PromptExtension(pctx *plugins.Context) string {
	return `## Timers

You can manage timers with the following tags:

1. Set a timer:
   <set-timer time="in 5 minutes" reason="check email" repeat="once" />
   - time: "in N minutes/hours/days/weeks" or an absolute time
   - reason: what to remind about
   - repeat: once, daily, weekly, monthly

2. List all timers:
   <list-timers />

3. Remove a timer:
   <remove-timer id="timer-id-here" />

The runtime processes these tags and shows the result to the user.`
}

// ReplyHandlers returns the tag-scanning handler.
func (p *Plugin) ReplyHandlers() []plugins.ReplyHandler {
	return []plugins.ReplyHandler{&replyHandler{plugin: p}}
}
