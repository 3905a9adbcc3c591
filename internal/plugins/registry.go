package plugins

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
)

// Registry holds the loaded plugins, keyed by id. Registering an id
// twice replaces the earlier plugin, which is how hot reload works.
type Registry struct {
	mu      sync.Mutex
	plugins map[string]Plugin
	order   []string
	logger  *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		logger:  logger,
	}
}

// Register adds a plugin, replacing any existing plugin with the same
// id.
func (r *Registry) Register(p Plugin) {
	id := p.Metadata().ID

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[id]; exists {
		r.logger.Printf("replacing plugin: %s", id)
	} else {
		r.order = append(r.order, id)
	}
	r.plugins[id] = p
	r.logger.Printf("registered plugin: %s (%s)", id, p.Metadata().Name)
}

// Unregister removes a plugin by id.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[id]; !ok {
		return false
	}
	delete(r.plugins, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Printf("unregistered plugin: %s", id)
	return true
}

// Get returns a plugin by id, nil if absent.
func (r *Registry) Get(id string) Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plugins[id]
}

// All returns every registered plugin in registration order.
func (r *Registry) All() []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(false)
}

// Enabled returns the enabled plugins in registration order.
func (r *Registry) Enabled() []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(true)
}

// ByType returns plugins of the given type.
func (r *Registry) ByType(t Type) []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Plugin
	for _, id := range r.order {
		if p := r.plugins[id]; p != nil && p.Metadata().Type == t {
			out = append(out, p)
		}
	}
	return out
}

// SetEnabled flips a plugin's enabled flag.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[id]
	if !ok {
		return false
	}
	p.Metadata().Enabled = enabled
	return true
}

func (r *Registry) snapshot(enabledOnly bool) []Plugin {
	out := make([]Plugin, 0, len(r.order))
	for _, id := range r.order {
		p := r.plugins[id]
		if p == nil {
			continue
		}
		if enabledOnly && !p.Metadata().Enabled {
			continue
		}
		out = append(out, p)
	}
	return out
}

// PromptExtension collects the extensions of all enabled plugins,
// blank-line separated, for appending to the system prompt. Empty
// contributions are skipped.
func (r *Registry) PromptExtension(pctx *Context) string {
	var parts []string
	for _, p := range r.Enabled() {
		if ext := strings.TrimSpace(p.PromptExtension(pctx)); ext != "" {
			parts = append(parts, ext)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ContextExtensions merges the extra context of every enabled plugin
// that provides it, in registration order; later plugins overwrite
// colliding keys.
func (r *Registry) ContextExtensions(pctx *Context) map[string]any {
	extra := make(map[string]any)
	for _, p := range r.Enabled() {
		provider, ok := p.(ContextProvider)
		if !ok {
			continue
		}
		for k, v := range provider.ContextExtension(pctx) {
			extra[k] = v
		}
	}
	return extra
}

// HandleReply runs the reply-handler chain of all enabled plugins over
// the assistant's text. Handlers run in ascending priority; a handler
// returning cont=false stops the chain.
func (r *Registry) HandleReply(ctx context.Context, text string, pctx *Context) string {
	handlers := r.replyHandlers()
	for _, h := range handlers {
		var cont bool
		text, cont = h.HandleReply(ctx, text, pctx)
		if !cont {
			break
		}
	}
	return text
}

func (r *Registry) replyHandlers() []ReplyHandler {
	var handlers []ReplyHandler
	for _, p := range r.Enabled() {
		handlers = append(handlers, p.ReplyHandlers()...)
	}
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].Priority() < handlers[j].Priority()
	})
	return handlers
}

// ShutdownAll shuts every plugin down, logging failures.
func (r *Registry) ShutdownAll(ctx context.Context) {
	for _, p := range r.All() {
		if err := p.Shutdown(ctx); err != nil {
			r.logger.Printf("shutting down plugin %s: %v", p.Metadata().ID, err)
		}
	}
}
