package plugins

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlugin is a minimal in-process plugin for registry tests.
type fakePlugin struct {
	meta     Metadata
	prompt   string
	handlers []ReplyHandler
}

func (f *fakePlugin) Metadata() *Metadata                   { return &f.meta }
func (f *fakePlugin) Initialise(ctx context.Context) error  { return nil }
func (f *fakePlugin) Shutdown(ctx context.Context) error    { return nil }
func (f *fakePlugin) PromptExtension(pctx *Context) string  { return f.prompt }
func (f *fakePlugin) ReplyHandlers() []ReplyHandler         { return f.handlers }

// contextPlugin additionally contributes extra context.
type contextPlugin struct {
	fakePlugin
	extra map[string]any
}

func (f *contextPlugin) ContextExtension(pctx *Context) map[string]any { return f.extra }

type fakeHandler struct {
	priority int
	suffix   string
	cont     bool
	calls    *[]string
}

func (h *fakeHandler) Priority() int { return h.priority }
func (h *fakeHandler) HandleReply(ctx context.Context, text string, pctx *Context) (string, bool) {
	*h.calls = append(*h.calls, h.suffix)
	return text + h.suffix, h.cont
}

func newRegistry() *Registry {
	return NewRegistry(log.New(io.Discard, "", 0))
}

func TestPromptExtensionJoinsEnabledPlugins(t *testing.T) {
	r := newRegistry()
	r.Register(&fakePlugin{meta: Metadata{ID: "a", Enabled: true}, prompt: "alpha rules"})
	r.Register(&fakePlugin{meta: Metadata{ID: "b", Enabled: true}, prompt: ""})
	r.Register(&fakePlugin{meta: Metadata{ID: "c", Enabled: true}, prompt: "gamma rules"})
	r.Register(&fakePlugin{meta: Metadata{ID: "d", Enabled: false}, prompt: "hidden"})

	got := r.PromptExtension(&Context{})
	assert.Equal(t, "alpha rules\n\ngamma rules", got)
}

func TestContextExtensionsMergeAcrossPlugins(t *testing.T) {
	r := newRegistry()
	r.Register(&contextPlugin{
		fakePlugin: fakePlugin{meta: Metadata{ID: "weather", Enabled: true}},
		extra:      map[string]any{"temperature": "21C", "shared": "weather"},
	})
	r.Register(&contextPlugin{
		fakePlugin: fakePlugin{meta: Metadata{ID: "calendar", Enabled: true}},
		extra:      map[string]any{"next_event": "standup", "shared": "calendar"},
	})
	r.Register(&contextPlugin{
		fakePlugin: fakePlugin{meta: Metadata{ID: "off", Enabled: false}},
		extra:      map[string]any{"hidden": true},
	})
	// Plugins without the capability are simply skipped.
	r.Register(&fakePlugin{meta: Metadata{ID: "plain", Enabled: true}})

	got := r.ContextExtensions(&Context{})
	assert.Equal(t, "21C", got["temperature"])
	assert.Equal(t, "standup", got["next_event"])
	// Later registrations win on colliding keys.
	assert.Equal(t, "calendar", got["shared"])
	assert.NotContains(t, got, "hidden")
}

func TestHandleReplyRunsInPriorityOrder(t *testing.T) {
	r := newRegistry()
	var calls []string
	r.Register(&fakePlugin{
		meta: Metadata{ID: "late", Enabled: true},
		handlers: []ReplyHandler{
			&fakeHandler{priority: 60, suffix: " B", cont: true, calls: &calls},
		},
	})
	r.Register(&fakePlugin{
		meta: Metadata{ID: "early", Enabled: true},
		handlers: []ReplyHandler{
			&fakeHandler{priority: 50, suffix: " A", cont: true, calls: &calls},
		},
	})

	got := r.HandleReply(context.Background(), "text", &Context{})
	assert.Equal(t, "text A B", got)
	assert.Equal(t, []string{" A", " B"}, calls)
}

func TestHandleReplyStopsWhenHandlerSaysSo(t *testing.T) {
	r := newRegistry()
	var calls []string
	r.Register(&fakePlugin{
		meta: Metadata{ID: "p", Enabled: true},
		handlers: []ReplyHandler{
			&fakeHandler{priority: 10, suffix: " first", cont: false, calls: &calls},
			&fakeHandler{priority: 20, suffix: " second", cont: true, calls: &calls},
		},
	})

	got := r.HandleReply(context.Background(), "x", &Context{})
	assert.Equal(t, "x first", got)
	assert.Equal(t, []string{" first"}, calls)
}

func TestRegisterReplacesExistingID(t *testing.T) {
	r := newRegistry()
	r.Register(&fakePlugin{meta: Metadata{ID: "p", Enabled: true}, prompt: "old"})
	r.Register(&fakePlugin{meta: Metadata{ID: "p", Enabled: true}, prompt: "new"})

	require.Len(t, r.All(), 1)
	assert.Equal(t, "new", r.PromptExtension(&Context{}))
}

func TestEnableDisable(t *testing.T) {
	r := newRegistry()
	r.Register(&fakePlugin{meta: Metadata{ID: "p", Enabled: true}, prompt: "visible"})

	require.True(t, r.SetEnabled("p", false))
	assert.Empty(t, r.PromptExtension(&Context{}))
	assert.Empty(t, r.Enabled())

	require.True(t, r.SetEnabled("p", true))
	assert.Equal(t, "visible", r.PromptExtension(&Context{}))

	assert.False(t, r.SetEnabled("ghost", true))
}

func TestByType(t *testing.T) {
	r := newRegistry()
	r.Register(&fakePlugin{meta: Metadata{ID: "builtin", Type: TypeGo, Enabled: true}})
	r.Register(&fakePlugin{meta: Metadata{ID: "script", Type: TypeShell, Enabled: true}})

	shell := r.ByType(TypeShell)
	require.Len(t, shell, 1)
	assert.Equal(t, "script", shell[0].Metadata().ID)
	assert.Empty(t, r.ByType(TypePowerShell))
}

func TestUnregister(t *testing.T) {
	r := newRegistry()
	r.Register(&fakePlugin{meta: Metadata{ID: "p", Enabled: true}})

	assert.True(t, r.Unregister("p"))
	assert.Nil(t, r.Get("p"))
	assert.False(t, r.Unregister("p"))
}
