package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ye-linghua/linghua/internal/plugins"
)

func newPlugin() *Plugin {
	return New(log.New(io.Discard, "", 0))
}

func TestNotifyTagDispatchesAndRewrites(t *testing.T) {
	p := newPlugin()

	var gotTitle, gotMessage string
	p.SetBackend(func(ctx context.Context, title, message string) error {
		gotTitle, gotMessage = title, message
		return nil
	})

	h := p.ReplyHandlers()[0]
	out, cont := h.HandleReply(context.Background(),
		`Done. <notify title="Build" message="Tests passed"/>`, &plugins.Context{})

	assert.True(t, cont)
	assert.Equal(t, "Build", gotTitle)
	assert.Equal(t, "Tests passed", gotMessage)
	assert.Equal(t, "Done. ✅ Notification sent", out)
}

func TestNotifyBackendFailureShowsGlyph(t *testing.T) {
	p := newPlugin()
	p.SetBackend(func(ctx context.Context, title, message string) error {
		return errors.New("no display")
	})

	h := p.ReplyHandlers()[0]
	out, _ := h.HandleReply(context.Background(),
		`<notify title="x" message="y"/>`, &plugins.Context{})
	assert.Equal(t, "❌ Notification failed", out)
}

func TestNotifyTagRequiresBothAttributes(t *testing.T) {
	p := newPlugin()
	called := false
	p.SetBackend(func(ctx context.Context, title, message string) error {
		called = true
		return nil
	})

	h := p.ReplyHandlers()[0]
	const text = `<notify title="only title"/>`
	out, _ := h.HandleReply(context.Background(), text, &plugins.Context{})
	assert.Equal(t, text, out)
	assert.False(t, called)
}

func TestHandlerRunsAfterTimerPriority(t *testing.T) {
	p := newPlugin()
	assert.Equal(t, 60, p.ReplyHandlers()[0].Priority())
}
