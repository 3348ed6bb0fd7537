package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/runlink/editor"
	"github.com/caffeineduck/runlink/executor"
	"github.com/caffeineduck/runlink/export"
	"github.com/caffeineduck/runlink/session"
)

// workspace pairs each editor buffer with its session in the manager.
type workspace struct {
	lang    executor.Language
	manager *session.Manager

	mu      sync.RWMutex
	editors map[string]*workspaceEditor
}

type workspaceEditor struct {
	buf      *editor.Buffer
	lastUsed time.Time
	// pinned editors were configured at startup and never expire.
	pinned bool
}

func newWorkspace(lang executor.Language, mgr *session.Manager) *workspace {
	ws := &workspace{
		lang:    lang,
		manager: mgr,
		editors: make(map[string]*workspaceEditor),
	}
	for _, id := range mgr.Instances() {
		ws.editors[id] = &workspaceEditor{buf: editor.New(id, lang), lastUsed: time.Now(), pinned: true}
	}
	return ws
}

func (ws *workspace) create(id, source string) (*editor.Buffer, error) {
	if err := ws.manager.Register(id); err != nil {
		return nil, err
	}
	buf := editor.New(id, ws.lang, editor.WithText(source))

	ws.mu.Lock()
	ws.editors[id] = &workspaceEditor{buf: buf, lastUsed: time.Now()}
	ws.mu.Unlock()
	return buf, nil
}

func (ws *workspace) get(id string) (*editor.Buffer, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.editors[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.buf, true
}

func (ws *workspace) remove(id string) error {
	ws.mu.Lock()
	_, ok := ws.editors[id]
	delete(ws.editors, id)
	ws.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", session.ErrUnknownInstance, id)
	}
	return ws.manager.Remove(id)
}

func (ws *workspace) ids() []string {
	return ws.manager.Instances()
}

// run submits the editor's current text.
func (ws *workspace) run(ctx context.Context, id string) error {
	buf, ok := ws.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrUnknownInstance, id)
	}
	return ws.manager.Run(ctx, id, buf.Text())
}

// export saves the editor's text to sink under key, or under the
// instance's default key when key is empty.
func (ws *workspace) export(ctx context.Context, sink export.Sink, id, key string) (string, error) {
	buf, ok := ws.get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", session.ErrUnknownInstance, id)
	}
	if key == "" {
		key = export.Key(id, ws.lang)
	}
	return sink.Save(ctx, key, buf.Text())
}

// expire removes unpinned editors idle for longer than ttl, skipping
// running ones.
func (ws *workspace) expire(ttl time.Duration) []string {
	now := time.Now()

	ws.mu.RLock()
	var stale []string
	for id, e := range ws.editors {
		if !e.pinned && now.Sub(e.lastUsed) > ttl {
			stale = append(stale, id)
		}
	}
	ws.mu.RUnlock()

	var removed []string
	for _, id := range stale {
		snap, err := ws.manager.Snapshot(id)
		if err != nil || snap.State == session.StateStarting || snap.State == session.StateStreaming {
			continue
		}
		if ws.remove(id) == nil {
			removed = append(removed, id)
		}
	}
	return removed
}
