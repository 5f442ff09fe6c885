package mcp

import (
	"context"
	"sync"
	"sync/atomic"
)

// fakeSession is an in-memory Session. A nil invoke echoes the tool name.
type fakeSession struct {
	name     string
	initErr  error
	initHold chan struct{}
	tools    []Tool
	listErr  error
	closeErr error
	invoke   func(ctx context.Context, name string, args map[string]any) (string, error)

	active    atomic.Int32
	maxActive atomic.Int32
	invokes   atomic.Int32
	closes    atomic.Int32

	mu    sync.Mutex
	order []string
}

func (f *fakeSession) Initialize(ctx context.Context) error {
	if f.initHold != nil {
		select {
		case <-f.initHold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.initErr
}

func (f *fakeSession) ListTools(context.Context) ([]Tool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	tools := make([]Tool, 0, len(f.tools))
	for _, t := range f.tools {
		t.Server = f.name
		tools = append(tools, t)
	}
	return tools, nil
}

func (f *fakeSession) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	f.invokes.Add(1)
	f.mu.Lock()
	f.order = append(f.order, name)
	f.mu.Unlock()

	if f.invoke == nil {
		return name, nil
	}
	return f.invoke(ctx, name, args)
}

func (f *fakeSession) Close() error {
	f.closes.Add(1)
	return f.closeErr
}

func toolsNamed(names ...string) []Tool {
	tools := make([]Tool, 0, len(names))
	for _, n := range names {
		tools = append(tools, Tool{Name: n, InputSchema: map[string]any{"type": "object"}})
	}
	return tools
}
