package mutation

import (
	"context"
	"sync"
)

type commitKey struct{}

type commitHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

func (h *commitHooks) add(fn func(context.Context)) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *commitHooks) run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

// AfterCommit schedules fn to run once the transaction of the mutation
// carried by ctx has committed. It is dropped on rollback. Outside a
// mutation fn runs immediately.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if h, ok := ctx.Value(commitKey{}).(*commitHooks); ok {
		h.add(fn)
		return
	}
	fn(context.WithoutCancel(ctx))
}

// withCommitHooks returns a context collecting AfterCommit callbacks and a
// function running them. A nested mutation joins the outer collection and
// gets a no-op runner; the outermost one runs the callbacks.
func withCommitHooks(ctx context.Context) (context.Context, func(context.Context)) {
	if _, ok := ctx.Value(commitKey{}).(*commitHooks); ok {
		return ctx, func(context.Context) {}
	}
	h := &commitHooks{}
	return context.WithValue(ctx, commitKey{}, h), func(ctx context.Context) {
		h.run(context.WithoutCancel(ctx))
	}
}
