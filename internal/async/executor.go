package async

import "context"

// Executor runs submitted functions, typically on other goroutines. It is
// used to deliver *Async listener callbacks and to host goroutine-based work.
// pool.Pool satisfies it.
type Executor interface {
	Submit(ctx context.Context, fn func(ctx context.Context) error) error
}

type goExecutor struct{}

func (goExecutor) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	go func() { _ = fn(ctx) }()
	return nil
}

// GoExecutor starts one goroutine per submitted function.
var GoExecutor Executor = goExecutor{}

type frameKey struct{}

type frame struct {
	id     string
	parent *frame
}

// MarkWithin returns a context recording that the caller runs inside the
// lifecycle callback or work of execution id.
func MarkWithin(ctx context.Context, id string) context.Context {
	parent, _ := ctx.Value(frameKey{}).(*frame)
	return context.WithValue(ctx, frameKey{}, &frame{id: id, parent: parent})
}

// IsWithin reports whether ctx was marked by MarkWithin for execution id.
func IsWithin(ctx context.Context, id string) bool {
	f, _ := ctx.Value(frameKey{}).(*frame)
	for ; f != nil; f = f.parent {
		if f.id == id {
			return true
		}
	}
	return false
}
