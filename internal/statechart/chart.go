package statechart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/expressions"
	"github.com/rendis/asyncflow/internal/guard"
	"github.com/rendis/asyncflow/internal/logging"
	"github.com/rendis/asyncflow/pkg/schema"
)

// StartSignal is the name of the signal used to enter the initial state.
const StartSignal = "start"

// PayloadValidator checks a signal payload against a JSON Schema document.
// validation.ChartValidator satisfies it.
type PayloadValidator interface {
	ValidatePayload(payload map[string]any, payloadSchema any) error
}

// Event describes a chart transition for observers.
type Event struct {
	Type        string // one of the schema.Event* constants
	Chart       string
	ExecutionID string
	State       string
	From        string
	To          string
	Signal      string
	Time        time.Time
}

// Observer receives chart events synchronously, while the chart holds its
// traversal. It must not block.
type Observer func(Event)

// Chart is a hierarchical state chart driven by signals. It is an execution:
// Start enters the initial state, and reaching a final state completes the
// chart with that state's path, or fails it with an exception state's cause.
type Chart struct {
	*async.Machine[string]

	name     string
	states   map[string]State
	order    []string
	initial  string
	finals   map[string]bool
	scope    *expressions.Scope
	exprs    *expressions.Registry
	payloads PayloadValidator
	signals  map[string]any
	observer Observer

	g             *guard.Guard
	active        []State // root to leaf
	busy          bool
	queue         []schema.Signal
	cancelPending bool
}

// Name returns the chart name.
func (c *Chart) Name() string { return c.name }

// Initial returns the initial state path.
func (c *Chart) Initial() string { return c.initial }

// Scope returns the chart variables.
func (c *Chart) Scope() *expressions.Scope { return c.scope }

// IsFinal reports whether path is a registered final state.
func (c *Chart) IsFinal(path string) bool { return c.finals[path] }

// Finals returns the final state paths in registration order.
func (c *Chart) Finals() []string {
	var out []string
	for _, p := range c.order {
		if c.finals[p] {
			out = append(out, p)
		}
	}
	return out
}

// Lookup returns the state registered under path.
func (c *Chart) Lookup(path string) (State, bool) {
	s, ok := c.states[path]
	return s, ok
}

// States returns every state in registration order.
func (c *Chart) States() []State {
	out := make([]State, 0, len(c.order))
	for _, p := range c.order {
		out = append(out, c.states[p])
	}
	return out
}

// Current returns the path of the innermost active state, or "" before start.
func (c *Chart) Current() string {
	return guard.Get(c.g, func() string {
		if len(c.active) == 0 {
			return ""
		}
		return c.active[len(c.active)-1].Path()
	})
}

// Configuration returns the paths of all active states from the outermost
// composite to the innermost state.
func (c *Chart) Configuration() []string {
	return guard.Get(c.g, func() []string {
		out := make([]string, len(c.active))
		for i, s := range c.active {
			out[i] = s.Path()
		}
		return out
	})
}

// --- Lifecycle ---

// Start enters the initial state. It fails synchronously when no final state
// is registered, when the initial state is unknown or final, or when the
// chart already started.
func (c *Chart) Start() error {
	if len(c.finals) == 0 {
		return schema.NewErrorf(schema.ErrCodePrecondition, "chart %q has no final states", c.name).WithExecution(c.ID())
	}
	if _, ok := c.states[c.initial]; !ok {
		return schema.NewErrorf(schema.ErrCodePrecondition, "chart %q: initial state %q is not registered", c.name, c.initial).
			WithExecution(c.ID())
	}
	if c.finals[c.initial] {
		return schema.NewErrorf(schema.ErrCodePrecondition, "chart %q: initial state %q is final", c.name, c.initial).
			WithExecution(c.ID())
	}
	if !c.NotifyStarting() {
		return async.AlreadyStarted(c.ID(), c.State())
	}

	c.g.Run(func() { c.busy = true })
	c.NotifyStarted()

	ctx := c.context(context.Background())
	if c.State() == async.Running {
		c.safely(ctx, func() error {
			sig := schema.Named(StartSignal, nil)
			if err := c.enterPath(ctx, 0, c.initial, sig); err != nil {
				return err
			}
			c.checkFinal(ctx)
			return nil
		})
	}
	c.release(ctx)
	return nil
}

// HandleSignal delivers sig to the chart and reports whether a transition
// was selected. Signals are ignored unless the chart is running. Signals
// sent from inside the chart's own actions or listeners while a traversal is
// in progress are queued and handled once it completes; such calls report
// false. Actions must pass on the context they received, otherwise the call
// waits for the traversal it is part of.
func (c *Chart) HandleSignal(ctx context.Context, sig schema.Signal) bool {
	if c.State() != async.Running {
		c.Logger().Debug("signal ignored, chart not running",
			slog.String("signal", sig.String()), slog.String("state", c.State().String()))
		c.emit(Event{Type: schema.EventSignalIgnored, Signal: sig.Key(), State: c.Current()})
		return false
	}

	queued := guard.Get(c.g, func() bool {
		if c.busy && async.IsWithin(ctx, c.ID()) {
			c.queue = append(c.queue, sig)
			return true
		}
		return false
	})
	if queued {
		return false
	}

	claimed := c.g.Await(ctx, func() bool {
		if c.busy {
			return false
		}
		c.busy = true
		return true
	})
	if claimed != nil {
		c.Logger().Debug("signal dropped", slog.String("signal", sig.String()), slog.String("error", claimed.Error()))
		return false
	}

	ctx = c.context(ctx)
	moved := c.process(ctx, sig)
	c.release(ctx)
	return moved
}

// Send is HandleSignal for a named custom signal.
func (c *Chart) Send(ctx context.Context, name string, payload map[string]any) bool {
	return c.HandleSignal(ctx, schema.Named(name, payload))
}

// CancelWork exits the active states and finishes the chart as cancelled. A
// cancellation arriving during a traversal is applied once it completes.
func (c *Chart) CancelWork(bool) bool {
	deferred := guard.Get(c.g, func() bool {
		if c.busy {
			c.cancelPending = true
			return true
		}
		c.busy = true
		return false
	})
	if deferred {
		return true
	}
	ctx := c.context(context.Background())
	c.cancelNow(ctx)
	c.release(ctx)
	return true
}

// context carries the chart name for traversal logs. The execution ID is
// already bound to the machine logger.
func (c *Chart) context(ctx context.Context) context.Context {
	ctx = logging.WithChart(ctx, c.name)
	return async.MarkWithin(ctx, c.ID())
}

func (c *Chart) raise(sig schema.Signal) {
	queued := guard.Get(c.g, func() bool {
		if c.busy {
			c.queue = append(c.queue, sig)
			return true
		}
		return false
	})
	if !queued {
		go c.HandleSignal(context.Background(), sig)
	}
}

// release drains pending work and gives up the traversal.
func (c *Chart) release(ctx context.Context) {
	for {
		var (
			sig    schema.Signal
			next   bool
			cancel bool
		)
		c.g.Run(func() {
			switch {
			case c.cancelPending:
				c.cancelPending = false
				cancel = true
			case len(c.queue) > 0:
				sig = c.queue[0]
				c.queue = c.queue[1:]
				next = true
			default:
				c.busy = false
				c.g.Broadcast()
			}
		})
		switch {
		case cancel:
			c.cancelNow(ctx)
		case next:
			c.process(ctx, sig)
		default:
			return
		}
	}
}

func (c *Chart) cancelNow(ctx context.Context) {
	if c.State().IsTerminal() {
		return
	}
	sig := schema.Named("cancel", nil)
	for {
		leaf, ok := c.leaf()
		if !ok {
			break
		}
		if err := c.exitState(ctx, leaf, sig); err != nil {
			c.Logger().Warn("exit action failed during cancellation",
				slog.String("state", leaf.Path()), slog.String("error", err.Error()))
		}
	}
	c.g.Run(func() { c.queue = nil })
	c.NotifyCancelled()
}

// --- Traversal ---

func (c *Chart) process(ctx context.Context, sig schema.Signal) (moved bool) {
	if c.State() != async.Running {
		c.emit(Event{Type: schema.EventSignalIgnored, Signal: sig.Key(), State: c.Current()})
		return false
	}
	log := logging.LogWith(ctx, c.Logger())

	if err := c.checkPayload(sig); err != nil {
		log.Warn("signal payload rejected", slog.String("signal", sig.String()), slog.String("error", err.Error()))
		c.emit(Event{Type: schema.EventSignalIgnored, Signal: sig.Key(), State: c.Current()})
		return false
	}
	c.emit(Event{Type: schema.EventSignalReceived, Signal: sig.Key(), State: c.Current()})

	c.safely(ctx, func() error {
		source, t, ok, err := c.selectTransition(ctx, sig)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug("no transition selected", slog.String("signal", sig.String()), slog.String("state", c.Current()))
			c.emit(Event{Type: schema.EventSignalIgnored, Signal: sig.Key(), State: c.Current()})
			return nil
		}
		moved = true
		if t.IsStay() {
			return nil
		}
		if err := c.traverse(ctx, source, t, sig); err != nil {
			return err
		}
		c.checkFinal(ctx)
		return nil
	})
	return moved
}

// safely runs fn and fails the chart with the root cause of its error, or
// with its panic.
func (c *Chart) safely(ctx context.Context, fn func() error) {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = schema.NewErrorf(schema.ErrCodeExecution, "chart traversal panicked: %v", rec)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	logging.LogWith(ctx, c.Logger()).Error("chart traversal failed",
		slog.String("state", c.Current()), slog.String("error", err.Error()))
	c.NotifyFailed(async.RootCause(err))
}

func (c *Chart) checkPayload(sig schema.Signal) error {
	if c.payloads == nil || c.signals == nil {
		return nil
	}
	payloadSchema, ok := c.signals[sig.Key()]
	if !ok {
		return nil
	}
	return c.payloads.ValidatePayload(sig.Payload, payloadSchema)
}

// selectTransition asks the active states from the innermost outwards.
func (c *Chart) selectTransition(ctx context.Context, sig schema.Signal) (State, Transition, bool, error) {
	active := guard.Get(c.g, func() []State { return append([]State(nil), c.active...) })
	for i := len(active) - 1; i >= 0; i-- {
		s := active[i]
		t, ok, err := c.selectFrom(ctx, s, sig)
		if err != nil {
			return nil, Transition{}, false, err
		}
		if ok {
			return s, t, true, nil
		}
	}
	return nil, Transition{}, false, nil
}

func (c *Chart) selectFrom(ctx context.Context, s State, sig schema.Signal) (Transition, bool, error) {
	switch st := s.(type) {
	case *SinkState, *ExceptionState:
		return Transition{}, false, nil
	case *SingleState:
		return st.next, true, nil
	case *TableState:
		t, ok := st.lookup(sig)
		return t, ok, nil
	case *CompositeState:
		t, ok := st.lookup(sig)
		return t, ok, nil
	case *ChoiceState:
		in := c.input(st.Path(), sig)
		for i, b := range st.branches {
			if !b.Guarded() {
				return b.Transition, true, nil
			}
			var (
				ok  bool
				err error
			)
			if b.Func != nil {
				ok, err = b.Func(ctx, in)
			} else {
				ok, err = in.Test(ctx, b.Lang, b.Expression)
			}
			if err != nil {
				return Transition{}, false, fmt.Errorf("choice %q branch %d: %w", st.Path(), i, err)
			}
			if ok {
				return b.Transition, true, nil
			}
		}
		return Transition{}, false, nil
	case *FuncState:
		return st.fn(ctx, c.input(st.Path(), sig))
	default:
		return Transition{}, false, fmt.Errorf("unsupported state %T", s)
	}
}

// traverse exits the active states below the transition domain, runs the
// action and enters the target. The domain is the deepest common ancestor
// of source and target that is a proper ancestor of both, so transitions to
// self or to an ancestor exit and re-enter it.
func (c *Chart) traverse(ctx context.Context, source State, t Transition, sig schema.Signal) error {
	target, ok := c.states[t.target]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "transition target %q is not registered", t.target)
	}
	domain := commonDepth(source.Path(), target.Path())

	for {
		leaf, ok := c.leaf()
		if !ok || Depth(leaf.Path()) <= domain {
			break
		}
		if err := c.exitState(ctx, leaf, sig); err != nil {
			return err
		}
	}

	if t.action != nil {
		if err := t.action(ctx, c.input(source.Path(), sig)); err != nil {
			return err
		}
	}

	logging.LogWith(ctx, c.Logger()).Debug("chart transition",
		slog.String("from", source.Path()), slog.String("to", target.Path()), slog.String("signal", sig.String()))
	c.emit(Event{Type: schema.EventChartTransition, From: source.Path(), To: target.Path(), Signal: sig.Key()})

	return c.enterPath(ctx, domain, target.Path(), sig)
}

// enterPath enters the ancestors of path deeper than depth, then path, then
// drills into composite initial children.
func (c *Chart) enterPath(ctx context.Context, depth int, path string, sig schema.Signal) error {
	segments := strings.Split(path, ".")
	for d := depth + 1; d <= len(segments); d++ {
		p := strings.Join(segments[:d], ".")
		s, ok := c.states[p]
		if !ok {
			return schema.NewErrorf(schema.ErrCodeNotFound, "state %q is not registered", p)
		}
		if err := c.enterState(ctx, s, sig); err != nil {
			return err
		}
	}
	for {
		leaf, ok := c.leaf()
		if !ok {
			return nil
		}
		comp, isComposite := leaf.(*CompositeState)
		if !isComposite {
			return nil
		}
		child, ok := c.states[comp.initial]
		if !ok {
			return schema.NewErrorf(schema.ErrCodeNotFound, "initial child %q of %q is not registered", comp.initial, comp.Path())
		}
		if err := c.enterState(ctx, child, sig); err != nil {
			return err
		}
	}
}

func (c *Chart) enterState(ctx context.Context, s State, sig schema.Signal) error {
	c.g.Run(func() { c.active = append(c.active, s) })
	ctx = logging.WithState(ctx, s.Path())
	for _, a := range s.core().onEnter {
		if err := a(ctx, c.input(s.Path(), sig)); err != nil {
			return err
		}
	}
	c.emit(Event{Type: schema.EventStateEntered, State: s.Path(), Signal: sig.Key()})
	return nil
}

// exitState pops s, which must be the leaf, and runs its exit actions.
func (c *Chart) exitState(ctx context.Context, s State, sig schema.Signal) error {
	c.g.Run(func() {
		if n := len(c.active); n > 0 && c.active[n-1] == s {
			c.active = c.active[:n-1]
		}
	})
	ctx = logging.WithState(ctx, s.Path())
	for _, a := range s.core().onExit {
		if err := a(ctx, c.input(s.Path(), sig)); err != nil {
			return err
		}
	}
	c.emit(Event{Type: schema.EventStateExited, State: s.Path(), Signal: sig.Key()})
	return nil
}

func (c *Chart) leaf() (State, bool) {
	var s State
	ok := guard.Get(c.g, func() bool {
		if len(c.active) == 0 {
			return false
		}
		s = c.active[len(c.active)-1]
		return true
	})
	return s, ok
}

func (c *Chart) checkFinal(ctx context.Context) {
	leaf, ok := c.leaf()
	if !ok || !c.finals[leaf.Path()] {
		return
	}
	if ex, isException := leaf.(*ExceptionState); isException {
		logging.LogWith(ctx, c.Logger()).Debug("chart reached exception state", slog.String("state", leaf.Path()))
		c.NotifyFailed(ex.cause)
		return
	}
	c.NotifyCompleted(leaf.Path())
}

func (c *Chart) input(state string, sig schema.Signal) Input {
	return Input{Signal: sig, State: state, Scope: c.scope, chart: c}
}

func (c *Chart) emit(e Event) {
	if c.observer == nil {
		return
	}
	e.Chart = c.name
	e.ExecutionID = c.ID()
	e.Time = time.Now()
	c.observer(e)
}

// commonDepth returns the depth of the transition domain of a and b.
func commonDepth(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	n := 0
	for n < len(as) && n < len(bs) && as[n] == bs[n] {
		n++
	}
	if n == len(as) || n == len(bs) {
		n--
	}
	return n
}

var _ async.Startable[string] = (*Chart)(nil)
