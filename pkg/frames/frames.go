// Package frames keeps an explicit chain of execution frames in a
// context.Context so that the variable bindings of every active call can be
// snapshotted when a failure is intercepted.
//
// Go has no way to read another function's local variables, so inspectable code
// registers its own frame:
//
//	func save(ctx context.Context, path string, data []int) (err error) {
//		ctx, fr := frames.Enter(ctx, "save", "path", path, "data", data)
//		defer fr.Leave(&err)
//		...
//		fr.Set("tmp", tmp)
//	}
//
// Leave must be deferred directly (not from a closure) so that it can observe a
// panic unwinding through the frame.
package frames

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/psantana5/rescue/pkg/failure"
)

type contextKey int

const (
	frameKey contextKey = iota
	moduleKey
)

// tracker is shared by every frame of one chain and points at the innermost
// frame that is either still active or was left with the failure currently
// propagating.
type tracker struct {
	mu        sync.Mutex
	innermost *Frame
}

// Frame is one function activation registered with Enter.
type Frame struct {
	fn      string
	module  *Module
	parent  *Frame
	tracker *tracker

	mu       sync.RWMutex
	locals   map[string]any
	failure  error
	panicked bool
}

// Enter registers a new frame named fn as a child of the frame carried by ctx
// and binds the key/value pairs in kv as its locals.
func Enter(ctx context.Context, fn string, kv ...any) (context.Context, *Frame) {
	parent := From(ctx)
	tr := &tracker{}
	if parent != nil {
		tr = parent.tracker
	}
	module, _ := ctx.Value(moduleKey).(*Module)

	f := &Frame{
		fn:      fn,
		module:  module,
		parent:  parent,
		tracker: tr,
		locals:  pairs(kv),
	}

	tr.mu.Lock()
	tr.innermost = f
	tr.mu.Unlock()

	return context.WithValue(ctx, frameKey, f), f
}

// From returns the frame carried by ctx, or nil.
func From(ctx context.Context) *Frame {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(frameKey).(*Frame)
	return f
}

// Func returns the frame's function name.
func (f *Frame) Func() string { return f.fn }

// Parent returns the calling frame, or nil for the outermost frame.
func (f *Frame) Parent() *Frame { return f.parent }

// Set binds name to value in the frame's locals.
func (f *Frame) Set(name string, value any) *Frame {
	f.mu.Lock()
	f.locals[name] = value
	f.mu.Unlock()
	return f
}

// Get returns a local binding.
func (f *Frame) Get(name string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.locals[name]
	return v, ok
}

// Leave marks the end of the activation. A frame left with a nil error (and no
// panic) is popped. A frame left with a failure stays reachable so Capture can
// report it as part of the failing chain.
func (f *Frame) Leave(errp *error) {
	if r := recover(); r != nil {
		f.unwind(&failure.PanicError{Value: r}, true)
		panic(r)
	}

	var err error
	if errp != nil {
		err = *errp
	}
	if err == nil {
		f.pop()
		return
	}
	f.unwind(err, false)
}

func (f *Frame) pop() {
	tr := f.tracker
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.innermost != nil && descends(tr.innermost, f) {
		tr.innermost = f.parent
	}
}

func (f *Frame) unwind(err error, panicking bool) {
	f.mu.Lock()
	f.failure = err
	f.panicked = panicking
	f.mu.Unlock()

	tr := f.tracker
	tr.mu.Lock()
	defer tr.mu.Unlock()

	inner := tr.innermost
	if inner == f {
		return
	}
	if inner == nil || !descends(inner, f) {
		tr.innermost = f
		return
	}

	// A failed child below f is only part of this failure if the failure
	// propagated from it; otherwise it was handled and f failed on its own.
	child := inner
	for child.parent != f {
		child = child.parent
	}
	if !sameFailure(err, panicking, child) {
		tr.innermost = f
	}
}

func sameFailure(err error, panicking bool, child *Frame) bool {
	child.mu.RLock()
	defer child.mu.RUnlock()

	if child.failure == nil {
		return false
	}
	if child.panicked {
		_, isPanic := failure.AsPanic(err)
		return panicking || isPanic
	}
	return errors.Is(err, child.failure)
}

// descends reports whether f is anc or one of its descendants.
func descends(f, anc *Frame) bool {
	for cur := f; cur != nil; cur = cur.parent {
		if cur == anc {
			return true
		}
	}
	return false
}

func (f *Frame) snapshot() FrameSnapshot {
	bindings := make(map[string]any)
	moduleName := ""
	if f.module != nil {
		moduleName = f.module.Name()
		f.module.copyInto(bindings)
	}

	f.mu.RLock()
	for k, v := range f.locals {
		bindings[k] = v
	}
	f.mu.RUnlock()

	return FrameSnapshot{
		Func:     f.fn,
		Module:   moduleName,
		Bindings: bindings,
	}
}

func pairs(kv []any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		var value any
		if i+1 < len(kv) {
			value = kv[i+1]
		}
		m[key] = value
	}
	return m
}

// FrameSnapshot is a point-in-time copy of one frame's bindings. Module
// bindings are merged first so locals win on collision.
type FrameSnapshot struct {
	Func     string
	Module   string
	Bindings map[string]any
}

// Names returns the bound names in sorted order.
func (s FrameSnapshot) Names() []string {
	names := make([]string, 0, len(s.Bindings))
	for k := range s.Bindings {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s FrameSnapshot) String() string {
	if s.Module != "" {
		return s.Module + "." + s.Func
	}
	return s.Func
}

// CallStack is ordered innermost first: index 0 is the frame that failed.
type CallStack []FrameSnapshot

// Maps returns the bindings of every frame, in stack order.
func (cs CallStack) Maps() []map[string]any {
	out := make([]map[string]any, len(cs))
	for i, s := range cs {
		out[i] = s.Bindings
	}
	return out
}

// Traceback renders the chain outermost first, the way tracebacks read.
func (cs CallStack) Traceback() string {
	var b strings.Builder
	b.WriteString("Frames (most recent call last):\n")
	for i := len(cs) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "  [%d] %s\n", i, cs[i])
	}
	return b.String()
}

// Capture walks from the innermost frame of the failure that unwound through
// from (or from itself) out to the root of the chain. It never fails: when no
// chain is available the result is empty.
func Capture(from *Frame) (stack CallStack) {
	defer func() {
		if r := recover(); r != nil {
			stack = CallStack{}
		}
	}()

	if from == nil {
		return CallStack{}
	}

	start := from
	tr := from.tracker
	tr.mu.Lock()
	if tr.innermost != nil && descends(tr.innermost, from) {
		start = tr.innermost
	}
	tr.mu.Unlock()

	stack = CallStack{}
	for f := start; f != nil; f = f.parent {
		stack = append(stack, f.snapshot())
	}
	return stack
}

// CaptureContext captures from the frame carried by ctx.
func CaptureContext(ctx context.Context) CallStack {
	return Capture(From(ctx))
}
