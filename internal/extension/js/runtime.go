// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package js runs JavaScript extensions on an embedded goja VM. Scripts
// export activate and deactivate through module.exports, exports, or as
// globals. Facility failures are thrown as JavaScript errors.
package js

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
	"github.com/samber/oops"

	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/manifest"
)

// CodeLoadFailed is returned when an extension script does not evaluate.
const CodeLoadFailed = "JS_LOAD_FAILED"

// Compile-time interface check.
var _ extension.Runtime = (*Runtime)(nil)

// Runtime loads JavaScript extensions, one VM per instance.
type Runtime struct {
	logger *slog.Logger
}

// NewRuntime creates a JavaScript runtime. A nil logger uses slog.Default.
func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{logger: logger}
}

// Type implements extension.Runtime.
func (r *Runtime) Type() manifest.Type { return manifest.TypeJS }

// Load evaluates the script in a fresh VM with CommonJS style module and
// exports objects and a console bound to the extension's logger.
func (r *Runtime) Load(ctx context.Context, m *manifest.Manifest, code string) (extension.Instance, error) {
	logger := r.logger.With("extension", m.ID, "runtime", "js")
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	inst := &instance{id: m.ID, vm: vm, logger: logger}
	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, oops.In("js").With("extension", m.ID).Wrap(err)
	}
	for name, v := range map[string]any{
		"module":  module,
		"exports": exports,
		"console": inst.console(),
	} {
		if err := vm.Set(name, v); err != nil {
			return nil, oops.In("js").With("extension", m.ID).Wrap(err)
		}
	}

	err := inst.guarded(ctx, func() error {
		_, err := vm.RunScript(m.Main, code)
		return err
	})
	if err != nil {
		return nil, oops.In("js").Code(CodeLoadFailed).
			With("extension", m.ID).
			With("main", m.Main).
			Hint("check the script for syntax errors").
			Wrap(err)
	}
	inst.module = module
	return inst, nil
}

type instance struct {
	id     string
	vm     *goja.Runtime
	module *goja.Object
	logger *slog.Logger
	// ctxs holds the context of every call currently on the VM stack,
	// innermost last.
	ctxs []context.Context
}

// Activate calls the exported activate(ctx). A script without one
// activates with only its manifest contributions.
func (i *instance) Activate(ctx context.Context, c *extension.Context) error {
	fn, err := i.export("activate")
	if err != nil || fn == nil {
		return err
	}
	obj, err := i.contextObject(c)
	if err != nil {
		return oops.In("js").With("extension", i.id).Wrap(err)
	}
	_, err = i.call(ctx, fn, obj)
	return err
}

// Deactivate calls the exported deactivate() when defined.
func (i *instance) Deactivate(ctx context.Context) error {
	fn, err := i.export("deactivate")
	if err != nil || fn == nil {
		return err
	}
	_, err = i.call(ctx, fn)
	return err
}

func (i *instance) Close() error {
	i.vm.Interrupt(errClosed)
	return nil
}

var errClosed = errors.New("extension closed")

// export resolves name from module.exports, then from the exports object
// the script may have replaced, then from the global scope.
func (i *instance) export(name string) (goja.Callable, error) {
	candidates := []goja.Value{}
	if exp := i.module.Get("exports"); exp != nil && !goja.IsUndefined(exp) && !goja.IsNull(exp) {
		candidates = append(candidates, exp.ToObject(i.vm).Get(name))
	}
	if exp := i.vm.Get("exports"); exp != nil && !goja.IsUndefined(exp) && !goja.IsNull(exp) {
		candidates = append(candidates, exp.ToObject(i.vm).Get(name))
	}
	candidates = append(candidates, i.vm.Get(name))

	for _, v := range candidates {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			continue
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, oops.In("js").With("extension", i.id).
				Errorf("export %s is a %s, not a function", name, v.ExportType())
		}
		return fn, nil
	}
	return nil, nil
}

// current is the context of the innermost running call.
func (i *instance) current() context.Context {
	if n := len(i.ctxs); n > 0 {
		return i.ctxs[n-1]
	}
	return context.Background()
}

// call invokes fn under ctx. A returned promise must already be settled
// since the VM has no event loop after the call returns.
func (i *instance) call(ctx context.Context, fn goja.Callable, args ...any) (goja.Value, error) {
	vals := make([]goja.Value, len(args))
	for j, a := range args {
		vals[j] = i.vm.ToValue(a)
	}

	var ret goja.Value
	err := i.guarded(ctx, func() error {
		v, err := fn(goja.Undefined(), vals...)
		if err != nil {
			return err
		}
		ret = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	p, ok := ret.Export().(*goja.Promise)
	if !ok {
		return ret, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, i.rejection(p.Result())
	default:
		return nil, oops.In("js").With("extension", i.id).
			Errorf("promise did not settle; awaiting host timers or I/O is not supported")
	}
}

// guarded runs fn with ctx pushed on the call stack and interrupts the VM
// when ctx ends before fn returns.
func (i *instance) guarded(ctx context.Context, fn func() error) error {
	i.ctxs = append(i.ctxs, ctx)
	stop := make(chan struct{})
	fired := make(chan bool, 1)
	go func() {
		select {
		case <-ctx.Done():
			i.vm.Interrupt(ctx.Err())
			fired <- true
		case <-stop:
			fired <- false
		}
	}()

	err := fn()

	close(stop)
	if <-fired {
		i.vm.ClearInterrupt()
	}
	i.ctxs = i.ctxs[:len(i.ctxs)-1]
	// An inner clear may have swallowed an outer interrupt.
	for _, outer := range i.ctxs {
		if cerr := outer.Err(); cerr != nil {
			i.vm.Interrupt(cerr)
			break
		}
	}

	if err == nil {
		return nil
	}
	return i.translate(ctx, err)
}

// translate maps VM errors back to the Go errors behind them.
func (i *instance) translate(ctx context.Context, err error) error {
	b := oops.In("js").With("extension", i.id).With("js_error", firstLine(err.Error()))

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cerr := ctx.Err(); cerr != nil {
			return b.Wrap(cerr)
		}
		if cause := interrupted.Unwrap(); cause != nil {
			return b.Wrap(cause)
		}
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if cause := exc.Unwrap(); cause != nil {
			return b.Wrap(cause)
		}
	}
	return b.Wrap(err)
}

// rejection converts a rejected promise's reason into an error.
func (i *instance) rejection(reason goja.Value) error {
	b := oops.In("js").With("extension", i.id)
	if obj, ok := reason.(*goja.Object); ok {
		if v := obj.Get("value"); v != nil {
			if cause, ok := v.Export().(error); ok {
				return b.With("js_error", reason.String()).Wrap(cause)
			}
		}
	}
	return b.Errorf("promise rejected: %s", reason.String())
}

// throw aborts the running script with err as a catchable GoError.
func (i *instance) throw(err error) {
	panic(i.vm.NewGoError(err))
}

func (i *instance) console() *goja.Object {
	obj := i.vm.NewObject()
	for name, lvl := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for j, a := range call.Arguments {
				parts[j] = a.String()
			}
			i.logger.Log(i.current(), lvl, strings.Join(parts, " "), "source", "console")
			return goja.Undefined()
		})
	}
	return obj
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// str reads obj[key] as a string, treating undefined and null as empty.
func str(obj *goja.Object, key string) string {
	v := obj.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// argString returns argument n as a string, or throws a TypeError.
func (i *instance) argString(call goja.FunctionCall, n int, name string) string {
	v := call.Argument(n)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		panic(i.vm.NewTypeError(fmt.Sprintf("%s is required", name)))
	}
	return v.String()
}

// argFunc returns argument n as a function, or throws a TypeError.
func (i *instance) argFunc(call goja.FunctionCall, n int) goja.Callable {
	fn, ok := goja.AssertFunction(call.Argument(n))
	if !ok {
		panic(i.vm.NewTypeError(fmt.Sprintf("argument %d must be a function", n+1)))
	}
	return fn
}

// argObject returns argument n as an object, or throws a TypeError.
func (i *instance) argObject(call goja.FunctionCall, n int) *goja.Object {
	v := call.Argument(n)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		panic(i.vm.NewTypeError(fmt.Sprintf("argument %d must be an object", n+1)))
	}
	return v.ToObject(i.vm)
}
