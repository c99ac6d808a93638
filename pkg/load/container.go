// Package load turns a discovered types.Artifact into a registered set of
// tasks and workflows. Each artifact is evaluated inside its own yaegi
// interpreter instance — a CodeContainer — so that unloading a generation
// is just dropping the last reference to its interpreter and letting the
// garbage collector reclaim it. Go has no unloadable assembly equivalent;
// a fresh interpreter per generation is the closest idiomatic substitute.
package load

import (
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"runtime"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/cuemby/hotworker/pkg/types"
)

// registerEntryPoint is the well-known symbol a plugin module may define to
// hand back its tasks and workflows explicitly, instead of relying on
// scanning. Mirrors the "well-known definitions function" convention used
// elsewhere in the ecosystem for interpreted plugin code.
//
// Its signature deliberately crosses the interpreter boundary using only
// builtin types:
//
//	func Register() (tasks map[string]func([]byte) ([]byte, error), workflows map[string]interface{}, err error)
//
// A plugin source file cannot import this module's own packages to name a
// Registrar or TaskFunc type — yaegi has no knowledge of a host package's
// exported symbols unless they are registered up front via i.Use(), which
// this loader does not do (see newInterpreter). Requiring only builtin
// types keeps every plugin interpretable without generated bindings.
const registerEntryPoint = "Register"

// CodeContainer is an isolated, unloadable holder of everything loaded from
// a single Artifact. Unload drops the interpreter and every value it
// produced; callers must not invoke handles from an unloaded container.
type CodeContainer interface {
	Generation() int64
	ArtifactID() string
	Registrations() types.RegistrationSet
	Unload()
}

type codeContainer struct {
	generation int64
	artifactID string
	interp     *interp.Interpreter
	regs       types.RegistrationSet
	unloaded   bool
}

func (c *codeContainer) Generation() int64 { return c.generation }
func (c *codeContainer) ArtifactID() string { return c.artifactID }

func (c *codeContainer) Registrations() types.RegistrationSet {
	return c.regs
}

// Unload releases the container's reference to its interpreter. Any task or
// workflow function closed over interpreter-evaluated values becomes
// unreachable once the caller also drops its RegistrationSet, at which
// point the interpreter and everything it loaded is eligible for GC. A
// collection cycle is run as a best-effort reclaim hint.
func (c *codeContainer) Unload() {
	c.unloaded = true
	c.interp = nil
	c.regs = types.RegistrationSet{}
	runtime.GC()
}

// newInterpreter builds a fresh yaegi interpreter with the standard library
// symbols available to evaluated code. Deliberately nothing from this
// module is registered: see the registerEntryPoint doc comment.
func newInterpreter() *interp.Interpreter {
	i := interp.New(interp.Options{})
	i.Use(stdlib.Symbols)
	return i
}

// loadSource evaluates a single Go source file inside a new container and
// calls its Register entry point, if present. Modules without a Register
// function produce an empty, non-error RegistrationSet — the caller decides
// whether that's a skip-worthy condition.
func loadSource(generation int64, artifactID, path string) (CodeContainer, error) {
	i := newInterpreter()
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("load: interpret %s: %w", path, err)
	}

	// yaegi resolves an unqualified expression in package main, so a
	// plugin's Register is looked up through its own package name.
	symbol := registerEntryPoint
	if f, perr := parser.ParseFile(token.NewFileSet(), path, nil, parser.PackageClauseOnly); perr == nil && f.Name.Name != "main" {
		symbol = f.Name.Name + "." + registerEntryPoint
	}

	ref := types.ContainerRef{Generation: generation, ArtifactID: artifactID}
	regs, err := callRegisterIfPresent(i, ref, symbol)
	if err != nil {
		return nil, fmt.Errorf("load: %s: %w", path, err)
	}

	return &codeContainer{
		generation: generation,
		artifactID: artifactID,
		interp:     i,
		regs:       regs,
	}, nil
}

// callRegisterIfPresent looks up the Register symbol and calls it, if the
// module declares one with the expected builtin-typed signature. Modules
// are not required to declare Register; absence is not an error.
func callRegisterIfPresent(i *interp.Interpreter, ref types.ContainerRef, symbol string) (types.RegistrationSet, error) {
	regs := types.NewRegistrationSet()

	fnValue, err := i.Eval(symbol)
	if err != nil {
		return regs, nil
	}
	if !fnValue.IsValid() || fnValue.Kind() != reflect.Func {
		return regs, fmt.Errorf("%s is not a function", registerEntryPoint)
	}
	fnType := fnValue.Type()
	wantSignature := fmt.Errorf("%s must have signature func() (map[string]func([]byte) ([]byte, error), map[string]interface{}, error)", registerEntryPoint)
	if fnType.NumIn() != 0 || fnType.NumOut() != 3 || fnType.Out(2).Kind() != reflect.Interface {
		return regs, wantSignature
	}

	results := fnValue.Call(nil)

	if errVal := results[2]; !errVal.IsNil() {
		e, ok := errVal.Interface().(error)
		if !ok {
			return regs, fmt.Errorf("%s: third return value must be error", registerEntryPoint)
		}
		if e != nil {
			return regs, e
		}
	}

	tasks, err := taskMapFromValue(results[0])
	if err != nil {
		return regs, fmt.Errorf("%s: %w", registerEntryPoint, err)
	}
	for name, fn := range tasks {
		regs.Tasks[name] = types.TaskHandle{
			Name:      name,
			Container: ref,
			Fn:        adaptInterpretedTask(fn),
		}
	}

	workflows, err := workflowMapFromValue(results[1])
	if err != nil {
		return regs, fmt.Errorf("%s: %w", registerEntryPoint, err)
	}
	for name, fn := range workflows {
		regs.Workflows[name] = types.WorkflowTypeHandle{
			Name:      name,
			Container: ref,
			Fn:        fn,
		}
	}

	return regs, nil
}

// adaptInterpretedTask lifts a plugin's builtin-typed task function into
// the host's types.TaskFunc. A plugin never sees a types.TaskContext — the
// interpreted code only ever transforms bytes; cancellation and deadlines
// are enforced by the worker lifecycle manager around the call, not inside
// the interpreter.
func adaptInterpretedTask(fn func([]byte) ([]byte, error)) types.TaskFunc {
	return func(_ types.TaskContext, payload []byte) ([]byte, error) {
		return fn(payload)
	}
}

// taskMapFromValue converts Register's first return value into a plain Go
// map. yaegi produces a reflect.Value backed by the concrete builtin type
// the plugin declared; the direct assertion succeeds in the common case,
// with a reflect-based walk as a fallback for a structurally equivalent but
// distinctly-typed func value.
func taskMapFromValue(v reflect.Value) (map[string]func([]byte) ([]byte, error), error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() != reflect.Map {
		return nil, fmt.Errorf("first return value must be a map, got %s", v.Kind())
	}
	if v.IsNil() {
		return nil, nil
	}
	if direct, ok := v.Interface().(map[string]func([]byte) ([]byte, error)); ok {
		return direct, nil
	}
	out := make(map[string]func([]byte) ([]byte, error), v.Len())
	iter := v.MapRange()
	for iter.Next() {
		name, ok := iter.Key().Interface().(string)
		if !ok {
			return nil, fmt.Errorf("task map keys must be strings")
		}
		fnVal := iter.Value()
		if fn, ok := fnVal.Interface().(func([]byte) ([]byte, error)); ok {
			out[name] = fn
			continue
		}
		fnType := fnVal.Type()
		if fnVal.Kind() != reflect.Func || fnType.NumIn() != 1 || fnType.NumOut() != 2 ||
			fnType.Out(0).Kind() != reflect.Slice || fnType.Out(1).Kind() != reflect.Interface {
			return nil, fmt.Errorf("task %q is not a func([]byte) ([]byte, error)", name)
		}
		captured := fnVal
		out[name] = func(payload []byte) ([]byte, error) {
			results := captured.Call([]reflect.Value{reflect.ValueOf(payload)})
			var outBytes []byte
			if !results[0].IsNil() {
				outBytes, _ = results[0].Interface().([]byte)
			}
			var callErr error
			if e, ok := results[1].Interface().(error); ok {
				callErr = e
			}
			return outBytes, callErr
		}
	}
	return out, nil
}

// workflowMapFromValue converts Register's second return value into a plain
// Go map of workflow name to workflow function value, passed through
// unexamined — the orchestration SDK registers it by reflection.
func workflowMapFromValue(v reflect.Value) (map[string]interface{}, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() != reflect.Map {
		return nil, fmt.Errorf("second return value must be a map, got %s", v.Kind())
	}
	if v.IsNil() {
		return nil, nil
	}
	if direct, ok := v.Interface().(map[string]interface{}); ok {
		return direct, nil
	}
	out := make(map[string]interface{}, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		name, ok := iter.Key().Interface().(string)
		if !ok {
			return nil, fmt.Errorf("workflow map keys must be strings")
		}
		out[name] = iter.Value().Interface()
	}
	return out, nil
}
