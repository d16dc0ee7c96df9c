// Package hooking lets observers attach to the translation components and see
// translations, faults, evictions and invalidations as they happen.
package hooking

import (
	"sync"
	"sync/atomic"
)

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// Name returns the name of the hookable object.
	Name() string

	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// Hook is a short piece of program that can be invoked by a hookable object.
// Hooks run synchronously on the goroutine that triggers them and must be safe
// for concurrent use.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// FuncHook adapts a function to the Hook interface.
type FuncHook struct {
	F func(ctx HookCtx)
}

// Func calls the function.
func (h *FuncHook) Func(ctx HookCtx) {
	h.F(ctx)
}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface. Hooks can be registered while other goroutines
// invoke them.
type HookableBase struct {
	lock     sync.RWMutex
	hookList []Hook
	numHooks atomic.Int32
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return int(h.numHooks.Load())
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return append([]Hook(nil), h.hookList...)
}

// AcceptHook register a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.mustNotHaveDuplicatedHook(hook)
	h.hookList = append(h.hookList, hook)
	h.numHooks.Store(int32(len(h.hookList)))
}

func (h *HookableBase) mustNotHaveDuplicatedHook(hook Hook) {
	for _, h := range h.hookList {
		if h == hook {
			panic("duplicated hook")
		}
	}
}

// InvokeHook triggers the register Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	if h.NumHooks() == 0 {
		return
	}

	h.lock.RLock()
	hooks := h.hookList
	h.lock.RUnlock()

	for _, hook := range hooks {
		hook.Func(ctx)
	}
}
