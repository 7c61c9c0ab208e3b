package jittpl

import (
	"fmt"
)

// ----------------------------- View -----------------------------------------

// View is the default Root: it owns the default data frame, the partial
// trees and the compiled partial templates. Embed *View in a struct to
// expose methods as default tag lookups, and render through the outer
// value with Render so those methods are on the stack.
//
// A View caches compiled partials and is therefore confined to one render
// at a time, like a Template.
type View struct {
	data     map[string]any
	partials map[string]Node
	loader   func(name string) (Node, error)
	raise    bool
	cache    *templateCache
	opts     options
}

func NewView(opts ...Option) *View {
	co := defaultOptions()
	for _, o := range opts {
		o(&co)
	}
	v := &View{
		data:     co.data,
		partials: co.partials,
		loader:   co.loader,
		raise:    co.raiseOnContextMiss,
		cache:    newTemplateCache(co.cacheSize),
		opts:     co,
	}
	if v.data == nil {
		v.data = make(map[string]any)
	}
	// Partial templates learn their own profiles.
	v.opts.profile = nil
	return v
}

// Data returns the default data frame, consulted after locals.
func (v *View) Data() map[string]any { return v.data }

// Set writes key into the default data frame.
func (v *View) Set(key string, value any) { v.data[key] = value }

// RaiseOnContextMiss implements Root.
func (v *View) RaiseOnContextMiss() bool { return v.raise }

// Partial implements Root.
func (v *View) Partial(name string) (Node, error) {
	if n, ok := v.partials[name]; ok {
		return n, nil
	}
	if v.loader != nil {
		n, err := v.loader(name)
		if err != nil {
			return nil, fmt.Errorf("partial %q: %w", name, err)
		}
		return n, nil
	}
	return nil, fmt.Errorf("partial %q: %w", name, ErrPartialNotFound)
}

// Render renders t with v as root.
func (v *View) Render(t *Template, locals map[string]any) (string, error) {
	return Render(v, t, locals)
}

// RenderNode renders a bare tree with v as root.
func (v *View) RenderNode(n Node, locals map[string]any) (string, error) {
	return Render(v, newTemplate(n, v.opts), locals)
}

// ClearCache drops all compiled partials.
func (v *View) ClearCache() { v.cache.clear() }

func (v *View) cachedTemplate(key string, resolve func() (Node, error)) (*Template, error) {
	return v.cache.get(key, func() (*Template, error) {
		n, err := resolve()
		if err != nil {
			return nil, err
		}
		return newTemplate(n, v.opts), nil
	})
}

// ----------------------------- Entry points ---------------------------------

// Render renders t against a fresh stack of locals, the root's default
// data and root. Locals take priority over the default data.
func Render(root Root, t *Template, locals map[string]any) (string, error) {
	ctx := acquireContext(root, locals)
	defer releaseContext(ctx)
	return t.RenderString(ctx)
}

// RenderNode renders a bare tree through a throwaway Template. Nothing
// learned is kept; hold on to a Template to benefit from specialization.
func RenderNode(root Root, n Node, locals map[string]any) (string, error) {
	return Render(root, New(n), locals)
}
