package jittpl

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
)

// ----------------------------- Errors ---------------------------------------

var (
	// ErrContextMiss matches every *ContextMissError.
	ErrContextMiss = errors.New("jittpl: context miss")

	// ErrMalformedProfileEntry reports a profile entry inconsistent with the
	// node it is applied to. It indicates a defect, not bad input.
	ErrMalformedProfileEntry = errors.New("jittpl: malformed profile entry")

	ErrPartialNotFound = errors.New("jittpl: partial not found")
	ErrNoRoot          = errors.New("jittpl: no root in context")
)

// ContextMissError is returned when a name resolves against no frame.
type ContextMissError struct {
	Name  string
	Stack string
}

func (e *ContextMissError) Error() string {
	return fmt.Sprintf("jittpl: can't find %q in %s", e.Name, e.Stack)
}

func (e *ContextMissError) Is(target error) bool { return target == ErrContextMiss }

// ----------------------------- Root capability ------------------------------

// Root is the rendering context object at the bottom of every stack. Its
// accessor methods double as default tag lookups.
type Root interface {
	// Partial returns the tree of the named partial.
	Partial(name string) (Node, error)
	// RaiseOnContextMiss reports whether unresolved names are errors.
	RaiseOnContextMiss() bool
}

// dataRoot is implemented by roots that carry a default data frame.
type dataRoot interface {
	Data() map[string]any
}

// templateCacher is implemented by roots that keep compiled partials
// between renders.
type templateCacher interface {
	cachedTemplate(key string, resolve func() (Node, error)) (*Template, error)
}

// ----------------------------- Scope stack ----------------------------------

// Resolution is the outcome of a generic lookup: the value plus where and
// how it was found. Frame is -1 and Access is AccessNone when nothing
// matched.
type Resolution struct {
	Value  any
	Frame  int
	Access AccessKind
}

// Found reports whether a frame supplied the value.
func (r Resolution) Found() bool { return r.Access != AccessNone }

// Context is the scope stack of a single render. It is never shared
// between renders.
type Context struct {
	// frames and names are stored outermost first; frame index 0 is the
	// innermost frame.
	frames []any
	names  []string
}

// NewContext returns a stack holding locals, the root's default data and
// the root itself. Locals take priority over the default data.
func NewContext(root Root, locals map[string]any) *Context {
	c := &Context{
		frames: make([]any, 0, 8),
		names:  make([]string, 0, 4),
	}
	c.reset(root, locals)
	return c
}

func (c *Context) reset(root Root, locals map[string]any) {
	for i := range c.frames {
		c.frames[i] = nil
	}
	c.frames = c.frames[:0]
	c.names = c.names[:0]

	var base any
	if dr, ok := root.(dataRoot); ok {
		base = dr.Data()
	}
	var rootFrame any
	if root != nil {
		rootFrame = root
	}
	var localFrame any
	if locals != nil {
		localFrame = locals
	}
	c.frames = append(c.frames, rootFrame, base, localFrame)
}

// Push enters a section body: frame becomes the innermost frame. A nil
// frame keeps indices aligned without shadowing anything.
func (c *Context) Push(name string, frame any) {
	c.frames = append(c.frames, frame)
	c.names = append(c.names, name)
}

// Pop leaves the innermost section body.
func (c *Context) Pop() {
	if len(c.names) == 0 {
		panic("jittpl: Pop without matching Push")
	}
	c.frames[len(c.frames)-1] = nil
	c.frames = c.frames[:len(c.frames)-1]
	c.names = c.names[:len(c.names)-1]
}

// Depth returns the number of frames, including the three base frames.
func (c *Context) Depth() int { return len(c.frames) }

// Frame returns the frame at index i counted from the innermost frame, or
// nil when i is out of range.
func (c *Context) Frame(i int) any {
	if i < 0 || i >= len(c.frames) {
		return nil
	}
	return c.frames[len(c.frames)-1-i]
}

// Path returns the qualified path of name at the current nesting.
func (c *Context) Path(name string) []string {
	return qualify(name, c.names)
}

func (c *Context) skip(frame any) bool {
	if frame == nil {
		return true
	}
	self, ok := frame.(*Context)
	return ok && self == c
}

// Lookup scans the stack innermost first. A miss is a *ContextMissError
// unless the nearest root disables raising, in which case the result is
// an absent Resolution.
func (c *Context) Lookup(name string) (Resolution, error) {
	res, err := c.scan(name)
	if err != nil || res.Found() {
		return res, err
	}
	if root := c.Root(); root == nil || root.RaiseOnContextMiss() {
		return res, &ContextMissError{Name: name, Stack: c.String()}
	}
	return res, nil
}

// LookupDefault is Lookup with a default: a miss returns def and never an
// error, whatever the root's configuration.
func (c *Context) LookupDefault(name string, def any) (Resolution, error) {
	res, err := c.scan(name)
	if err != nil || res.Found() {
		return res, err
	}
	res.Value = def
	return res, nil
}

// Fetch returns only the value of Lookup.
func (c *Context) Fetch(name string) (any, error) {
	res, err := c.Lookup(name)
	return res.Value, err
}

func (c *Context) scan(name string) (Resolution, error) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		frame := c.frames[i]
		if c.skip(frame) {
			continue
		}
		index := len(c.frames) - 1 - i
		if name == "." {
			return Resolution{Value: frame, Frame: index, Access: AccessSelf}, nil
		}
		v, kind, isMap := lookupKeyed(frame, name)
		if kind != AccessNone {
			return Resolution{Value: v, Frame: index, Access: kind}, nil
		}
		if isMap {
			continue
		}
		v, ok, err := callAccessor(frame, name)
		if err != nil {
			return Resolution{Frame: -1}, fmt.Errorf("jittpl: accessor %q: %w", name, err)
		}
		if ok {
			return Resolution{Value: v, Frame: index, Access: AccessMethod}, nil
		}
	}
	return Resolution{Frame: -1}, nil
}

// Root returns the innermost frame implementing Root.
func (c *Context) Root() Root {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if r, ok := c.frames[i].(Root); ok && !c.skip(c.frames[i]) {
			return r
		}
	}
	return nil
}

// Partial renders the named partial of the nearest root into w against
// this same stack, so the partial sees the caller's scope chain.
func (c *Context) Partial(name string, w io.Writer) error {
	root := c.Root()
	if root == nil {
		return fmt.Errorf("partial %q: %w", name, ErrNoRoot)
	}
	resolve := func() (Node, error) { return root.Partial(name) }

	var (
		t   *Template
		err error
	)
	if tc, ok := root.(templateCacher); ok {
		t, err = tc.cachedTemplate(c.partialKey(name), resolve)
	} else {
		var n Node
		if n, err = resolve(); err == nil {
			t = New(n)
		}
	}
	if err != nil {
		return err
	}
	return t.Render(c, w)
}

// partialKey identifies a partial call site by the enclosing section
// names. Call sites with equal keys have equal frame layouts, so one
// specialized partial can serve them all.
func (c *Context) partialKey(name string) string {
	return name + pathSep + strings.Join(c.names, pathSep)
}

// String describes the stack innermost first, for miss diagnostics.
func (c *Context) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := len(c.frames) - 1; i >= 0; i-- {
		if i != len(c.frames)-1 {
			sb.WriteString(", ")
		}
		sb.WriteString(describeFrame(c.frames[i]))
	}
	sb.WriteByte(']')
	return sb.String()
}

func describeFrame(frame any) string {
	if frame == nil {
		return "nil"
	}
	rv := reflect.ValueOf(frame)
	if rv.Kind() != reflect.Map {
		return fmt.Sprintf("%T", frame)
	}
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, fmt.Sprint(k.Interface()))
	}
	sort.Strings(keys)
	return fmt.Sprintf("%T{%s}", frame, strings.Join(keys, " "))
}
