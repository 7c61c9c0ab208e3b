package jittpl

import (
	"fmt"
	"io"
	"strings"
)

// ----------------------------- Generator ------------------------------------

// routine is a compiled render function. It writes the output for one
// render against ctx into w.
type routine func(ctx *Context, w io.Writer) error

// generator compiles a tree into a closure tree. path holds the enclosing
// section names, outermost first, so every generic node knows its profile
// key at compile time.
type generator struct {
	profile *Profile
	escape  Escaper
	path    []string
}

func compile(n Node, p *Profile, esc Escaper) (routine, error) {
	g := &generator{profile: p, escape: esc}
	return g.compile(n)
}

func (g *generator) compile(n Node) (routine, error) {
	switch n := n.(type) {
	case nil:
		return func(*Context, io.Writer) error { return nil }, nil
	case Text:
		text := string(n)
		return func(_ *Context, w io.Writer) error {
			_, err := io.WriteString(w, text)
			return err
		}, nil
	case Multi:
		return g.compileMulti(n)
	case Tag:
		return g.compileTag(n), nil
	case Section:
		if n.Inverted {
			return g.compileInverted(n)
		}
		return g.compileSection(n)
	case Partial:
		name := n.Name
		return func(ctx *Context, w io.Writer) error {
			return ctx.Partial(name, w)
		}, nil
	case SpecializedTag:
		return g.compileSpecializedTag(n), nil
	case SpecializedSection:
		return g.compileSpecializedSection(n)
	}
	return nil, fmt.Errorf("jittpl: cannot compile node %T", n)
}

func (g *generator) compileMulti(m Multi) (routine, error) {
	parts := make([]routine, 0, len(m))
	for _, child := range m {
		r, err := g.compile(child)
		if err != nil {
			return nil, err
		}
		parts = append(parts, r)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return func(ctx *Context, w io.Writer) error {
		for _, r := range parts {
			if err := r(ctx, w); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// under compiles body with name pushed on the section path.
func (g *generator) under(name string, body Node) (routine, error) {
	g.path = append(g.path, name)
	defer func() { g.path = g.path[:len(g.path)-1] }()
	return g.compile(body)
}

func (g *generator) emitter(escape bool) func(io.Writer, any) error {
	var esc Escaper
	if escape {
		esc = g.escape
	}
	return func(w io.Writer, v any) error {
		s := toString(v)
		if esc != nil {
			s = esc(s)
		}
		_, err := io.WriteString(w, s)
		return err
	}
}

// ----------------------------- Generic nodes --------------------------------

func (g *generator) compileTag(n Tag) routine {
	name, profile := n.Name, g.profile
	key := TagKey(qualify(name, g.path)...)
	emit := g.emitter(n.Escape)
	return func(ctx *Context, w io.Writer) error {
		res, err := ctx.Lookup(name)
		if err != nil {
			return err
		}
		if res.Found() {
			profile.Set(key, Entry{Frame: res.Frame, Access: res.Access})
		}
		return emit(w, res.Value)
	}
}

func (g *generator) compileSection(n Section) (routine, error) {
	body, err := g.under(n.Name, n.Body)
	if err != nil {
		return nil, err
	}
	name, profile := n.Name, g.profile
	key := SectionKey(qualify(name, g.path)...)
	return func(ctx *Context, w io.Writer) error {
		res, err := ctx.Lookup(name)
		if err != nil {
			return err
		}
		v := res.Value
		shape := shapeOf(v)
		if res.Found() {
			profile.Set(key, Entry{Frame: res.Frame, Access: res.Access, Shape: shape})
		}
		switch shape {
		case ShapeBoolean:
			if v.(bool) {
				return renderUnder(ctx, name, nil, body, w)
			}
			return nil
		case ShapeDelegate:
			fn, _ := asLambda(v)
			return renderDelegate(ctx, name, fn, body, w)
		case ShapeArray:
			return renderEach(ctx, name, v, body, w)
		}
		if isAbsent(v) {
			return nil
		}
		return renderUnder(ctx, name, v, body, w)
	}, nil
}

func (g *generator) compileInverted(n Section) (routine, error) {
	body, err := g.under(n.Name, n.Body)
	if err != nil {
		return nil, err
	}
	name, profile := n.Name, g.profile
	key := InvertedKey(qualify(name, g.path)...)
	return func(ctx *Context, w io.Writer) error {
		res, err := ctx.Lookup(name)
		if err != nil {
			return err
		}
		if res.Found() {
			shape := shapeOf(res.Value)
			if shape == ShapeDelegate {
				shape = ShapeObject
			}
			profile.Set(key, Entry{Frame: res.Frame, Access: res.Access, Shape: shape})
		}
		if isFalsy(res.Value) {
			return renderUnder(ctx, name, nil, body, w)
		}
		return nil
	}, nil
}

// ----------------------------- Specialized nodes ----------------------------

func (g *generator) compileSpecializedTag(n SpecializedTag) routine {
	name, index, access := n.Name, n.Frame, n.Access
	emit := g.emitter(n.Escape)
	return func(ctx *Context, w io.Writer) error {
		v, err := readFrame(ctx.Frame(index), name, access)
		if err != nil {
			return fmt.Errorf("jittpl: accessor %q: %w", name, err)
		}
		return emit(w, v)
	}
}

func (g *generator) compileSpecializedSection(n SpecializedSection) (routine, error) {
	body, err := g.under(n.Name, n.Body)
	if err != nil {
		return nil, err
	}
	name, index, access := n.Name, n.Frame, n.Access
	read := func(ctx *Context) (any, error) {
		v, err := readFrame(ctx.Frame(index), name, access)
		if err != nil {
			return nil, fmt.Errorf("jittpl: accessor %q: %w", name, err)
		}
		return v, nil
	}

	if n.Inverted {
		var test func(any) bool
		switch n.Shape {
		case ShapeBoolean:
			test = func(v any) bool { return v == nil || v == false }
		case ShapeArray:
			test = isEmpty
		case ShapeObject:
			test = func(v any) bool { return isAbsent(v) || isEmpty(v) }
		default:
			return nil, fmt.Errorf("%w: inverted section %q with shape %s", ErrMalformedProfileEntry, name, n.Shape)
		}
		return func(ctx *Context, w io.Writer) error {
			v, err := read(ctx)
			if err != nil {
				return err
			}
			if test(v) {
				return renderUnder(ctx, name, nil, body, w)
			}
			return nil
		}, nil
	}

	switch n.Shape {
	case ShapeBoolean:
		return func(ctx *Context, w io.Writer) error {
			v, err := read(ctx)
			if err != nil {
				return err
			}
			if v == true {
				return renderUnder(ctx, name, nil, body, w)
			}
			return nil
		}, nil
	case ShapeArray:
		return func(ctx *Context, w io.Writer) error {
			v, err := read(ctx)
			if err != nil {
				return err
			}
			return renderEach(ctx, name, v, body, w)
		}, nil
	case ShapeObject:
		return func(ctx *Context, w io.Writer) error {
			v, err := read(ctx)
			if err != nil {
				return err
			}
			if isAbsent(v) || v == false {
				return nil
			}
			return renderUnder(ctx, name, v, body, w)
		}, nil
	case ShapeDelegate:
		return func(ctx *Context, w io.Writer) error {
			v, err := read(ctx)
			if err != nil {
				return err
			}
			fn, ok := asLambda(v)
			if !ok {
				return nil
			}
			return renderDelegate(ctx, name, fn, body, w)
		}, nil
	}
	return nil, fmt.Errorf("%w: section %q with shape %s", ErrMalformedProfileEntry, name, n.Shape)
}

// ----------------------------- Section helpers ------------------------------

func renderUnder(ctx *Context, name string, frame any, body routine, w io.Writer) error {
	ctx.Push(name, frame)
	err := body(ctx, w)
	ctx.Pop()
	return err
}

// renderEach pushes one frame per element. Values that are not sequences
// render nothing.
func renderEach(ctx *Context, name string, v any, body routine, w io.Writer) error {
	return eachElem(v, func(elem any) error {
		return renderUnder(ctx, name, elem, body, w)
	})
}

// renderDelegate renders body to a string, hands it to fn and writes the
// result unescaped.
func renderDelegate(ctx *Context, name string, fn Lambda, body routine, w io.Writer) error {
	sb := stringBuilderPool.Get().(*strings.Builder)
	sb.Reset()
	defer stringBuilderPool.Put(sb)

	if err := renderUnder(ctx, name, nil, body, sb); err != nil {
		return err
	}
	out, err := fn(sb.String())
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}
