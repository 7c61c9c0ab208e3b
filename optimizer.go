package jittpl

import "fmt"

// ----------------------------- Optimizer ------------------------------------

// Optimize rewrites every Tag and Section whose qualified path has a
// profile entry into its specialized form. The input tree is not modified
// and the output depends only on the tree and the profile contents.
func Optimize(n Node, p *Profile) (Node, error) {
	o := optimizer{profile: p}
	return o.optimize(n)
}

type optimizer struct {
	profile *Profile
	// enclosing section names, outermost first
	path []string
}

func (o *optimizer) optimize(n Node) (Node, error) {
	switch n := n.(type) {
	case Multi:
		out := make(Multi, len(n))
		for i, child := range n {
			c, err := o.optimize(child)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil

	case Tag:
		key := TagKey(qualify(n.Name, o.path)...)
		e, ok := o.profile.Get(key)
		if !ok {
			return n, nil
		}
		if e.Shape != ShapeNone || !e.Access.valid() {
			return nil, fmt.Errorf("%w: %s has %+v", ErrMalformedProfileEntry, key, e)
		}
		return SpecializedTag{Name: n.Name, Escape: n.Escape, Frame: e.Frame, Access: e.Access}, nil

	case Section:
		key := sectionKey(n.Inverted, qualify(n.Name, o.path)...)
		body, err := o.under(n.Name, n.Body)
		if err != nil {
			return nil, err
		}
		e, ok := o.profile.Get(key)
		if !ok {
			n.Body = body
			return n, nil
		}
		if err := checkSectionEntry(key, e, n.Inverted); err != nil {
			return nil, err
		}
		return SpecializedSection{
			Name:     n.Name,
			Body:     body,
			Inverted: n.Inverted,
			Frame:    e.Frame,
			Access:   e.Access,
			Shape:    e.Shape,
		}, nil

	case SpecializedSection:
		body, err := o.under(n.Name, n.Body)
		if err != nil {
			return nil, err
		}
		n.Body = body
		return n, nil
	}
	// Text, Partial, SpecializedTag and nil pass through.
	return n, nil
}

// under optimizes body with name pushed on the path for its descendants.
func (o *optimizer) under(name string, body Node) (Node, error) {
	o.path = append(o.path, name)
	defer func() { o.path = o.path[:len(o.path)-1] }()
	return o.optimize(body)
}

func checkSectionEntry(key Key, e Entry, inverted bool) error {
	if !e.Access.valid() {
		return fmt.Errorf("%w: %s has access %s", ErrMalformedProfileEntry, key, e.Access)
	}
	switch e.Shape {
	case ShapeBoolean, ShapeArray, ShapeObject:
		return nil
	case ShapeDelegate:
		if !inverted {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has shape %s", ErrMalformedProfileEntry, key, e.Shape)
}
