package jittpl

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ----------------------------- AST ------------------------------------------

// Node is one element of a template tree. Trees are built by an external
// parser from the generic node types; the specialized variants are only
// ever produced by Optimize.
type Node interface {
	node()
}

// Text is literal output.
type Text string

// Tag is a variable reference. Escape selects an escaped ("etag") or raw
// ("utag") substitution.
type Tag struct {
	Name   string
	Escape bool
}

// Section renders Body conditionally or repeatedly depending on the shape
// of the value Name resolves to.
type Section struct {
	Name     string
	Body     Node
	Inverted bool
}

// Partial renders the named partial template of the nearest root.
type Partial struct {
	Name string
}

// Multi is an ordered sequence of nodes.
type Multi []Node

// SpecializedTag reads its value straight from the frame at Frame using
// Access, skipping the scope scan.
type SpecializedTag struct {
	Name   string
	Escape bool
	Frame  int
	Access AccessKind
}

// SpecializedSection is a Section whose value location and runtime shape
// were observed on an earlier render.
type SpecializedSection struct {
	Name     string
	Body     Node
	Inverted bool
	Frame    int
	Access   AccessKind
	Shape    Shape
}

func (Text) node()               {}
func (Tag) node()                {}
func (Section) node()            {}
func (Partial) node()            {}
func (Multi) node()              {}
func (SpecializedTag) node()     {}
func (SpecializedSection) node() {}

// ----------------------------- Resolution kinds -----------------------------

// AccessKind records how a name resolved against a frame.
type AccessKind int

const (
	AccessNone   AccessKind = iota
	AccessSymbol            // mapping key of type Symbol
	AccessString            // mapping key matched by its string form
	AccessMethod            // zero-argument method or exported field
	AccessSelf              // the frame itself, for the "." tag
)

var accessNames = [...]string{"none", "symbol", "string", "method", "self"}

func (k AccessKind) String() string {
	if k < 0 || int(k) >= len(accessNames) {
		return fmt.Sprintf("AccessKind(%d)", int(k))
	}
	return accessNames[k]
}

func (k AccessKind) valid() bool { return k > AccessNone && int(k) < len(accessNames) }

// MarshalYAML encodes the kind by name.
func (k AccessKind) MarshalYAML() (any, error) { return k.String(), nil }

// UnmarshalYAML decodes a kind written by MarshalYAML.
func (k *AccessKind) UnmarshalYAML(value *yaml.Node) error {
	for i, name := range accessNames {
		if name == value.Value {
			*k = AccessKind(i)
			return nil
		}
	}
	return fmt.Errorf("jittpl: unknown access kind %q", value.Value)
}

// Shape is the runtime shape a section value was observed with.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeBoolean
	ShapeArray
	ShapeObject
	ShapeDelegate
)

var shapeNames = [...]string{"none", "boolean", "array", "object", "delegate"}

func (s Shape) String() string {
	if s < 0 || int(s) >= len(shapeNames) {
		return fmt.Sprintf("Shape(%d)", int(s))
	}
	return shapeNames[s]
}

// MarshalYAML encodes the shape by name.
func (s Shape) MarshalYAML() (any, error) { return s.String(), nil }

// UnmarshalYAML decodes a shape written by MarshalYAML.
func (s *Shape) UnmarshalYAML(value *yaml.Node) error {
	for i, name := range shapeNames {
		if name == value.Value {
			*s = Shape(i)
			return nil
		}
	}
	return fmt.Errorf("jittpl: unknown shape %q", value.Value)
}

// qualify builds the qualified path of name nested under enclosing, which
// is ordered outermost first. The result is innermost first.
func qualify(name string, enclosing []string) []string {
	path := make([]string, 0, len(enclosing)+1)
	path = append(path, name)
	for i := len(enclosing) - 1; i >= 0; i-- {
		path = append(path, enclosing[i])
	}
	return path
}
