package jittpl

import (
	"io"
	"log"
	"strings"
)

// ----------------------------- Public API -----------------------------------

// Template owns one generic tree, the profile gathered while rendering it
// and the routine currently compiled from both. Every render first checks
// whether the profile learned something since the last compilation and,
// if so, re-optimizes and recompiles before executing.
//
// A Template is not safe for concurrent renders; use Clone or
// TemplatePool to render in parallel.
type Template struct {
	ast     Node
	profile *Profile
	opts    options

	run        routine
	current    Node
	generation int
}

// New returns a Template for a tree produced by a parser. The tree is
// treated as immutable.
func New(root Node, opts ...Option) *Template {
	co := defaultOptions()
	for _, o := range opts {
		o(&co)
	}
	return newTemplate(root, co)
}

func newTemplate(root Node, co options) *Template {
	t := &Template{ast: root, opts: co}
	if co.profile != nil {
		t.profile = co.profile.clone()
	} else {
		t.profile = NewProfile()
	}
	return t
}

// Clone returns a Template sharing only the tree and options. The clone
// has no compiled routine and starts from the WithProfile seed, or from an
// empty profile; entries t learned since are not copied.
func (t *Template) Clone() *Template {
	return newTemplate(t.ast, t.opts)
}

// AST returns the generic tree.
func (t *Template) AST() Node { return t.ast }

// Current returns the tree the active routine was compiled from, or nil
// before the first render.
func (t *Template) Current() Node { return t.current }

func (t *Template) Profile() *Profile { return t.profile }

// Generation counts compilations so far.
func (t *Template) Generation() int { return t.generation }

// Fresh reports whether the active routine reflects the whole profile.
func (t *Template) Fresh() bool { return !t.stale() }

func (t *Template) stale() bool {
	if t.run == nil {
		return true
	}
	return t.opts.specialize && t.profile.Dirty()
}

// Render executes the template against ctx into w, recompiling first when
// the template is stale.
func (t *Template) Render(ctx *Context, w io.Writer) error {
	if t.stale() {
		if err := t.recompile(); err != nil {
			return err
		}
	}
	// A recompilation triggered while run executes (a recursive partial)
	// leaves this render on run.
	run := t.run
	return run(ctx, w)
}

// RenderString renders into a pooled builder and returns the output.
func (t *Template) RenderString(ctx *Context) (string, error) {
	sb := stringBuilderPool.Get().(*strings.Builder)
	sb.Reset()
	defer stringBuilderPool.Put(sb)
	if err := t.Render(ctx, sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *Template) recompile() error {
	tree := t.ast
	if t.opts.specialize {
		optimized, err := Optimize(t.ast, t.profile)
		if err != nil {
			return err
		}
		tree = optimized
	}
	run, err := compile(tree, t.profile, t.opts.escaper)
	if err != nil {
		return err
	}
	t.profile.ClearDirty()
	t.run = run
	t.current = tree
	t.generation++
	if t.opts.logger != nil {
		t.opts.logger.Printf("jittpl: compiled generation %d (%d profile entries)", t.generation, t.profile.Len())
	}
	return nil
}

// ----------------------------- Options --------------------------------------

// Option configures New and NewView. NewView passes the template options
// (WithEscaper, WithLogger, WithSpecialization) on to the partials it
// compiles. View options are marked as such; New ignores them, and a
// Template takes its miss handling, data and partials from the root it is
// rendered with.
type Option func(*options)

type options struct {
	escaper    Escaper
	logger     *log.Logger
	specialize bool
	profile    *Profile

	// View settings
	raiseOnContextMiss bool
	data               map[string]any
	partials           map[string]Node
	loader             func(name string) (Node, error)
	cacheSize          int
}

func defaultOptions() options {
	return options{
		escaper:            HTMLEscape,
		specialize:         true,
		raiseOnContextMiss: true,
		cacheSize:          500,
	}
}

// WithEscaper replaces the escaper used by escaped tags.
func WithEscaper(e Escaper) Option { return func(co *options) { co.escaper = e } }

// WithLogger traces compilations.
func WithLogger(l *log.Logger) Option { return func(co *options) { co.logger = l } }

// WithSpecialization(false) keeps templates on the generic routine.
// Profiles are still recorded.
func WithSpecialization(enabled bool) Option {
	return func(co *options) { co.specialize = enabled }
}

// WithProfile seeds new templates and their clones with a copy of p, for
// example one loaded with LoadProfile from an earlier process. NewView
// ignores it: partials learn their own profiles.
func WithProfile(p *Profile) Option { return func(co *options) { co.profile = p } }

// WithRaiseOnContextMiss is a View option: false turns unresolved names
// into empty values instead of errors.
func WithRaiseOnContextMiss(raise bool) Option {
	return func(co *options) { co.raiseOnContextMiss = raise }
}

// WithData is a View option seeding the default data frame.
func WithData(data map[string]any) Option {
	return func(co *options) {
		if co.data == nil {
			co.data = make(map[string]any, len(data))
		}
		for k, v := range data {
			co.data[k] = v
		}
	}
}

// WithPartials is a View option registering partial trees.
func WithPartials(partials map[string]Node) Option {
	return func(co *options) {
		if co.partials == nil {
			co.partials = make(map[string]Node, len(partials))
		}
		for name, n := range partials {
			co.partials[name] = n
		}
	}
}

// WithPartialLoader is a View option resolving partials missing from
// WithPartials.
func WithPartialLoader(load func(name string) (Node, error)) Option {
	return func(co *options) { co.loader = load }
}

// WithPartialCacheSize is a View option bounding the number of compiled
// partials kept.
func WithPartialCacheSize(n int) Option {
	return func(co *options) {
		if n > 0 {
			co.cacheSize = n
		}
	}
}
