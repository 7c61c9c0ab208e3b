package jittpl

import (
	"strings"
	"sync"
)

// ----------------------------- Buffer and context pools ---------------------

var stringBuilderPool = sync.Pool{
	New: func() any { return &strings.Builder{} },
}

var contextPool = sync.Pool{
	New: func() any {
		return &Context{
			frames: make([]any, 0, 8), // pre-allocate common depth
			names:  make([]string, 0, 4),
		}
	},
}

// acquireContext returns a reset stack for one render. It must be handed
// back with releaseContext once the render returns.
func acquireContext(root Root, locals map[string]any) *Context {
	ctx := contextPool.Get().(*Context)
	ctx.reset(root, locals)
	return ctx
}

func releaseContext(ctx *Context) {
	ctx.reset(nil, nil)
	contextPool.Put(ctx)
}

// ----------------------------- Template pools for hot paths ---------------

// TemplatePool renders one tree from many goroutines. Every pooled entry
// is a separate Template sharing only the immutable tree, so each learns
// its own profile. Roots passed to Render must not be shared between
// goroutines when they cache partials (View does).
type TemplatePool struct {
	pool sync.Pool
}

// NewTemplatePool returns a pool of templates for root. A WithProfile seed
// is copied into every pooled template.
func NewTemplatePool(root Node, opts ...Option) *TemplatePool {
	proto := New(root, opts...)
	return &TemplatePool{
		pool: sync.Pool{
			New: func() any {
				// Each pool entry gets its own clone to avoid sharing a profile
				return proto.Clone()
			},
		},
	}
}

func (tp *TemplatePool) Render(root Root, locals map[string]any) (string, error) {
	tmpl := tp.pool.Get().(*Template)
	defer tp.pool.Put(tmpl)
	return Render(root, tmpl, locals)
}
