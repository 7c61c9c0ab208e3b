package jittpl

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustRender(t *testing.T, view *View, tpl *Template, locals map[string]any) string {
	t.Helper()
	out, err := view.Render(tpl, locals)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return out
}

func TestRenderTag(t *testing.T) {
	out := mustRender(t, NewView(), New(Tag{Name: "name", Escape: true}), map[string]any{"name": "Ada"})
	if out != "Ada" {
		t.Errorf("expected %q, got %q", "Ada", out)
	}

	quiet := NewView(WithRaiseOnContextMiss(false))
	out = mustRender(t, quiet, New(Tag{Name: "name", Escape: true}), map[string]any{})
	if out != "" {
		t.Errorf("expected empty output, got %q", out)
	}

	_, err := NewView().Render(New(Tag{Name: "name", Escape: true}), map[string]any{})
	if !errors.Is(err, ErrContextMiss) {
		t.Errorf("expected ErrContextMiss, got %v", err)
	}
}

func TestRenderArraySectionSpecializes(t *testing.T) {
	view := NewView()
	tpl := New(Section{Name: "items", Body: Tag{Name: ".", Escape: true}})

	if out := mustRender(t, view, tpl, map[string]any{"items": []int{1, 2, 3}}); out != "123" {
		t.Errorf("expected %q, got %q", "123", out)
	}
	e, ok := tpl.Profile().Get(SectionKey("items"))
	if !ok {
		t.Fatal("expected section[items] in the profile")
	}
	if diff := cmp.Diff(Entry{Frame: 0, Access: AccessString, Shape: ShapeArray}, e); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}

	if out := mustRender(t, view, tpl, map[string]any{"items": []int{4, 5}}); out != "45" {
		t.Errorf("expected %q, got %q", "45", out)
	}
	want := SpecializedSection{
		Name:   "items",
		Body:   SpecializedTag{Name: ".", Escape: true, Frame: 0, Access: AccessSelf},
		Frame:  0,
		Access: AccessString,
		Shape:  ShapeArray,
	}
	if diff := cmp.Diff(Node(want), tpl.Current()); diff != "" {
		t.Errorf("specialized tree mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderInvertedSection(t *testing.T) {
	view := NewView()
	tpl := New(Section{Name: "flag", Inverted: true, Body: Text("no")})

	if out := mustRender(t, view, tpl, map[string]any{"flag": false}); out != "no" {
		t.Errorf("expected %q, got %q", "no", out)
	}
	if out := mustRender(t, view, tpl, map[string]any{"flag": true}); out != "" {
		t.Errorf("expected empty output, got %q", out)
	}
	if sec, ok := tpl.Current().(SpecializedSection); !ok || sec.Shape != ShapeBoolean || !sec.Inverted {
		t.Errorf("expected an inverted boolean specialization, got %#v", tpl.Current())
	}
	if out := mustRender(t, view, tpl, map[string]any{"flag": false}); out != "no" {
		t.Errorf("expected %q, got %q", "no", out)
	}
}

func TestRenderQualifiesPaths(t *testing.T) {
	view := NewView()
	tpl := New(Section{Name: "user", Body: Tag{Name: "name", Escape: true}})

	locals := map[string]any{"user": map[string]any{"name": "Bo"}}
	if out := mustRender(t, view, tpl, locals); out != "Bo" {
		t.Errorf("expected %q, got %q", "Bo", out)
	}
	e, ok := tpl.Profile().Get(TagKey("name", "user"))
	if !ok || e.Frame != 0 || e.Access != AccessString {
		t.Errorf("expected tag[name user] at frame 0, got %+v (found %v)", e, ok)
	}
	if _, ok := tpl.Profile().Get(TagKey("name")); ok {
		t.Error("expected no entry for the unqualified name")
	}
}

func TestSameNameDifferentPaths(t *testing.T) {
	view := NewView()
	tpl := New(Multi{
		Tag{Name: "name", Escape: true},
		Text("/"),
		Section{Name: "user", Body: Tag{Name: "name", Escape: true}},
	})
	locals := map[string]any{"name": "top", "user": testPerson{First: "Ada", Last: "L"}}

	for i := 0; i < 2; i++ {
		if out := mustRender(t, view, tpl, locals); out != "top/Ada L" {
			t.Errorf("render %d: expected %q, got %q", i, "top/Ada L", out)
		}
	}
	outer, _ := tpl.Profile().Get(TagKey("name"))
	inner, _ := tpl.Profile().Get(TagKey("name", "user"))
	if outer.Access != AccessString || inner.Access != AccessMethod {
		t.Errorf("expected string then method access, got %s and %s", outer.Access, inner.Access)
	}
}

func TestRenderEscaping(t *testing.T) {
	view := NewView()
	locals := map[string]any{"x": "<b>"}

	if out := mustRender(t, view, New(Tag{Name: "x", Escape: true}), locals); out != "&lt;b&gt;" {
		t.Errorf("expected %q, got %q", "&lt;b&gt;", out)
	}
	if out := mustRender(t, view, New(Tag{Name: "x"}), locals); out != "<b>" {
		t.Errorf("expected %q, got %q", "<b>", out)
	}

	tpl := New(Tag{Name: "x", Escape: true}, WithEscaper(SanitizeHTML))
	locals = map[string]any{"x": `<b>hi</b><script>alert(1)</script>`}
	if out := mustRender(t, view, tpl, locals); out != "<b>hi</b>" {
		t.Errorf("expected %q, got %q", "<b>hi</b>", out)
	}
}

func TestTemplateStateMachine(t *testing.T) {
	view := NewView()
	tpl := New(Section{Name: "items", Body: Tag{Name: ".", Escape: true}})
	if tpl.Fresh() || tpl.Generation() != 0 || tpl.Current() != nil {
		t.Fatal("expected a new template to be stale and uncompiled")
	}

	locals := map[string]any{"items": []string{"a"}}
	mustRender(t, view, tpl, locals)
	if tpl.Fresh() {
		t.Error("expected the template to be stale after learning")
	}
	if tpl.Generation() != 1 {
		t.Errorf("expected generation 1, got %d", tpl.Generation())
	}

	mustRender(t, view, tpl, locals)
	if !tpl.Fresh() {
		t.Error("expected the template to be fresh after specializing")
	}
	if tpl.Generation() != 2 {
		t.Errorf("expected generation 2, got %d", tpl.Generation())
	}

	keys := tpl.Profile().Keys()
	for i := 0; i < 5; i++ {
		mustRender(t, view, tpl, map[string]any{"items": []string{"b", "c"}})
	}
	if tpl.Generation() != 2 || tpl.Profile().Dirty() {
		t.Errorf("expected a steady state, got generation %d dirty %v", tpl.Generation(), tpl.Profile().Dirty())
	}
	if len(tpl.Profile().Keys()) != len(keys) {
		t.Errorf("expected %d profile entries, got %d", len(keys), tpl.Profile().Len())
	}
}

func TestSpecializationIsTransparent(t *testing.T) {
	view := NewView(WithData(map[string]any{"site": "jit"}))
	tests := []struct {
		name   string
		tree   Node
		locals map[string]any
		want   string
	}{
		{
			name:   "tags",
			tree:   Multi{Tag{Name: "a", Escape: true}, Tag{Name: "b"}},
			locals: map[string]any{"a": "<", "b": "<"},
			want:   "&lt;<",
		},
		{
			name: "nested arrays and booleans",
			tree: Section{Name: "people", Body: Multi{
				Text("<li>"),
				Tag{Name: "name", Escape: true},
				Section{Name: "admin", Body: Text(" *")},
				Section{Name: "admin", Inverted: true, Body: Text(" -")},
				Text("</li>"),
			}},
			locals: map[string]any{"people": []map[string]any{
				{"name": "Ada", "admin": true},
				{"name": "Bo", "admin": false},
			}},
			want: "<li>Ada *</li><li>Bo -</li>",
		},
		{
			name:   "object accessor",
			tree:   Section{Name: "user", Body: Tag{Name: "greeting", Escape: true}},
			locals: map[string]any{"user": testPerson{First: "Ada"}},
			want:   "Hello, Ada",
		},
		{
			name: "delegate",
			tree: Section{Name: "bold", Body: Multi{Text("Hi "), Tag{Name: "name", Escape: true}}},
			locals: map[string]any{
				"name": "Ada",
				"bold": func(s string) string { return "<b>" + s + "</b>" },
			},
			want: "<b>Hi Ada</b>",
		},
		{
			name:   "outer frame from a loop",
			tree:   Section{Name: "items", Body: Multi{Tag{Name: "prefix"}, Tag{Name: ".", Escape: true}}},
			locals: map[string]any{"prefix": "-", "items": []any{1, "two", 3.5}},
			want:   "-1-two-3.5",
		},
		{
			name:   "symbol keys",
			tree:   Section{Name: "cfg", Body: Tag{Name: "mode", Escape: true}},
			locals: map[string]any{"cfg": map[Symbol]any{"mode": "fast"}},
			want:   "fast",
		},
		{
			name:   "inverted empty list",
			tree:   Section{Name: "items", Inverted: true, Body: Text("none")},
			locals: map[string]any{"items": []string{}},
			want:   "none",
		},
		{
			name:   "default data frame",
			tree:   Tag{Name: "site", Escape: true},
			locals: nil,
			want:   "jit",
		},
		{
			name:   "root accessor",
			tree:   Section{Name: "data", Body: Tag{Name: "site", Escape: true}},
			locals: map[string]any{},
			want:   "jit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adaptive := New(tt.tree)
			generic := New(tt.tree, WithSpecialization(false))
			for i := 0; i < 3; i++ {
				if got := mustRender(t, view, adaptive, tt.locals); got != tt.want {
					t.Errorf("adaptive render %d: expected %q, got %q", i, tt.want, got)
				}
				if got := mustRender(t, view, generic, tt.locals); got != tt.want {
					t.Errorf("generic render %d: expected %q, got %q", i, tt.want, got)
				}
			}
			if adaptive.Generation() != 2 {
				t.Errorf("expected the adaptive template at generation 2, got %d", adaptive.Generation())
			}
			if generic.Generation() != 1 {
				t.Errorf("expected the generic template at generation 1, got %d", generic.Generation())
			}
		})
	}
}

func TestSectionAndInvertedSectionShareAName(t *testing.T) {
	wrap := func(s string) string { return "<" + s + ">" }
	orders := map[string]Node{
		"inverted first": Multi{
			Section{Name: "f", Inverted: true, Body: Text("no")},
			Section{Name: "f", Body: Text("yes")},
		},
		"section first": Multi{
			Section{Name: "f", Body: Text("yes")},
			Section{Name: "f", Inverted: true, Body: Text("no")},
		},
	}
	for name, tree := range orders {
		t.Run(name, func(t *testing.T) {
			view := NewView()
			tpl := New(tree)
			for i := 0; i < 3; i++ {
				out, err := view.Render(tpl, map[string]any{"f": wrap})
				if err != nil {
					t.Fatalf("render %d: %v", i, err)
				}
				if out != "<yes>" {
					t.Errorf("render %d: expected %q, got %q", i, "<yes>", out)
				}
			}
			if e, _ := tpl.Profile().Get(SectionKey("f")); e.Shape != ShapeDelegate {
				t.Errorf("expected section[f] to stay a delegate, got %s", e.Shape)
			}
			if e, _ := tpl.Profile().Get(InvertedKey("f")); e.Shape != ShapeObject {
				t.Errorf("expected inverted[f] as an object, got %s", e.Shape)
			}
			if tpl.Generation() != 2 || !tpl.Fresh() {
				t.Errorf("expected a fresh template at generation 2, got %d", tpl.Generation())
			}
		})
	}
}

func TestRenderDelegateErrors(t *testing.T) {
	tpl := New(Section{Name: "wrap", Body: Text("x")})
	locals := map[string]any{"wrap": Lambda(func(string) (string, error) { return "", errBoom })}
	if _, err := NewView().Render(tpl, locals); !errors.Is(err, errBoom) {
		t.Errorf("expected the delegate error, got %v", err)
	}
}

func TestRenderAccessorErrors(t *testing.T) {
	view := NewView()
	tpl := New(Section{Name: "p", Body: Tag{Name: "fail"}})
	if _, err := view.Render(tpl, map[string]any{"p": &testPerson{}}); !errors.Is(err, errBoom) {
		t.Errorf("expected the accessor error, got %v", err)
	}
}

func TestRenderAbsentSection(t *testing.T) {
	view := NewView(WithRaiseOnContextMiss(false))
	tpl := New(Multi{
		Section{Name: "missing", Body: Text("shown")},
		Section{Name: "missing", Inverted: true, Body: Text("hidden")},
		Section{Name: "empty", Body: Text("x")},
	})
	locals := map[string]any{"empty": nil}
	for i := 0; i < 2; i++ {
		if out := mustRender(t, view, tpl, locals); out != "hidden" {
			t.Errorf("render %d: expected %q, got %q", i, "hidden", out)
		}
	}
	if _, ok := tpl.Profile().Get(SectionKey("missing")); ok {
		t.Error("expected no entry for a name that never resolved")
	}
	if e, _ := tpl.Profile().Get(SectionKey("empty")); e.Shape != ShapeObject {
		t.Errorf("expected a nil value to record an object shape, got %s", e.Shape)
	}
}

// Specialized sections trust the recorded shape: a later value of a
// different shape is not re-validated.
func TestSpecializedShapeIsKept(t *testing.T) {
	view := NewView()
	tpl := New(Section{Name: "items", Body: Text("x")})

	mustRender(t, view, tpl, map[string]any{"items": []int{1, 2}})
	if out := mustRender(t, view, tpl, map[string]any{"items": []int{1}}); out != "x" {
		t.Errorf("expected %q, got %q", "x", out)
	}
	if out := mustRender(t, view, tpl, map[string]any{"items": map[string]any{"a": 1}}); out != "" {
		t.Errorf("expected a non-sequence to render nothing, got %q", out)
	}
	e, _ := tpl.Profile().Get(SectionKey("items"))
	if e.Shape != ShapeArray || tpl.Generation() != 2 {
		t.Errorf("expected the array specialization to stay, got %s at generation %d", e.Shape, tpl.Generation())
	}
}

func TestCloneStartsOver(t *testing.T) {
	view := NewView()
	tpl := New(Section{Name: "items", Body: Tag{Name: ".", Escape: true}})
	locals := map[string]any{"items": []int{1}}
	mustRender(t, view, tpl, locals)
	mustRender(t, view, tpl, locals)

	clone := tpl.Clone()
	if clone.Profile().Len() != 0 || clone.Generation() != 0 {
		t.Errorf("expected an empty clone, got %d entries at generation %d", clone.Profile().Len(), clone.Generation())
	}
	if diff := cmp.Diff(tpl.AST(), clone.AST()); diff != "" {
		t.Errorf("expected a shared tree (-orig +clone):\n%s", diff)
	}
	if out := mustRender(t, view, clone, locals); out != "1" {
		t.Errorf("expected %q, got %q", "1", out)
	}
}

func TestCloneKeepsTheSeedProfile(t *testing.T) {
	seed := NewProfile()
	seed.Set(SectionKey("items"), Entry{Frame: 0, Access: AccessString, Shape: ShapeArray})
	tpl := New(Section{Name: "items", Body: Tag{Name: ".", Escape: true}}, WithProfile(seed))
	view := NewView()
	mustRender(t, view, tpl, map[string]any{"items": []int{1}})
	mustRender(t, view, tpl, map[string]any{"items": []int{1}})

	clone := tpl.Clone()
	if clone.Profile().Len() != 1 {
		t.Errorf("expected the clone to start from the 1 seeded entry, got %d", clone.Profile().Len())
	}
	if _, ok := clone.Profile().Get(TagKey(".", "items")); ok {
		t.Error("expected learned entries to stay with the original")
	}
	if out := mustRender(t, view, clone, map[string]any{"items": []int{7}}); out != "7" {
		t.Errorf("expected %q, got %q", "7", out)
	}
	if _, ok := clone.Current().(SpecializedSection); !ok {
		t.Errorf("expected the clone's first render to be specialized, got %T", clone.Current())
	}
}

func TestTemplatePoolKeepsTheSeedProfile(t *testing.T) {
	seed := NewProfile()
	seed.Set(TagKey("x"), Entry{Frame: 0, Access: AccessString})
	pool := NewTemplatePool(Tag{Name: "x"}, WithProfile(seed))

	tpl := pool.pool.Get().(*Template)
	defer pool.pool.Put(tpl)
	if tpl.Profile().Len() != 1 {
		t.Fatalf("expected the pooled template to carry the seed, got %d entries", tpl.Profile().Len())
	}
	if out := mustRender(t, NewView(), tpl, map[string]any{"x": "y"}); out != "y" {
		t.Errorf("expected %q, got %q", "y", out)
	}
	if _, ok := tpl.Current().(SpecializedTag); !ok {
		t.Errorf("expected a specialized tag on the first render, got %T", tpl.Current())
	}
}

func TestLoggerTracesCompilations(t *testing.T) {
	var buf bytes.Buffer
	tpl := New(Tag{Name: "x"}, WithLogger(log.New(&buf, "", 0)))
	view := NewView()
	mustRender(t, view, tpl, map[string]any{"x": 1})
	mustRender(t, view, tpl, map[string]any{"x": 2})
	mustRender(t, view, tpl, map[string]any{"x": 3})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"jittpl: compiled generation 1 (0 profile entries)",
		"jittpl: compiled generation 2 (1 profile entries)",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderToWriter(t *testing.T) {
	tpl := New(Multi{Text("n="), Tag{Name: "n"}})
	ctx := NewContext(NewView(), map[string]any{"n": 7})
	var buf bytes.Buffer
	if err := tpl.Render(ctx, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "n=7" {
		t.Errorf("expected %q, got %q", "n=7", buf.String())
	}
	if ctx.Depth() != 3 {
		t.Errorf("expected the stack restored to depth 3, got %d", ctx.Depth())
	}
}

func TestTemplatePoolRendersConcurrently(t *testing.T) {
	pool := NewTemplatePool(Section{Name: "items", Body: Tag{Name: ".", Escape: true}})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			view := NewView()
			for i := 0; i < 20; i++ {
				locals := map[string]any{"items": []int{g, i}}
				out, err := pool.Render(view, locals)
				if err != nil {
					t.Errorf("render: %v", err)
					return
				}
				if want := fmt.Sprintf("%d%d", g, i); out != want {
					t.Errorf("expected %q, got %q", want, out)
				}
			}
		}(g)
	}
	wg.Wait()
}
