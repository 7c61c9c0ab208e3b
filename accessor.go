package jittpl

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// ----------------------------- Frame accessors ------------------------------

// Symbol is the symbolic form of a name. Mapping frames keyed by Symbol
// resolve with AccessSymbol and take priority over plain string keys.
type Symbol string

var (
	symbolType = reflect.TypeOf(Symbol(""))
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

// lookupKeyed resolves name against a mapping frame. isMap reports whether
// the frame is a mapping at all; non-mappings fall through to accessors.
func lookupKeyed(frame any, name string) (v any, kind AccessKind, isMap bool) {
	// Fast paths for the common frame types
	switch m := frame.(type) {
	case map[string]any:
		if val, ok := m[name]; ok {
			return val, AccessString, true
		}
		return nil, AccessNone, true
	case map[Symbol]any:
		if val, ok := m[Symbol(name)]; ok {
			return val, AccessSymbol, true
		}
		return nil, AccessNone, true
	case map[any]any:
		if val, ok := m[Symbol(name)]; ok {
			return val, AccessSymbol, true
		}
		if val, ok := m[name]; ok {
			return val, AccessString, true
		}
		return nil, AccessNone, true
	}

	rv := reflect.ValueOf(frame)
	if rv.Kind() != reflect.Map {
		return nil, AccessNone, false
	}
	kt := rv.Type().Key()
	if sym, ok := mapKey(kt, name, AccessSymbol); ok {
		if mv := rv.MapIndex(sym); mv.IsValid() {
			return mv.Interface(), AccessSymbol, true
		}
	}
	if str, ok := mapKey(kt, name, AccessString); ok {
		if mv := rv.MapIndex(str); mv.IsValid() {
			return mv.Interface(), AccessString, true
		}
	}
	return nil, AccessNone, true
}

// mapKey converts name into a key usable with a map whose key type is kt.
func mapKey(kt reflect.Type, name string, kind AccessKind) (reflect.Value, bool) {
	switch kind {
	case AccessSymbol:
		if kt == symbolType || (kt.Kind() == reflect.Interface && symbolType.Implements(kt)) {
			return reflect.ValueOf(Symbol(name)), true
		}
	case AccessString:
		if kt == symbolType {
			return reflect.Value{}, false
		}
		if kt.Kind() == reflect.String {
			return stringToReflectValue(name).Convert(kt), true
		}
		if kt.Kind() == reflect.Interface && reflect.TypeOf("").Implements(kt) {
			return stringToReflectValue(name), true
		}
	}
	return reflect.Value{}, false
}

// readKeyed reads name from a mapping frame using a fixed access kind.
func readKeyed(frame any, name string, kind AccessKind) any {
	switch m := frame.(type) {
	case map[string]any:
		if kind == AccessString {
			return m[name]
		}
		return nil
	case map[Symbol]any:
		if kind == AccessSymbol {
			return m[Symbol(name)]
		}
		return nil
	case map[any]any:
		if kind == AccessSymbol {
			return m[Symbol(name)]
		}
		return m[name]
	}
	rv := reflect.ValueOf(frame)
	if rv.Kind() != reflect.Map {
		return nil
	}
	key, ok := mapKey(rv.Type().Key(), name, kind)
	if !ok {
		return nil
	}
	if mv := rv.MapIndex(key); mv.IsValid() {
		return mv.Interface()
	}
	return nil
}

// readFrame applies a cached access kind to a single frame. Missing keys
// and accessors read as nil; specialized nodes never rescan the stack.
func readFrame(frame any, name string, kind AccessKind) (any, error) {
	if frame == nil {
		return nil, nil
	}
	switch kind {
	case AccessSelf:
		return frame, nil
	case AccessSymbol, AccessString:
		return readKeyed(frame, name, kind), nil
	case AccessMethod:
		v, _, err := callAccessor(frame, name)
		return v, err
	}
	return nil, nil
}

// ----------------------------- Accessor reflection cache --------------------

type fieldCache struct {
	mu    sync.RWMutex
	cache map[fieldCacheKey]*fieldInfo
}

type fieldCacheKey struct {
	typ  reflect.Type
	name string
}

type fieldInfo struct {
	index    []int
	method   int
	found    bool
	isMethod bool
}

func newFieldCache() *fieldCache {
	return &fieldCache{
		cache: make(map[fieldCacheKey]*fieldInfo),
	}
}

var accessorCache = newFieldCache()

func (fc *fieldCache) lookup(typ reflect.Type, name string) *fieldInfo {
	key := fieldCacheKey{typ: typ, name: name}
	fc.mu.RLock()
	info, ok := fc.cache[key]
	fc.mu.RUnlock()
	if ok {
		return info
	}
	info = resolveAccessor(typ, name)
	fc.mu.Lock()
	fc.cache[key] = info
	fc.mu.Unlock()
	return info
}

func resolveAccessor(typ reflect.Type, name string) *fieldInfo {
	exported := exportedName(name)
	for _, candidate := range []string{name, exported} {
		m, ok := typ.MethodByName(candidate)
		if !ok {
			continue
		}
		// Receiver is the only input for a method taken from the type
		mt := m.Type
		if mt.NumIn() != 1 {
			continue
		}
		if mt.NumOut() == 1 || (mt.NumOut() == 2 && mt.Out(1) == errorType) {
			return &fieldInfo{method: m.Index, found: true, isMethod: true}
		}
	}

	st := typ
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return &fieldInfo{}
	}
	for _, candidate := range []string{name, exported} {
		if f, ok := st.FieldByName(candidate); ok && f.IsExported() {
			return &fieldInfo{index: f.Index, found: true}
		}
	}
	if f, ok := st.FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, exported) }); ok && f.IsExported() {
		return &fieldInfo{index: f.Index, found: true}
	}
	return &fieldInfo{}
}

// callAccessor invokes the zero-argument accessor name on a non-mapping
// frame: a method first, then an exported struct field.
func callAccessor(frame any, name string) (any, bool, error) {
	rv := reflect.ValueOf(frame)
	if !rv.IsValid() {
		return nil, false, nil
	}
	info := accessorCache.lookup(rv.Type(), name)
	if !info.found {
		return nil, false, nil
	}
	if info.isMethod {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, false, nil
		}
		out := rv.Method(info.method).Call(nil)
		if len(out) == 2 && !out[1].IsNil() {
			return nil, true, out[1].Interface().(error)
		}
		return out[0].Interface(), true, nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false, nil
		}
		rv = rv.Elem()
	}
	fv, err := rv.FieldByIndexErr(info.index)
	if err != nil {
		// nil embedded pointer on the way to the field
		return nil, true, nil
	}
	return fv.Interface(), true, nil
}

// exportedName maps a tag name such as "first_name" to "FirstName".
func exportedName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	upper := true
	for _, r := range name {
		if r == '_' || r == '-' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		sb.WriteRune(r)
	}
	if sb.Len() == 0 {
		return name
	}
	return sb.String()
}
