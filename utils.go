package jittpl

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// ----------------------------- Escaping -------------------------------------

// Escaper transforms the string form of an escaped tag before output.
type Escaper func(string) string

// HTMLEscape escapes the five HTML metacharacters. It is the default
// Escaper.
func HTMLEscape(s string) string {
	// Quick scan for characters that need escaping
	needsEscape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '&' || c == '<' || c == '>' || c == '"' || c == '\'' {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + len(s)/4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '&':
			sb.WriteString("&amp;")
		case '<':
			sb.WriteString("&lt;")
		case '>':
			sb.WriteString("&gt;")
		case '"':
			sb.WriteString("&quot;")
		case '\'':
			sb.WriteString("&#39;")
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

var (
	sanitizePolicyOnce sync.Once
	sanitizePolicy     *bluemonday.Policy
)

// SanitizeHTML keeps user-generated-content safe markup and strips the
// rest. Use it as an Escaper when escaped tags may carry trusted-looking
// HTML that should survive.
func SanitizeHTML(s string) string {
	sanitizePolicyOnce.Do(func() {
		sanitizePolicy = bluemonday.UGCPolicy()
	})
	return sanitizePolicy.Sanitize(s)
}

// ----------------------------- Value helpers --------------------------------

// toString returns the output form of a resolved value. nil renders as "".
func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case Symbol:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Lambda is a delegate section value: it receives the rendered body and
// returns the section output.
type Lambda func(body string) (string, error)

func asLambda(v any) (Lambda, bool) {
	switch f := v.(type) {
	case Lambda:
		return f, f != nil
	case func(string) (string, error):
		return f, f != nil
	case func(string) string:
		if f == nil {
			return nil, false
		}
		return func(s string) (string, error) { return f(s), nil }, true
	}
	return nil, false
}

// shapeOf classifies a section value. Absent values report ShapeObject.
func shapeOf(v any) Shape {
	switch v.(type) {
	case nil:
		return ShapeObject
	case bool:
		return ShapeBoolean
	case []any, []map[string]any:
		return ShapeArray
	}
	if _, ok := asLambda(v); ok {
		return ShapeDelegate
	}
	if isSequence(reflect.ValueOf(v)) {
		return ShapeArray
	}
	return ShapeObject
}

func isSequence(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Slice:
		return rv.Type().Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	}
	return false
}

// isAbsent reports nil and nil pointers or interfaces.
func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// isEmpty reports absent values and zero-length collections and strings.
func isEmpty(v any) bool {
	if isAbsent(v) {
		return true
	}
	switch x := v.(type) {
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return rv.Len() == 0
	}
	return false
}

// isFalsy is the inverted section test: absent, false, or empty.
func isFalsy(v any) bool {
	if b, ok := v.(bool); ok {
		return !b
	}
	return isEmpty(v)
}

// eachElem calls fn for every element of a sequence in order.
func eachElem(v any, fn func(any) error) error {
	// Fast paths for []any and []map[string]any
	switch s := v.(type) {
	case []any:
		for _, elem := range s {
			if err := fn(elem); err != nil {
				return err
			}
		}
		return nil
	case []map[string]any:
		for _, elem := range s {
			if err := fn(elem); err != nil {
				return err
			}
		}
		return nil
	}
	rv := reflect.ValueOf(v)
	if !isSequence(rv) {
		return nil
	}
	for i := 0; i < rv.Len(); i++ {
		if err := fn(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------- Reflection value cache -----------------------

type valueCache struct {
	mu    sync.RWMutex
	cache map[string]reflect.Value
}

var globalValueCache = &valueCache{
	cache: make(map[string]reflect.Value),
}

func (vc *valueCache) get(s string) reflect.Value {
	vc.mu.RLock()
	v, ok := vc.cache[s]
	vc.mu.RUnlock()
	if ok {
		return v
	}
	v = reflect.ValueOf(s)
	vc.mu.Lock()
	vc.cache[s] = v
	vc.mu.Unlock()
	return v
}

// stringToReflectValue returns a cached reflect.Value for a map key name.
func stringToReflectValue(s string) reflect.Value {
	return globalValueCache.get(s)
}
