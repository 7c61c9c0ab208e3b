package jittpl

import "sync"

// ----------------------------- Partial template cache ---------------------

// templateCache keeps compiled partial templates keyed by partial name and
// call site, so a partial specializes across renders like any template.
type templateCache struct {
	mu        sync.RWMutex
	templates map[string]*Template
	maxSize   int
}

func newTemplateCache(maxSize int) *templateCache {
	return &templateCache{
		templates: make(map[string]*Template),
		maxSize:   maxSize,
	}
}

func (tc *templateCache) get(key string, build func() (*Template, error)) (*Template, error) {
	tc.mu.RLock()
	tmpl, exists := tc.templates[key]
	tc.mu.RUnlock()

	if exists {
		return tmpl, nil
	}

	tmpl, err := build()
	if err != nil {
		return nil, err
	}

	tc.mu.Lock()
	if len(tc.templates) >= tc.maxSize {
		// Simple eviction: remove first entry
		for k := range tc.templates {
			delete(tc.templates, k)
			break
		}
	}
	tc.templates[key] = tmpl
	tc.mu.Unlock()

	return tmpl, nil
}

func (tc *templateCache) len() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.templates)
}

func (tc *templateCache) clear() {
	tc.mu.Lock()
	tc.templates = make(map[string]*Template)
	tc.mu.Unlock()
}
