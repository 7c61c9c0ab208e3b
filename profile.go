package jittpl

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ----------------------------- Profile --------------------------------------

// Key identifies a profile entry: a qualified tag path plus the node family
// that observed it, so tags, sections and inverted sections sharing a path
// never collide.
type Key struct {
	Family Family
	path   string
}

// Family is the kind of node a profile entry was observed by.
type Family int

const (
	FamilyTag Family = iota
	FamilySection
	FamilyInverted
)

var familyNames = [...]string{"tag", "section", "inverted"}

func (f Family) String() string {
	if f < 0 || int(f) >= len(familyNames) {
		return fmt.Sprintf("Family(%d)", int(f))
	}
	return familyNames[f]
}

const pathSep = "\x00"

// TagKey returns the key of a tag with the given qualified path (the tag's
// name followed by its enclosing section names, innermost first).
func TagKey(path ...string) Key { return Key{Family: FamilyTag, path: strings.Join(path, pathSep)} }

// SectionKey returns the key of a section with the given qualified path.
func SectionKey(path ...string) Key {
	return Key{Family: FamilySection, path: strings.Join(path, pathSep)}
}

// InvertedKey returns the key of an inverted section with the given
// qualified path.
func InvertedKey(path ...string) Key {
	return Key{Family: FamilyInverted, path: strings.Join(path, pathSep)}
}

// sectionKey picks the section family matching inverted.
func sectionKey(inverted bool, path ...string) Key {
	if inverted {
		return InvertedKey(path...)
	}
	return SectionKey(path...)
}

// Path returns the qualified path, innermost first.
func (k Key) Path() []string {
	if k.path == "" {
		return nil
	}
	return strings.Split(k.path, pathSep)
}

func (k Key) String() string {
	return k.Family.String() + "[" + strings.Join(k.Path(), " ") + "]"
}

// Entry is the resolution strategy last observed for a key. Shape is
// ShapeNone for tags.
type Entry struct {
	Frame  int
	Access AccessKind
	Shape  Shape
}

// Profile records how each qualified path resolved. Entries are never
// expired; they are added or updated in place. A Profile belongs to one
// Template and is not safe for concurrent use.
type Profile struct {
	entries map[Key]Entry
	dirty   bool
}

func NewProfile() *Profile {
	return &Profile{entries: make(map[Key]Entry)}
}

// Get returns the entry stored for k.
func (p *Profile) Get(k Key) (Entry, bool) {
	e, ok := p.entries[k]
	return e, ok
}

// Set stores e under k and marks the profile dirty when e is new or
// differs from the stored entry.
func (p *Profile) Set(k Key, e Entry) {
	if old, ok := p.entries[k]; ok && old == e {
		return
	}
	p.entries[k] = e
	p.dirty = true
}

// Dirty reports whether entries changed since the last ClearDirty.
func (p *Profile) Dirty() bool { return p.dirty }

func (p *Profile) ClearDirty() { p.dirty = false }

func (p *Profile) Len() int { return len(p.entries) }

// Keys returns all keys in a stable order.
func (p *Profile) Keys() []Key {
	keys := make([]Key, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Family != keys[j].Family {
			return keys[i].Family < keys[j].Family
		}
		return keys[i].path < keys[j].path
	})
	return keys
}

// clone copies the entries and the dirty flag.
func (p *Profile) clone() *Profile {
	cp := &Profile{entries: make(map[Key]Entry, len(p.entries)), dirty: p.dirty}
	for k, e := range p.entries {
		cp.entries[k] = e
	}
	return cp
}

// ----------------------------- Persistence ----------------------------------

type profileRecord struct {
	Kind   string     `yaml:"kind"`
	Path   []string   `yaml:"path,flow"`
	Frame  int        `yaml:"frame"`
	Access AccessKind `yaml:"access"`
	Shape  Shape      `yaml:"shape,omitempty"`
}

// MarshalYAML writes the entries as a list ordered like Keys.
func (p *Profile) MarshalYAML() (any, error) {
	records := make([]profileRecord, 0, len(p.entries))
	for _, k := range p.Keys() {
		e := p.entries[k]
		records = append(records, profileRecord{
			Kind:   k.Family.String(),
			Path:   k.Path(),
			Frame:  e.Frame,
			Access: e.Access,
			Shape:  e.Shape,
		})
	}
	return records, nil
}

// UnmarshalYAML loads entries written by MarshalYAML. Loaded entries mark
// the profile dirty so the owning template specializes on its next render.
func (p *Profile) UnmarshalYAML(value *yaml.Node) error {
	var records []profileRecord
	if err := value.Decode(&records); err != nil {
		return fmt.Errorf("jittpl: decode profile: %w", err)
	}
	if p.entries == nil {
		p.entries = make(map[Key]Entry, len(records))
	}
	for i, r := range records {
		if len(r.Path) == 0 {
			return fmt.Errorf("jittpl: profile record %d: empty path", i)
		}
		var k Key
		switch r.Kind {
		case "tag":
			k = TagKey(r.Path...)
		case "section":
			k = SectionKey(r.Path...)
		case "inverted":
			k = InvertedKey(r.Path...)
		default:
			return fmt.Errorf("jittpl: profile record %d: unknown kind %q", i, r.Kind)
		}
		p.Set(k, Entry{Frame: r.Frame, Access: r.Access, Shape: r.Shape})
	}
	return nil
}

// LoadProfile decodes a YAML profile document.
func LoadProfile(data []byte) (*Profile, error) {
	p := NewProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
