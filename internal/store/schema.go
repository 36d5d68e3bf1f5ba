package store

import (
	"context"
	"fmt"
)

// Schema declares the collections of a store and its version.
// Bumping Version triggers Upgrade on the next open.
type Schema struct {
	Name        string
	Version     int
	Collections []Collection

	// Upgrade runs inside the upgrade transaction after the catalog has
	// been rewritten and before secondary indices are rebuilt.
	Upgrade func(ctx context.Context, tx *Tx, oldVersion, newVersion int) error
}

// Collection is a named set of items keyed by the value at KeyPath.
type Collection struct {
	Name    string
	KeyPath string
	Indices []Index
}

// Index is a secondary index over the value at KeyPath.
//
// Items without a valid key at KeyPath are not indexed. With MultiEntry,
// an array value produces one entry per distinct element.
type Index struct {
	Name       string
	KeyPath    string
	Unique     bool
	MultiEntry bool
}

// Validate checks the schema for structural errors.
func (s Schema) Validate() error {
	if s.Version < 1 {
		return fmt.Errorf("schema %q: version must be >= 1, got %d", s.Name, s.Version)
	}
	seen := make(map[string]bool, len(s.Collections))
	for _, c := range s.Collections {
		if c.Name == "" {
			return fmt.Errorf("schema %q: collection with empty name", s.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("schema %q: duplicate collection %q", s.Name, c.Name)
		}
		seen[c.Name] = true
		if c.KeyPath == "" {
			return fmt.Errorf("schema %q: collection %q has no key path", s.Name, c.Name)
		}
		idx := make(map[string]bool, len(c.Indices))
		for _, ix := range c.Indices {
			if ix.Name == "" || ix.KeyPath == "" {
				return fmt.Errorf("schema %q: collection %q: index needs name and key path", s.Name, c.Name)
			}
			if idx[ix.Name] {
				return fmt.Errorf("schema %q: collection %q: duplicate index %q", s.Name, c.Name, ix.Name)
			}
			idx[ix.Name] = true
		}
	}
	return nil
}

func (s Schema) collectionMap() map[string]*Collection {
	m := make(map[string]*Collection, len(s.Collections))
	for i := range s.Collections {
		m[s.Collections[i].Name] = &s.Collections[i]
	}
	return m
}

func (c *Collection) index(name string) (*Index, bool) {
	for i := range c.Indices {
		if c.Indices[i].Name == name {
			return &c.Indices[i], true
		}
	}
	return nil, false
}
