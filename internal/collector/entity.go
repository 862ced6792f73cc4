package collector

import "fmt"

// EntitySpec declares how one entity is collected. An entity with a
// SubCollection is a child of the entity named MainCollection and is fetched
// once per parent record.
type EntitySpec struct {
	Name           string `yaml:"-"`
	MainCollection string `yaml:"main_collection"`
	SubCollection  string `yaml:"sub_collection,omitempty"`
	ForeignKey     string `yaml:"foreign_key,omitempty"`
}

// IsChild reports whether the entity is fetched as a sub collection.
func (s EntitySpec) IsChild() bool {
	return s.SubCollection != ""
}

// EntityGraph is an ordered list of entity specs. A child must appear after
// its parent.
type EntityGraph []EntitySpec

// Validate checks names and parent ordering.
func (g EntityGraph) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("%w: no entities declared", ErrInvalidGraph)
	}
	seen := make(map[string]bool, len(g))
	for i, spec := range g {
		if spec.Name == "" {
			return fmt.Errorf("%w: entity %d has no name", ErrInvalidGraph, i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("%w: entity %q declared twice", ErrInvalidGraph, spec.Name)
		}
		if spec.MainCollection == "" {
			return fmt.Errorf("%w: entity %q has no main_collection", ErrInvalidGraph, spec.Name)
		}
		if spec.IsChild() && !seen[spec.MainCollection] {
			return fmt.Errorf(
				"%w: entity %q depends on %q which is not declared before it",
				ErrInvalidGraph, spec.Name, spec.MainCollection,
			)
		}
		seen[spec.Name] = true
	}
	return nil
}

// Names returns the entity names in declaration order.
func (g EntityGraph) Names() []string {
	out := make([]string, len(g))
	for i, spec := range g {
		out[i] = spec.Name
	}
	return out
}
