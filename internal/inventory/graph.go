// Package inventory walks a declared graph of REST entities and assembles
// them into one payload.
package inventory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// graphFile mirrors the entity configuration document:
//
//	apps:
//	  <app>: [entity, ...]
//	queries:
//	  <entity>: {main_collection, sub_collection, foreign_key}
type graphFile struct {
	Apps    map[string][]string `yaml:"apps"`
	Queries yaml.Node           `yaml:"queries"`
}

// LoadGraph reads the entity configuration at path for app.
func LoadGraph(path, app string) (collector.EntityGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity config: %w", err)
	}
	return ParseGraph(data, app)
}

// ParseGraph builds the ordered, validated entity graph for app. The app's
// entity list sets the order; when app is empty or has no list the order in
// which queries are declared is used.
func ParseGraph(data []byte, app string) (collector.EntityGraph, error) {
	var doc graphFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse entity config: %w", err)
	}
	queries, order, err := decodeQueries(&doc.Queries)
	if err != nil {
		return nil, err
	}
	if app != "" {
		names, ok := doc.Apps[app]
		if !ok {
			return nil, fmt.Errorf("%w: app %q not configured", collector.ErrInvalidGraph, app)
		}
		order = names
	}

	graph := make(collector.EntityGraph, 0, len(order))
	for _, name := range order {
		spec, ok := queries[name]
		if !ok {
			return nil, fmt.Errorf("%w: no query declared for entity %q", collector.ErrInvalidGraph, name)
		}
		spec.Name = name
		graph = append(graph, spec)
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return graph, nil
}

// decodeQueries walks the mapping node directly so declaration order survives.
func decodeQueries(node *yaml.Node) (map[string]collector.EntitySpec, []string, error) {
	if node.Kind == 0 {
		return map[string]collector.EntitySpec{}, nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("%w: queries must be a mapping (line %d)", collector.ErrInvalidGraph, node.Line)
	}
	specs := make(map[string]collector.EntitySpec, len(node.Content)/2)
	order := make([]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var spec collector.EntitySpec
		if err := value.Decode(&spec); err != nil {
			return nil, nil, fmt.Errorf("decode query %q: %w", key.Value, err)
		}
		if _, dup := specs[key.Value]; dup {
			return nil, nil, fmt.Errorf("%w: query %q declared twice", collector.ErrInvalidGraph, key.Value)
		}
		specs[key.Value] = spec
		order = append(order, key.Value)
	}
	return specs, order, nil
}
