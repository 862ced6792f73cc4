package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

const sampleConfig = `
apps:
  widgets_app: [widgets, parts]
  reversed_app: [parts, widgets]
queries:
  parts:
    main_collection: widgets
    sub_collection: parts
    foreign_key: widget_id
  widgets:
    main_collection: widgets
  gadgets:
    main_collection: gadgets
`

func TestParseGraphUsesAppOrder(t *testing.T) {
	t.Parallel()

	graph, err := ParseGraph([]byte(sampleConfig), "widgets_app")
	require.NoError(t, err)
	require.Equal(t, collector.EntityGraph{
		{Name: "widgets", MainCollection: "widgets"},
		{Name: "parts", MainCollection: "widgets", SubCollection: "parts", ForeignKey: "widget_id"},
	}, graph)
}

func TestParseGraphRejectsChildBeforeParent(t *testing.T) {
	t.Parallel()

	_, err := ParseGraph([]byte(sampleConfig), "reversed_app")
	require.ErrorIs(t, err, collector.ErrInvalidGraph)
	require.ErrorContains(t, err, `"parts" depends on "widgets"`)
}

func TestParseGraphFallsBackToDeclarationOrder(t *testing.T) {
	t.Parallel()

	doc := `
queries:
  widgets:
    main_collection: widgets
  gadgets:
    main_collection: gadgets
  parts:
    main_collection: widgets
    sub_collection: parts
`
	graph, err := ParseGraph([]byte(doc), "")
	require.NoError(t, err)
	require.Equal(t, []string{"widgets", "gadgets", "parts"}, graph.Names())
}

func TestParseGraphErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		app     string
		wantErr string
	}{
		{name: "unknown app", doc: sampleConfig, app: "nope", wantErr: `app "nope" not configured`},
		{name: "unknown entity", doc: "apps:\n  a: [ghost]\nqueries: {}\n", app: "a", wantErr: `no query declared for entity "ghost"`},
		{name: "queries not mapping", doc: "queries: [a, b]\n", wantErr: "queries must be a mapping"},
		{name: "bad yaml", doc: "queries: [", wantErr: "parse entity config"},
		{name: "empty", doc: "", wantErr: "no entities declared"},
		{name: "duplicate query", doc: "queries:\n  a: {main_collection: a}\n  a: {main_collection: b}\n", wantErr: `query "a" declared twice`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseGraph([]byte(tc.doc), tc.app)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadGraph(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	graph, err := LoadGraph(path, "widgets_app")
	require.NoError(t, err)
	require.Len(t, graph, 2)

	_, err = LoadGraph(filepath.Join(t.TempDir(), "missing.yaml"), "widgets_app")
	require.ErrorContains(t, err, "read entity config")
}
