package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
	"github.com/AparnaKarve/aiops-data-collector/internal/metrics"
	"github.com/AparnaKarve/aiops-data-collector/internal/paginate"
	"github.com/AparnaKarve/aiops-data-collector/internal/transport"
)

type fakePaginator struct {
	mu      sync.Mutex
	results map[string]collector.CollectionResult
	errs    map[string]error
	calls   []string
	keys    []*collector.ForeignKey
}

func (f *fakePaginator) Collect(
	_ context.Context,
	startURL string,
	_ collector.Headers,
	fk *collector.ForeignKey,
) (collector.CollectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, startURL)
	f.keys = append(f.keys, fk)
	if err := f.errs[startURL]; err != nil {
		return nil, err
	}
	var out collector.CollectionResult
	for _, rec := range f.results[startURL] {
		cp := collector.Record{}
		for k, v := range rec {
			cp[k] = v
		}
		if fk.Applies() {
			cp[fk.Name] = fk.Value
		}
		out = append(out, cp)
	}
	return out, nil
}

var widgetGraph = collector.EntityGraph{
	{Name: "widgets", MainCollection: "widgets"},
	{Name: "parts", MainCollection: "widgets", SubCollection: "parts", ForeignKey: "widget_id"},
}

func TestFetchAllStitchesChildren(t *testing.T) {
	t.Parallel()

	pages := &fakePaginator{results: map[string]collector.CollectionResult{
		"http://inv/api/widgets":         {{"id": 1}, {"id": 2}},
		"http://inv/api/widgets/1/parts": {{"id": "p1"}},
		"http://inv/api/widgets/2/parts": {{"id": "p2"}},
	}}
	f := NewFetcher(pages, "http://inv/api/", zap.NewNop())

	data, outcome := f.FetchAll(context.Background(), widgetGraph, nil)
	require.True(t, outcome.OK(), outcome.String())
	require.Equal(t, collector.CollectionResult{
		{"id": "p1", "widget_id": 1},
		{"id": "p2", "widget_id": 2},
	}, data["parts"])
	require.Len(t, data["widgets"], 2)
	require.Equal(t, []string{
		"http://inv/api/widgets",
		"http://inv/api/widgets/1/parts",
		"http://inv/api/widgets/2/parts",
	}, pages.calls)
	require.Nil(t, pages.keys[0])
}

func TestFetchAllOnlyRequestsKnownParents(t *testing.T) {
	t.Parallel()

	pages := &fakePaginator{results: map[string]collector.CollectionResult{
		"http://inv/widgets":          {{"id": 5}, {"name": "no id"}},
		"http://inv/widgets/5/parts":  {{"id": "p"}},
		"http://inv/widgets/99/parts": {{"id": "never"}},
	}}
	f := NewFetcher(pages, "http://inv", nil)

	data, outcome := f.FetchAll(context.Background(), widgetGraph, nil)
	require.True(t, outcome.OK())
	require.Len(t, data["parts"], 1)
	for _, call := range pages.calls {
		if strings.HasSuffix(call, "/parts") {
			require.Equal(t, "http://inv/widgets/5/parts", call)
		}
	}
}

func TestFetchAllAbortsOnEmptyEntity(t *testing.T) {
	t.Parallel()

	graph := collector.EntityGraph{
		{Name: "widgets", MainCollection: "widgets"},
		{Name: "gadgets", MainCollection: "gadgets"},
		{Name: "gizmos", MainCollection: "gizmos"},
	}
	pages := &fakePaginator{results: map[string]collector.CollectionResult{
		"http://inv/widgets": {{"id": 1}},
		"http://inv/gizmos":  {{"id": 3}},
	}}
	f := NewFetcher(pages, "http://inv", nil)

	data, outcome := f.FetchAll(context.Background(), graph, nil)
	require.Nil(t, data)
	require.Equal(t, collector.OutcomeAborted, outcome.Status)
	require.Equal(t, collector.ReasonEmptyEntity, outcome.Reason)
	require.Equal(t, "gadgets", outcome.Entity)
	require.Equal(t, []string{"http://inv/widgets", "http://inv/gadgets"}, pages.calls)
}

func TestFetchAllAbortsWhenChildrenEmpty(t *testing.T) {
	t.Parallel()

	pages := &fakePaginator{results: map[string]collector.CollectionResult{
		"http://inv/widgets": {{"id": 1}},
	}}
	data, outcome := NewFetcher(pages, "http://inv", nil).FetchAll(context.Background(), widgetGraph, nil)
	require.Nil(t, data)
	require.Equal(t, collector.Abort(collector.ReasonEmptyEntity, "parts"), outcome)
}

func TestFetchAllAbortsOnMissingParent(t *testing.T) {
	t.Parallel()

	graph := collector.EntityGraph{
		{Name: "parts", MainCollection: "widgets", SubCollection: "parts"},
	}
	pages := &fakePaginator{}
	data, outcome := NewFetcher(pages, "http://inv", nil).FetchAll(context.Background(), graph, nil)
	require.Nil(t, data)
	require.Equal(t, collector.ReasonMissingParent, outcome.Reason)
	require.Empty(t, pages.calls)
}

func TestFetchAllDistinguishesTransportFailure(t *testing.T) {
	t.Parallel()

	boom := fmt.Errorf("fetch page: %w", collector.ErrRetryBudgetExhausted)
	pages := &fakePaginator{
		results: map[string]collector.CollectionResult{"http://inv/widgets": {{"id": 1}, {"id": 2}}},
		errs:    map[string]error{"http://inv/widgets/1/parts": boom},
	}
	data, outcome := NewFetcher(pages, "http://inv", nil).FetchAll(context.Background(), widgetGraph, nil)
	require.Nil(t, data)
	require.Equal(t, collector.OutcomeFailed, outcome.Status)
	require.Equal(t, collector.ReasonTransport, outcome.Reason)
	require.Equal(t, "parts", outcome.Entity)
	require.True(t, errors.Is(outcome.Err, collector.ErrRetryBudgetExhausted))
	require.NotContains(t, pages.calls, "http://inv/widgets/2/parts")
}

func TestFetchAllReportsMalformedPageAsParseFailure(t *testing.T) {
	t.Parallel()

	bad := fmt.Errorf("%w: decode page: record 0 is null", collector.ErrMalformedPage)
	pages := &fakePaginator{
		results: map[string]collector.CollectionResult{"http://inv/widgets": {{"id": 1}}},
		errs:    map[string]error{"http://inv/widgets/1/parts": bad},
	}
	data, outcome := NewFetcher(pages, "http://inv", nil).FetchAll(context.Background(), widgetGraph, nil)
	require.Nil(t, data)
	require.Equal(t, collector.OutcomeFailed, outcome.Status)
	require.Equal(t, collector.ReasonParse, outcome.Reason)
	require.Equal(t, "parts", outcome.Entity)
}

func TestFetchAllEndToEnd(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"/api/widgets":         `{"data":[{"id":1}],"links":{"next":"/p2"}}`,
		"/p2":                  `{"data":[{"id":2}],"links":{}}`,
		"/api/widgets/1/parts": `{"data":[{"name":"bolt"}],"links":{}}`,
		"/api/widgets/2/parts": `{"data":[{"name":"nut"}],"links":{}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, body)
	}))
	defer srv.Close()

	tr := transport.New(transport.Config{}, nil, metrics.NewRecorder(), zap.NewNop())
	f := NewFetcher(paginate.New(tr, srv.URL, nil), srv.URL+"/api", nil)

	data, outcome := f.FetchAll(context.Background(), widgetGraph, nil)
	require.True(t, outcome.OK(), outcome.String())

	encoded, err := json.Marshal(data)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"widgets": [{"id":1},{"id":2}],
		"parts": [{"widget_id":1,"name":"bolt"},{"widget_id":2,"name":"nut"}]
	}`, string(encoded))
}
