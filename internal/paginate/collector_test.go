package paginate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
	"github.com/AparnaKarve/aiops-data-collector/internal/metrics"
	"github.com/AparnaKarve/aiops-data-collector/internal/transport"
)

func pagedServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.RequestURI()]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCollector(srvURL string) *Collector {
	tr := transport.New(transport.Config{}, nil, metrics.NewRecorder(), zap.NewNop())
	return New(tr, srvURL, zap.NewNop())
}

func encode(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestCollectFollowsNextLinks(t *testing.T) {
	t.Parallel()

	srv := pagedServer(t, map[string]string{
		"/api/widgets": `{"data":[{"id":1}],"links":{"next":"/p2"}}`,
		"/p2":          `{"data":[{"id":2},{"id":3}],"links":{"next":"/p3"}}`,
		"/p3":          `{"data":[{"id":4}],"links":{}}`,
	})

	result, err := newCollector(srv.URL).Collect(context.Background(), srv.URL+"/api/widgets", nil, nil)
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":1},{"id":2},{"id":3},{"id":4}]`, encode(t, result))
}

func TestCollectPassesRecordsThroughWithoutForeignKey(t *testing.T) {
	t.Parallel()

	page := `{"data":[{"id":12345678901234567890,"name":"a","nested":{"x":[1,2]}}],"links":{}}`
	srv := pagedServer(t, map[string]string{"/w": page})
	c := newCollector(srv.URL)

	for _, fk := range []*collector.ForeignKey{nil, {Name: "widget_id"}, {Value: 1}} {
		result, err := c.Collect(context.Background(), srv.URL+"/w", nil, fk)
		require.NoError(t, err)
		require.Equal(t,
			`[{"id":12345678901234567890,"name":"a","nested":{"x":[1,2]}}]`,
			encode(t, result),
		)
	}
}

func TestCollectStampsForeignKey(t *testing.T) {
	t.Parallel()

	srv := pagedServer(t, map[string]string{
		"/api/widgets/7/parts":        `{"data":[{"id":"a"}],"links":{"next":"/api/widgets/7/parts?page=2"}}`,
		"/api/widgets/7/parts?page=2": `{"data":[{"id":"b","widget_id":0}],"links":{}}`,
	})

	fk := &collector.ForeignKey{Name: "widget_id", Value: json.Number("7")}
	result, err := newCollector(srv.URL).Collect(context.Background(), srv.URL+"/api/widgets/7/parts", nil, fk)
	require.NoError(t, err)
	require.Len(t, result, 2)
	for _, rec := range result {
		require.Equal(t, json.Number("7"), rec["widget_id"])
	}
	require.JSONEq(t, `[{"id":"a","widget_id":7},{"id":"b","widget_id":7}]`, encode(t, result))
}

func TestCollectDiscardsPagesOnFailure(t *testing.T) {
	t.Parallel()

	srv := pagedServer(t, map[string]string{
		"/w": `{"data":[{"id":1}],"links":{"next":"/missing"}}`,
	})

	result, err := newCollector(srv.URL).Collect(context.Background(), srv.URL+"/w", nil, nil)
	require.Nil(t, result)
	require.ErrorIs(t, err, collector.ErrRetryBudgetExhausted)
}

func TestCollectRejectsMalformedPage(t *testing.T) {
	t.Parallel()

	srv := pagedServer(t, map[string]string{"/w": `not json`})
	_, err := newCollector(srv.URL).Collect(context.Background(), srv.URL+"/w", nil, nil)
	require.ErrorContains(t, err, "decode page")
	require.ErrorIs(t, err, collector.ErrMalformedPage)
}

func TestCollectRejectsNonObjectRecords(t *testing.T) {
	t.Parallel()

	srv := pagedServer(t, map[string]string{
		"/null":   `{"data":[{"id":7},null],"links":{}}`,
		"/number": `{"data":[{"id":7},5],"links":{}}`,
		"/later":  `{"data":[{"id":7}],"links":{"next":"/null"}}`,
	})
	c := newCollector(srv.URL)
	fk := &collector.ForeignKey{Name: "widget_id", Value: 1}

	for _, path := range []string{"/null", "/number", "/later"} {
		var (
			result collector.CollectionResult
			err    error
		)
		require.NotPanics(t, func() {
			result, err = c.Collect(context.Background(), srv.URL+path, nil, fk)
		}, path)
		require.Nil(t, result, path)
		require.ErrorIs(t, err, collector.ErrMalformedPage, path)
	}
}

type recordingTransport struct {
	mu      sync.Mutex
	urls    []string
	headers []collector.Headers
	err     error
}

func (r *recordingTransport) Execute(
	_ context.Context,
	_, rawURL string,
	headers collector.Headers,
	_ any,
) (*collector.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, rawURL)
	r.headers = append(r.headers, headers)
	return nil, r.err
}

func TestCollectForwardsHeadersAndErrors(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{err: errors.New("down")}
	c := New(tr, "http://inventory", nil)
	headers := collector.Headers{collector.IdentityHeader: "id"}

	_, err := c.Collect(context.Background(), "http://inventory/api/sources", headers, nil)
	require.ErrorContains(t, err, "fetch page: down")
	require.Equal(t, []string{"http://inventory/api/sources"}, tr.urls)
	require.Equal(t, "id", tr.headers[0][collector.IdentityHeader])
}

func TestResolve(t *testing.T) {
	t.Parallel()

	c := New(nil, "http://inventory/", nil)
	require.Equal(t, "http://inventory/api/p2", c.resolve("/api/p2"))
	require.Equal(t, "https://other/p2", c.resolve("https://other/p2"))
	require.Empty(t, c.resolve(""))
}
