package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
	"github.com/AparnaKarve/aiops-data-collector/internal/config"
	memoryStorage "github.com/AparnaKarve/aiops-data-collector/internal/storage/memory"
)

type downstream struct {
	mu     sync.Mutex
	bodies []string
	server *httptest.Server
}

func newDownstream(t *testing.T) *downstream {
	t.Helper()
	d := &downstream{}
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		d.mu.Lock()
		d.bodies = append(d.bodies, string(body))
		d.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(d.server.Close)
	return d
}

func (d *downstream) received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.bodies...)
}

func baseConfig(t *testing.T, destination string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Relay.Destination = destination
	cfg.Logging.Level = "error"
	cfg.Download.TempDir = t.TempDir()
	cfg.Archive.Backend = config.ArchiveLocal
	cfg.Archive.LocalDir = t.TempDir()
	cfg.Jobs.Concurrency = 2
	return cfg
}

func TestBuildExecuteDownload(t *testing.T) {
	down := newDownstream(t)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"hosts":[{"name":"a"}]}`)
	}))
	t.Cleanup(source.Close)

	cfg := baseConfig(t, down.server.URL)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	job, outcome, err := app.Execute(context.Background(), collector.JobRequest{SourceURL: source.URL})
	require.NoError(t, err)
	require.True(t, outcome.OK(), outcome.String())
	assert.NotEmpty(t, job.JobID)

	bodies := down.received()
	require.Len(t, bodies, 1)
	assert.JSONEq(t, `{"id":"`+job.JobID+`","data":{"hosts":[{"name":"a"}]}}`, bodies[0])

	archived, err := os.ReadFile(filepath.Join(cfg.Archive.LocalDir, "payloads", job.JobID+".json"))
	require.NoError(t, err)
	assert.JSONEq(t, bodies[0], string(archived))

	entries, err := os.ReadDir(cfg.Download.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary download files must be removed")
}

func TestBuildExecuteInventory(t *testing.T) {
	down := newDownstream(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sources":
			_, _ = io.WriteString(w, `{"data":[{"id":"1"}],"links":{}}`)
		case "/api/v1/sources/1/volumes":
			_, _ = io.WriteString(w, `{"data":[{"id":"v1"}],"links":{}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(upstream.Close)

	entities := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(entities, []byte(`
apps:
  aiops: [sources, volumes]
queries:
  sources:
    main_collection: sources
  volumes:
    main_collection: sources
    sub_collection: volumes
    foreign_key: source_id
`), 0o600))

	cfg := baseConfig(t, down.server.URL)
	cfg.Collector.Strategy = string(collector.StrategyInventory)
	cfg.Inventory.Host = upstream.URL
	cfg.Inventory.Path = "/api/v1/"
	cfg.Inventory.AppName = "aiops"
	cfg.Inventory.EntitiesFile = entities

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	job, outcome, err := app.Execute(context.Background(), collector.JobRequest{JobID: "payload-7"})
	require.NoError(t, err)
	require.True(t, outcome.OK(), outcome.String())
	assert.Equal(t, "payload-7", job.JobID)

	bodies := down.received()
	require.Len(t, bodies, 1)
	assert.JSONEq(t, `{"id":"payload-7","data":{
		"sources":[{"id":"1"}],
		"volumes":[{"id":"v1","source_id":"1"}]
	}}`, bodies[0])
}

func TestBuildMemoryLedgerRecordsOutcomes(t *testing.T) {
	down := newDownstream(t)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"hosts":[]}`)
	}))
	t.Cleanup(source.Close)

	cfg := baseConfig(t, down.server.URL)
	cfg.Database.Backend = config.LedgerMemory
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ledger, ok := app.outcomes.(*memoryStorage.OutcomeStore)
	require.True(t, ok, "expected in-memory ledger, got %T", app.outcomes)

	job, outcome, err := app.Execute(context.Background(), collector.JobRequest{SourceURL: source.URL})
	require.NoError(t, err)
	require.True(t, outcome.OK(), outcome.String())

	records := ledger.ForJob(job.JobID)
	require.Len(t, records, 1)
	assert.Equal(t, collector.OutcomeDelivered, records[0].Status)
	assert.Equal(t, collector.StrategyDownload, records[0].Strategy)
}

func TestBuildWithoutDSNDisablesLedger(t *testing.T) {
	cfg := baseConfig(t, "next:8000")
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	assert.Nil(t, app.outcomes)
}

func TestBuildRejectsBadEntityFile(t *testing.T) {
	cfg := baseConfig(t, "next:8000")
	cfg.Collector.Strategy = string(collector.StrategyInventory)
	cfg.Inventory.Host = "http://inventory"
	cfg.Inventory.EntitiesFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "entity graph init failed")
}

func TestRunServesAndStops(t *testing.T) {
	down := newDownstream(t)
	cfg := baseConfig(t, down.server.URL)
	cfg.Server.Port = freePort(t)

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	base := "http://127.0.0.1:" + strconv.Itoa(cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/", "application/json", strings.NewReader(`{"url":"http://127.0.0.1:1/unreachable"}`))
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body["status"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
