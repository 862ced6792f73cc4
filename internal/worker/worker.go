// Package worker executes accepted jobs: it runs the configured collection
// strategy, forwards the payload and records what happened.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
	"github.com/AparnaKarve/aiops-data-collector/internal/download"
	"github.com/AparnaKarve/aiops-data-collector/internal/tenant"
)

// Downloader runs the single file strategy.
type Downloader interface {
	Run(ctx context.Context, job collector.JobRequest, deliver download.Deliver) collector.Outcome
}

// GraphFetcher collects every entity of a graph.
type GraphFetcher interface {
	FetchAll(
		ctx context.Context,
		graph collector.EntityGraph,
		headers collector.Headers,
	) (map[string]collector.CollectionResult, collector.Outcome)
}

// TenantRunner repeats a cycle for every tenant in the directory.
type TenantRunner interface {
	Run(ctx context.Context, job collector.JobRequest, headers collector.Headers, cycle tenant.Cycle) ([]tenant.Result, error)
}

// Forwarder posts a payload downstream.
type Forwarder interface {
	Forward(ctx context.Context, payload collector.JobPayload, destination string, headers collector.Headers) error
}

// Stages groups the collaborators a Worker drives. Download is required for
// the download strategy, Inventory and Graph for the inventory strategy and
// Tenants when Config.AllTenants is set. Archive, Publisher and Ledger are
// optional.
type Stages struct {
	Download  Downloader
	Inventory GraphFetcher
	Graph     collector.EntityGraph
	Tenants   TenantRunner
	Forwarder Forwarder
	Archive   collector.BlobStore
	Publisher collector.Publisher
	Ledger    collector.OutcomeStore
	Hasher    collector.Hasher
	Clock     collector.Clock
}

// Config controls Worker behavior.
type Config struct {
	Strategy   collector.Strategy
	AllTenants bool
	// Destination is used when a job does not name one.
	Destination   string
	JobTimeout    time.Duration
	ArchivePrefix string
	Topic         string
}

// Worker consumes queued jobs and executes them one at a time.
type Worker struct {
	queue   collector.Queue
	stages  Stages
	cfg     Config
	metrics collector.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	queue collector.Queue,
	stages Stages,
	cfg Config,
	metrics collector.Metrics,
	logger *zap.Logger,
) *Worker {
	if cfg.Strategy == "" {
		cfg.Strategy = collector.StrategyDownload
	}
	if metrics == nil {
		metrics = collector.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stages.Clock == nil {
		stages.Clock = utcClock{}
	}
	return &Worker{
		queue:   queue,
		stages:  stages,
		cfg:     cfg,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/AparnaKarve/aiops-data-collector/internal/worker"),
		logger:  logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
// Each job runs detached from ctx so shutdown never cuts a job short; the job
// timeout bounds it instead.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, collector.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.JobID))
		w.runJob(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) runJob(ctx context.Context, job collector.JobRequest) {
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	w.Execute(ctx, job)
}

// Execute runs job synchronously with the configured strategy and returns its
// overall outcome. For an all tenant run the outcome is delivered only when
// every tenant was delivered; otherwise it is the first tenant that was not.
func (w *Worker) Execute(ctx context.Context, job collector.JobRequest) collector.Outcome {
	ctx, span := w.tracer.Start(ctx, "worker.Execute", trace.WithAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("job.strategy", string(w.cfg.Strategy)),
	))
	defer span.End()

	start := time.Now()
	w.metrics.JobStarted()
	defer func() {
		w.metrics.JobFinished(time.Since(start))
	}()

	logger := w.logger.With(zap.String("job_id", job.JobID), zap.String("strategy", string(w.cfg.Strategy)))
	logger.Info("job started")

	outcome := w.runStrategy(ctx, job, logger)

	if outcome.OK() {
		span.SetStatus(codes.Ok, "")
		logger.Info("job finished", zap.Duration("elapsed", time.Since(start)))
	} else {
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
		}
		span.SetStatus(codes.Error, outcome.String())
		logger.Warn("job finished without delivery",
			zap.Stringer("outcome", outcome),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return outcome
}

// runStrategy converts a panic in any stage into a failed outcome.
func (w *Worker) runStrategy(ctx context.Context, job collector.JobRequest, logger *zap.Logger) (outcome collector.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			outcome = w.finish(ctx, job, "", collector.Fail(collector.ReasonInternal,
				fmt.Errorf("job %s panicked: %v", job.JobID, r)), 0, "")
		}
	}()
	switch w.cfg.Strategy {
	case collector.StrategyDownload:
		return w.runDownload(ctx, job)
	case collector.StrategyInventory:
		return w.runInventory(ctx, job)
	default:
		return w.finish(ctx, job, "", collector.Fail(collector.ReasonConfig,
			fmt.Errorf("unknown strategy %q", w.cfg.Strategy)), 0, "")
	}
}

func (w *Worker) runDownload(ctx context.Context, job collector.JobRequest) collector.Outcome {
	if w.stages.Download == nil {
		return w.finish(ctx, job, "", collector.Fail(collector.ReasonConfig,
			errors.New("download strategy not configured")), 0, "")
	}
	var uri string
	outcome := w.stages.Download.Run(ctx, job, func(ctx context.Context, payload collector.JobPayload) collector.Outcome {
		var out collector.Outcome
		out, uri = w.deliver(ctx, job, "", payload, nil)
		return out
	})
	entities := 0
	if outcome.OK() {
		entities = 1
	}
	return w.finish(ctx, job, "", outcome, entities, uri)
}

func (w *Worker) runInventory(ctx context.Context, job collector.JobRequest) collector.Outcome {
	if w.stages.Inventory == nil || len(w.stages.Graph) == 0 {
		return w.finish(ctx, job, "", collector.Fail(collector.ReasonConfig,
			errors.New("inventory strategy not configured")), 0, "")
	}
	headers := collector.Headers{}
	if job.Identity != "" {
		headers[collector.IdentityHeader] = job.Identity
	}
	if !w.cfg.AllTenants {
		return w.inventoryCycle(ctx, job, collector.TenantDescriptor{Headers: headers})
	}
	if w.stages.Tenants == nil {
		return w.finish(ctx, job, "", collector.Fail(collector.ReasonConfig,
			errors.New("tenant directory not configured")), 0, "")
	}

	results, err := w.stages.Tenants.Run(ctx, job, headers, tenant.CycleFunc(w.inventoryCycle))
	if err != nil {
		return w.finish(ctx, job, "", collector.Fail(collector.ReasonTenantLookup, err), 0, "")
	}
	if len(results) == 0 {
		return w.finish(ctx, job, "", collector.Abort(collector.ReasonNoTenants, ""), 0, "")
	}
	for _, r := range results {
		if !r.Outcome.OK() {
			return r.Outcome
		}
	}
	return collector.Delivered()
}

// inventoryCycle collects the graph for one tenant and delivers the result.
func (w *Worker) inventoryCycle(
	ctx context.Context,
	job collector.JobRequest,
	t collector.TenantDescriptor,
) collector.Outcome {
	data, outcome := w.stages.Inventory.FetchAll(ctx, w.stages.Graph, t.Headers)
	if !outcome.OK() {
		return w.finish(ctx, job, t.AccountID, outcome, 0, "")
	}
	payload := collector.JobPayload{ID: job.JobID, Data: data}
	outcome, uri := w.deliver(ctx, job, t.AccountID, payload, t.Headers)
	return w.finish(ctx, job, t.AccountID, outcome, len(data), uri)
}

// deliver forwards payload and, once it has arrived, archives a copy and
// publishes a notification. Only the forward decides the outcome.
func (w *Worker) deliver(
	ctx context.Context,
	job collector.JobRequest,
	tenantID string,
	payload collector.JobPayload,
	headers collector.Headers,
) (collector.Outcome, string) {
	destination := job.Destination
	if destination == "" {
		destination = w.cfg.Destination
	}
	if w.stages.Forwarder == nil || destination == "" {
		return collector.Fail(collector.ReasonConfig, errors.New("no relay destination configured")), ""
	}
	if err := w.stages.Forwarder.Forward(ctx, payload, destination, headers); err != nil {
		return collector.Fail(collector.ReasonForward, err), ""
	}

	delivery := collector.Delivery{
		JobID:       job.JobID,
		Tenant:      tenantID,
		Destination: destination,
		Timestamp:   w.stages.Clock.Now(),
	}
	if body, err := json.Marshal(payload); err != nil {
		w.logger.Error("marshal delivered payload", zap.String("job_id", job.JobID), zap.Error(err))
	} else {
		delivery.Checksum = w.checksum(body)
		delivery.ArchiveURI = w.archive(ctx, job, tenantID, body)
	}
	w.publish(ctx, delivery)
	return collector.Delivered(), delivery.ArchiveURI
}

func (w *Worker) checksum(body []byte) string {
	if w.stages.Hasher == nil {
		return ""
	}
	sum, err := w.stages.Hasher.Hash(body)
	if err != nil {
		w.logger.Warn("payload checksum failed", zap.Error(err))
		return ""
	}
	return sum
}

func (w *Worker) archive(ctx context.Context, job collector.JobRequest, tenantID string, body []byte) string {
	if w.stages.Archive == nil {
		return ""
	}
	uri, err := w.stages.Archive.PutObject(ctx, w.archivePath(job.JobID, tenantID), "application/json", bytes.NewReader(body))
	if err != nil {
		w.logger.Error("archive payload failed", zap.String("job_id", job.JobID), zap.Error(err))
		return ""
	}
	w.logger.Debug("payload archived", zap.String("job_id", job.JobID), zap.String("uri", uri))
	return uri
}

func (w *Worker) archivePath(jobID, tenantID string) string {
	name := jobID
	if tenantID != "" {
		name = jobID + "/" + tenantID
	}
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return name + ".json"
	}
	return prefix + "/" + name + ".json"
}

func (w *Worker) publish(ctx context.Context, delivery collector.Delivery) {
	if w.cfg.Topic == "" || w.stages.Publisher == nil {
		return
	}
	id, err := w.stages.Publisher.Publish(ctx, w.cfg.Topic, delivery)
	if err != nil {
		w.logger.Error("publish delivery failed", zap.String("job_id", delivery.JobID), zap.Error(err))
		return
	}
	w.logger.Debug("delivery published", zap.String("job_id", delivery.JobID), zap.String("message_id", id))
}

// finish observes and records the outcome of one cycle and returns it.
func (w *Worker) finish(
	ctx context.Context,
	job collector.JobRequest,
	tenantID string,
	outcome collector.Outcome,
	entities int,
	uri string,
) collector.Outcome {
	w.metrics.OutcomeObserved(w.cfg.Strategy, outcome)
	if w.stages.Ledger == nil {
		return outcome
	}
	record := collector.OutcomeRecord{
		JobID:      job.JobID,
		Tenant:     tenantID,
		Strategy:   w.cfg.Strategy,
		Status:     outcome.Status,
		Reason:     outcome.Reason,
		Entity:     outcome.Entity,
		Entities:   entities,
		ArchiveURI: uri,
		FinishedAt: w.stages.Clock.Now(),
	}
	if outcome.Err != nil {
		record.Error = outcome.Err.Error()
	}
	if err := w.stages.Ledger.RecordOutcome(ctx, record); err != nil {
		w.logger.Error("record outcome failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
	return outcome
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
