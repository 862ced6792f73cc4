// Package download implements the single file collection strategy: stream a
// source to a temporary file, parse it and hand the payload on.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// DefaultChunkSize is the buffer used while streaming to disk.
const DefaultChunkSize = 10240

// Deliver forwards a finished payload and reports the outcome.
type Deliver func(ctx context.Context, payload collector.JobPayload) collector.Outcome

// Config controls temporary file placement.
type Config struct {
	TempDir   string
	ChunkSize int
}

// Strategy runs download jobs.
type Strategy struct {
	transport collector.Transport
	parser    collector.Parser
	cfg       Config
	logger    *zap.Logger
}

// New creates a Strategy.
func New(transport collector.Transport, parser collector.Parser, cfg Config, logger *zap.Logger) *Strategy {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		transport: transport,
		parser:    parser,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run downloads job.SourceURL, parses it and calls deliver with the payload.
// The temporary file is removed after deliver returns, whatever the result.
func (s *Strategy) Run(ctx context.Context, job collector.JobRequest, deliver Deliver) collector.Outcome {
	logger := s.logger.With(zap.String("job_id", job.JobID))

	path, err := s.fetch(ctx, job.SourceURL)
	if path != "" {
		defer s.cleanup(path, logger)
	}
	if err != nil {
		logger.Error("unable to fetch source data", zap.String("url", job.SourceURL), zap.Error(err))
		if errors.Is(err, collector.ErrLocalIO) {
			return collector.Fail(collector.ReasonLocalIO, err)
		}
		return collector.Fail(collector.ReasonTransport, err)
	}

	parsed, err := s.parser.Parse(ctx, path)
	if err != nil {
		logger.Error("unable to parse source data", zap.Error(err))
		return collector.Fail(collector.ReasonParse, fmt.Errorf("parse %s: %w", path, err))
	}
	return deliver(ctx, collector.JobPayload{ID: job.JobID, Data: parsed})
}

// fetch streams the source body into a new temporary file. The returned path
// is set whenever a file was created, even on error.
func (s *Strategy) fetch(ctx context.Context, sourceURL string) (string, error) {
	resp, err := s.transport.Execute(ctx, http.MethodGet, sourceURL, nil, nil)
	if err != nil {
		return "", fmt.Errorf("fetch source: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close source body", zap.Error(cerr))
		}
	}()

	file, err := os.CreateTemp(s.cfg.TempDir, "collector-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %w", collector.ErrLocalIO, err)
	}
	path := file.Name()

	buf := make([]byte, s.cfg.ChunkSize)
	src := &sourceReader{r: resp.Body}
	// The anonymous wrapper hides ReadFrom so copies use buf.
	written, err := io.CopyBuffer(struct{ io.Writer }{file}, src, buf)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if src.err != nil {
		return path, fmt.Errorf("read source body: %w", src.err)
	}
	if err != nil {
		return path, fmt.Errorf("%w: write %s: %w", collector.ErrLocalIO, path, err)
	}
	s.logger.Debug("source stored", zap.String("path", path), zap.Int64("bytes", written))
	return path, nil
}

func (s *Strategy) cleanup(path string, logger *zap.Logger) {
	if err := os.Remove(path); err != nil {
		logger.Debug("temp file cleanup failed", zap.String("path", path), zap.Error(err))
	}
}

// sourceReader records upstream read failures so they are not reported as
// local storage errors.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}
