// Package relay posts assembled payloads to the next service.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// Forwarder sends a payload downstream with one transport call.
type Forwarder struct {
	transport collector.Transport
	metrics   collector.Metrics
	logger    *zap.Logger
}

// New creates a Forwarder.
func New(transport collector.Transport, metrics collector.Metrics, logger *zap.Logger) *Forwarder {
	if metrics == nil {
		metrics = collector.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		transport: transport,
		metrics:   metrics,
		logger:    logger,
	}
}

// Forward posts payload to destination. A destination without a scheme is
// treated as a plain HTTP host. Failures are logged and returned; nothing is
// retried beyond the transport budget and nothing is kept for later.
func (f *Forwarder) Forward(
	ctx context.Context,
	payload collector.JobPayload,
	destination string,
	headers collector.Headers,
) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	target := Normalize(destination)
	resp, err := f.transport.Execute(ctx, http.MethodPost, target, headers, json.RawMessage(body))
	if err != nil {
		f.logger.Error("failed to pass data",
			zap.String("job_id", payload.ID),
			zap.String("destination", target),
			zap.Error(err),
		)
		return fmt.Errorf("forward payload: %w", err)
	}
	if cerr := resp.Body.Close(); cerr != nil {
		f.logger.Debug("close relay response", zap.Error(cerr))
	}
	f.metrics.PayloadForwarded(len(body))
	f.logger.Info("payload forwarded",
		zap.String("job_id", payload.ID),
		zap.String("destination", target),
		zap.Int("bytes", len(body)),
	)
	return nil
}

// Normalize prefixes http:// to destinations given as bare hosts.
func Normalize(destination string) string {
	if strings.Contains(destination, "://") {
		return destination
	}
	return "http://" + destination
}
