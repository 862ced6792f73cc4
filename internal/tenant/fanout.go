// Package tenant repeats a collection cycle once per tenant listed in a
// tenant directory.
package tenant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// Cycle runs one full collection and delivery for a tenant.
type Cycle interface {
	RunTenant(ctx context.Context, job collector.JobRequest, tenant collector.TenantDescriptor) collector.Outcome
}

// CycleFunc adapts a function to Cycle.
type CycleFunc func(ctx context.Context, job collector.JobRequest, tenant collector.TenantDescriptor) collector.Outcome

// RunTenant calls f.
func (f CycleFunc) RunTenant(
	ctx context.Context,
	job collector.JobRequest,
	tenant collector.TenantDescriptor,
) collector.Outcome {
	return f(ctx, job, tenant)
}

// Result pairs a tenant with the outcome of its cycle.
type Result struct {
	Tenant  string
	Outcome collector.Outcome
}

// FanOut resolves tenants and runs their cycles one after another.
type FanOut struct {
	transport    collector.Transport
	directoryURL string
	logger       *zap.Logger
}

// New creates a FanOut reading tenants from directoryURL.
func New(transport collector.Transport, directoryURL string, logger *zap.Logger) *FanOut {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanOut{
		transport:    transport,
		directoryURL: directoryURL,
		logger:       logger,
	}
}

// Run looks up every tenant with headers and runs cycle for each in order.
// A failing tenant never stops the loop. The returned error reports only a
// failed directory lookup.
func (f *FanOut) Run(
	ctx context.Context,
	job collector.JobRequest,
	headers collector.Headers,
	cycle Cycle,
) ([]Result, error) {
	tenants, err := f.Tenants(ctx, headers)
	if err != nil {
		return nil, err
	}
	f.logger.Info("fetching data for all tenants", zap.String("job_id", job.JobID), zap.Int("tenants", len(tenants)))

	results := make([]Result, 0, len(tenants))
	for _, t := range tenants {
		logger := f.logger.With(zap.String("job_id", job.JobID), zap.String("tenant", t.AccountID))
		logger.Debug("tenant start")
		outcome := f.runOne(ctx, job, t, cycle)
		if outcome.OK() {
			logger.Debug("tenant done")
		} else {
			logger.Warn("tenant cycle did not deliver", zap.Stringer("outcome", outcome))
		}
		results = append(results, Result{Tenant: t.AccountID, Outcome: outcome})
	}
	return results, nil
}

func (f *FanOut) runOne(
	ctx context.Context,
	job collector.JobRequest,
	t collector.TenantDescriptor,
	cycle Cycle,
) (outcome collector.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = collector.Fail(collector.ReasonInternal, fmt.Errorf("tenant %s panicked: %v", t.AccountID, r))
		}
	}()
	return cycle.RunTenant(ctx, job, t)
}

type directoryEntry struct {
	ExternalTenant string `json:"external_tenant"`
}

// Tenants fetches the tenant directory and builds one descriptor per entry.
func (f *FanOut) Tenants(ctx context.Context, headers collector.Headers) ([]collector.TenantDescriptor, error) {
	resp, err := f.transport.Execute(ctx, http.MethodGet, f.directoryURL, headers, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch tenant directory: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close tenant directory body", zap.Error(cerr))
		}
	}()

	var entries []directoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode tenant directory: %w", err)
	}
	tenants := make([]collector.TenantDescriptor, 0, len(entries))
	for _, e := range entries {
		if e.ExternalTenant == "" {
			f.logger.Warn("tenant directory entry without external_tenant skipped")
			continue
		}
		identity, err := Identity(e.ExternalTenant)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, collector.TenantDescriptor{
			AccountID: e.ExternalTenant,
			Headers:   collector.Headers{collector.IdentityHeader: identity},
		})
	}
	return tenants, nil
}

type identityDoc struct {
	Identity struct {
		AccountNumber string `json:"account_number"`
	} `json:"identity"`
}

// Identity encodes the identity header value for an account.
func Identity(account string) (string, error) {
	var doc identityDoc
	doc.Identity.AccountNumber = account
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal identity: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
