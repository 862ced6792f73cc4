package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// Fetcher assembles payload data for an entity graph.
type Fetcher struct {
	pages   collector.Paginator
	baseURL string
	logger  *zap.Logger
}

// NewFetcher creates a Fetcher. baseURL is the upstream host plus API path.
func NewFetcher(pages collector.Paginator, baseURL string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		pages:   pages,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// FetchAll collects every entity of graph in order. It stops at the first
// entity that fails or yields no rows and returns the matching outcome with
// nil data; a delivered outcome means every entity holds at least one row.
func (f *Fetcher) FetchAll(
	ctx context.Context,
	graph collector.EntityGraph,
	headers collector.Headers,
) (map[string]collector.CollectionResult, collector.Outcome) {
	data := make(map[string]collector.CollectionResult, len(graph))
	for _, spec := range graph {
		var (
			rows collector.CollectionResult
			err  error
		)
		if spec.IsChild() {
			parents, ok := data[spec.MainCollection]
			if !ok || len(parents) == 0 {
				f.logger.Warn("parent entity missing",
					zap.String("entity", spec.Name),
					zap.String("parent", spec.MainCollection),
				)
				return nil, collector.Abort(collector.ReasonMissingParent, spec.Name)
			}
			rows, err = f.collectChildren(ctx, spec, parents, headers)
		} else {
			rows, err = f.pages.Collect(ctx, f.collectionURL(spec.MainCollection), headers, nil)
		}
		if err != nil {
			f.logger.Error("entity fetch failed", zap.String("entity", spec.Name), zap.Error(err))
			reason := collector.ReasonTransport
			if errors.Is(err, collector.ErrMalformedPage) {
				reason = collector.ReasonParse
			}
			return nil, collector.Fail(reason, err).WithEntity(spec.Name)
		}
		f.logger.Info("entity collected", zap.String("entity", spec.Name), zap.Int("rows", len(rows)))
		if len(rows) == 0 {
			f.logger.Debug("inadequate data for account", zap.String("entity", spec.Name))
			return nil, collector.Abort(collector.ReasonEmptyEntity, spec.Name)
		}
		data[spec.Name] = rows
	}
	return data, collector.Delivered()
}

func (f *Fetcher) collectChildren(
	ctx context.Context,
	spec collector.EntitySpec,
	parents collector.CollectionResult,
	headers collector.Headers,
) (collector.CollectionResult, error) {
	var all collector.CollectionResult
	for _, parent := range parents {
		id, ok := parent["id"]
		if !ok || id == nil {
			f.logger.Warn("parent record without id skipped", zap.String("entity", spec.Name))
			continue
		}
		var fk *collector.ForeignKey
		if spec.ForeignKey != "" {
			fk = &collector.ForeignKey{Name: spec.ForeignKey, Value: id}
		}
		target := f.collectionURL(spec.MainCollection, url.PathEscape(fmt.Sprint(id)), spec.SubCollection)
		rows, err := f.pages.Collect(ctx, target, headers, fk)
		if err != nil {
			return nil, fmt.Errorf("collect %s for %s %v: %w", spec.SubCollection, spec.MainCollection, id, err)
		}
		all = append(all, rows...)
	}
	return all, nil
}

func (f *Fetcher) collectionURL(segments ...string) string {
	return f.baseURL + "/" + strings.Join(segments, "/")
}
