// Package paginate walks cursor linked REST collections.
//
// Termination relies on the upstream: a collection whose pages always carry a
// links.next value is followed forever.
package paginate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// Collector implements collector.Paginator on top of a Transport.
type Collector struct {
	transport collector.Transport
	host      string
	logger    *zap.Logger
}

// New creates a Collector. host is prefixed to relative links.next values.
func New(transport collector.Transport, host string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		transport: transport,
		host:      strings.TrimRight(host, "/"),
		logger:    logger,
	}
}

// Collect fetches startURL and every following page, concatenating records
// in page order. When fk applies its value is stamped into every record. Any
// failure discards the pages fetched so far.
func (c *Collector) Collect(
	ctx context.Context,
	startURL string,
	headers collector.Headers,
	fk *collector.ForeignKey,
) (collector.CollectionResult, error) {
	var result collector.CollectionResult
	next := startURL
	pages := 0
	for next != "" {
		page, err := c.fetchPage(ctx, next, headers)
		if err != nil {
			return nil, err
		}
		pages++
		result = append(result, page.Data...)
		next = c.resolve(page.Links.Next)
	}
	if fk.Applies() {
		for _, rec := range result {
			rec[fk.Name] = fk.Value
		}
	}
	c.logger.Debug("collection complete",
		zap.String("url", startURL),
		zap.Int("pages", pages),
		zap.Int("rows", len(result)),
	)
	return result, nil
}

func (c *Collector) fetchPage(ctx context.Context, pageURL string, headers collector.Headers) (collector.Page, error) {
	resp, err := c.transport.Execute(ctx, http.MethodGet, pageURL, headers, nil)
	if err != nil {
		return collector.Page{}, fmt.Errorf("fetch page: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close page body", zap.Error(cerr))
		}
	}()

	var page collector.Page
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&page); err != nil {
		return collector.Page{}, fmt.Errorf("%w: decode page %s: %w", collector.ErrMalformedPage, pageURL, err)
	}
	for i, rec := range page.Data {
		if rec == nil {
			return collector.Page{}, fmt.Errorf("%w: decode page %s: record %d is null", collector.ErrMalformedPage, pageURL, i)
		}
	}
	return page, nil
}

func (c *Collector) resolve(next string) string {
	if next == "" {
		return ""
	}
	if u, err := url.Parse(next); err == nil && u.IsAbs() {
		return next
	}
	return c.host + next
}
