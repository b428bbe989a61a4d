package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"producer-dashboard/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxBodyBytes caps a metadata document
const maxBodyBytes = 1 << 20

// Gateway resolves content pointers to JSON metadata over an HTTP gateway
type Gateway struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewGateway creates a gateway client for baseURL, e.g. https://ipfs.io/ipfs/
func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Gateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  util.ComponentLogger("metadata"),
	}
}

// URL returns the gateway URL for cid
func (g *Gateway) URL(cid string) string {
	cid = strings.TrimSpace(cid)
	cid = strings.TrimPrefix(cid, "ipfs://")
	cid = strings.TrimPrefix(cid, "ipfs/")
	return g.baseURL + cid
}

// Fetch returns the JSON object stored at cid.
// Any failure yields an empty map so that a single bad document never drops a row.
func (g *Gateway) Fetch(ctx context.Context, cid string) map[string]any {
	ctx, span := util.StartSpan(ctx, "Gateway.Fetch", attribute.String("cid", cid))
	defer span.End()

	doc, reason, err := g.fetch(ctx, cid)
	if err != nil {
		util.RecordError(span, err)
		util.MetadataFetchFailures.WithLabelValues(reason).Inc()
		g.logger.Warn("Metadata fetch failed, using empty metadata",
			zap.String("cid", cid),
			zap.String("reason", reason),
			zap.Error(err))
		return map[string]any{}
	}
	return doc
}

func (g *Gateway) fetch(ctx context.Context, cid string) (map[string]any, string, error) {
	if strings.TrimSpace(cid) == "" {
		return nil, "empty_cid", fmt.Errorf("empty content pointer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL(cid), nil)
	if err != nil {
		return nil, "request", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "transport", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "status", fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&doc); err != nil {
		return nil, "decode", fmt.Errorf("failed to decode metadata: %w", err)
	}
	if doc == nil {
		return nil, "decode", fmt.Errorf("metadata is not a JSON object")
	}
	return doc, "", nil
}
