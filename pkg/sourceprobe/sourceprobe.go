// Package sourceprobe answers "is this source ready, and how big is it"
// before a job is accepted. HTTP(S) sources are probed with a HEAD request;
// other schemes are handed straight to the fetch worker, which resolves them
// itself.
package sourceprobe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds one probe request.
const DefaultTimeout = 10 * time.Second

// HTTP probes http and https source refs.
type HTTP struct {
	client *http.Client
	logger *zap.Logger
}

// New builds an HTTP prober. A nil client gets a default with the probe
// timeout applied.
func New(client *http.Client, logger *zap.Logger) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTP{client: client, logger: logger}
}

// Probe reports the source's total size in bytes (0 when unknown) and
// whether it is ready to fetch. Refs that are not http(s) are always ready
// with unknown size.
func (p *HTTP) Probe(ctx context.Context, sourceRef string) (int64, bool, error) {
	if !strings.HasPrefix(sourceRef, "http://") && !strings.HasPrefix(sourceRef, "https://") {
		return 0, true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceRef, nil)
	if err != nil {
		return 0, false, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("probe source: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		total := resp.ContentLength
		if total < 0 {
			total = 0
		}
		return total, true, nil
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		// Server refuses HEAD; let the fetch worker find out.
		return 0, true, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests:
		p.logger.Info("source not ready",
			zap.String("source_ref", sourceRef), zap.Int("status", resp.StatusCode))
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("probe source: unexpected status %d", resp.StatusCode)
	}
}
