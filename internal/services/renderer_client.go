package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"VitalsAI/go-backend/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrRendererUnavailable = errors.New("document renderer unavailable")

// RendererClient posts session summaries to the external document renderer
// and returns the rendered bytes.
type RendererClient struct {
	httpClient *resty.Client
	enabled    bool
	logger     *zap.Logger
}

// NewRendererClient returns a client for baseURL. An empty baseURL yields a
// client whose Render always fails with ErrRendererUnavailable.
func NewRendererClient(baseURL string, timeout time.Duration, retries int, logger *zap.Logger) *RendererClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/pdf")

	return &RendererClient{
		httpClient: client,
		enabled:    baseURL != "",
		logger:     logger,
	}
}

func (c *RendererClient) Enabled() bool {
	return c.enabled
}

// Render converts a summary into a document.
func (c *RendererClient) Render(ctx context.Context, summary models.SessionSummary) ([]byte, error) {
	if !c.enabled {
		return nil, ErrRendererUnavailable
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(summary).
		Post("/render")
	if err != nil {
		c.logger.Error("renderer call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRendererUnavailable, err)
	}
	if resp.IsError() {
		c.logger.Error("renderer returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 200)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrRendererUnavailable, resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrRendererUnavailable)
	}

	c.logger.Debug("document rendered", zap.Int("bytes", len(body)))
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
