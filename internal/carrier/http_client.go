package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaytext/campaign-engine/pkg/logger"
	"github.com/valyala/fasthttp"
)

// SendRequest is the wire payload posted to a carrier's send endpoint.
type SendRequest struct {
	MessageID   string `json:"message_id"`
	PhoneNumber string `json:"phone_number"`
	FromNumber  string `json:"from_number"`
	Content     string `json:"content"`
}

type SendResponse struct {
	MessageID        string     `json:"message_id"`
	CarrierMessageID string     `json:"carrier_message_id"`
	Status           string     `json:"status"`
	ProcessedAt      time.Time  `json:"processed_at"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	ErrorCode        string     `json:"error_code,omitempty"`
	ErrorMsg         string     `json:"error_message,omitempty"`
}

type HTTPClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxConns   int
}

// HTTPClient is the fasthttp transport shared by the HTTP-backed
// carrier adapters.
type HTTPClient struct {
	config HTTPClientConfig
	client *fasthttp.Client
}

func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	if config.MaxConns == 0 {
		config.MaxConns = 512
	}
	return &HTTPClient{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// Send posts the request, retrying transient transport failures up to
// the configured bound.
func (c *HTTPClient) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		start := time.Now()
		respBody, err := c.doRequest("POST", "/api/v1/messages/send", body)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			logger.Warn("carrier request failed, retrying", "error", err, "attempt", attempt+1)
			lastErr = err
			continue
		}

		var resp SendResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal carrier response: %w", err)
		}

		logger.Debug("carrier accepted message", "message_id", req.MessageID, "status", resp.Status, "latency_ms", latency)
		return &resp, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *HTTPClient) doRequest(method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	if err := c.client.DoTimeout(req, resp, c.config.Timeout); err != nil {
		return nil, err
	}

	status := resp.StatusCode()
	if status >= 500 {
		return nil, fmt.Errorf("carrier returned status %d", status)
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}
