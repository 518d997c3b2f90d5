package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"evshop-payment/internal/models"
	"evshop-payment/internal/util"
)

// NewHTTPClient returns the client shared by all adapters. Every provider call is bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// postJSON sends body as JSON and returns the raw response.
// Timeouts are reported as models.ErrGatewayTimeout so callers can leave the attempt pending.
func postJSON(ctx context.Context, client *http.Client, gw models.Gateway, op, endpoint string, headers map[string]string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s %s request: %w", gw, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	observeGateway(gw, op, start)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%s %s: %w", gw, op, models.ErrGatewayTimeout)
		}
		return nil, fmt.Errorf("%s %s request failed: %w", gw, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%s %s: %w", gw, op, models.ErrGatewayTimeout)
		}
		return nil, err
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s returned HTTP %d", gw, op, resp.StatusCode)
	}
	return respBody, nil
}

func observeGateway(gw models.Gateway, op string, start time.Time) {
	util.GatewayRequestLatency.WithLabelValues(string(gw), op).Observe(time.Since(start).Seconds())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
