package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpConn is one HTTP transport connection (spec.md §4.1 transport
// adapters): a single POST to {base_url}/mcp per call, reusing the
// underlying http.Client's keep-alive connection.
type httpConn struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

func newHTTPConn(baseURL string, headers map[string]string, timeout time.Duration) *httpConn {
	return &httpConn{
		baseURL: baseURL,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Close satisfies Conn; the underlying http.Client's transport is
// reused process-wide, so there is nothing to tear down per-connection
// beyond letting it be garbage collected.
func (c *httpConn) Close() error { return nil }

func (c *httpConn) send(ctx context.Context, req jsonrpcRequest) (*jsonrpcResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewCallError("", KindValidation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, NewCallError("", KindValidation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewCallError("", KindTimeout, err)
		}
		return nil, NewCallError("", KindNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewCallError("", KindNetworkUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, NewCallError("", KindHTTP5xx, fmt.Errorf("status %d: %s", resp.StatusCode, data))
	}
	if resp.StatusCode >= 400 {
		return nil, NewCallError("", KindRemote, fmt.Errorf("status %d: %s", resp.StatusCode, data))
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, NewCallError("", KindRemote, fmt.Errorf("parsing response: %w", err))
	}
	return &rpcResp, nil
}
