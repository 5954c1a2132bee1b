package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"maiguru/internal/domain"
)

// apiClient is the JSON-over-HTTP plumbing shared by the provider adapters.
// The *http.Client carries provider authentication.
type apiClient struct {
	kind    domain.PaymentMethodKind
	baseURL string
	http    *http.Client
}

func (c apiClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return gatewayErr(c.kind, op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, body)
	if err != nil {
		return gatewayErr(c.kind, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return gatewayErr(c.kind, op, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return domain.GatewayError{
			Gateway: string(c.kind),
			Op:      op,
			Reason:  fmt.Sprintf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg))),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return gatewayErr(c.kind, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func wrongRecipient(kind domain.PaymentMethodKind, m domain.PayoutMethod) Result {
	got := "none"
	if m != nil {
		got = string(m.Kind())
	}
	return Result{Status: StatusFailed, Reason: fmt.Sprintf("%s cannot pay out to a %s destination", kind, got)}
}
