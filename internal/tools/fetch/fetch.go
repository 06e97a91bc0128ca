// Package fetch implements the fetch tool: a guarded HTTP client that
// returns a response body verbatim, rejecting requests to loopback,
// link-local, and private-network hosts.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shai-run/agentcore/internal/net/ssrf"
	"github.com/shai-run/agentcore/internal/tooling"
)

// Params is the fetch tool's parameter shape.
type Params struct {
	URL     string            `json:"url" jsonschema:"required,description=URL to request."`
	Method  string            `json:"method,omitempty" jsonschema:"description=HTTP method. Defaults to GET."`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout int               `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds. Defaults to 30."`
}

// Tool implements the fetch tool.
type Tool struct {
	client        *http.Client
	allowInsecure bool
	schema        json.RawMessage
}

// New constructs a fetch tool. When allowInsecure is true the SSRF guard
// is bypassed (for tests or an explicit operator allowlist); production
// wiring always leaves it false.
func New(allowInsecure bool) *Tool {
	return &Tool{
		client:        &http.Client{},
		allowInsecure: allowInsecure,
		schema:        tooling.BuildSchema(Params{}),
	}
}

func (t *Tool) Name() string        { return "fetch" }
func (t *Tool) Description() string { return "Perform an HTTP request and return the response body." }
func (t *Tool) ParameterSchema() json.RawMessage { return t.schema }
func (t *Tool) Capabilities() []tooling.Capability {
	return []tooling.Capability{tooling.CapabilityNetwork}
}

var allowedMethods = map[string]bool{"GET": true, "POST": true, "PUT": true, "DELETE": true}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return tooling.Err(fmt.Sprintf("invalid parameters: %v", err), nil), nil
	}
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return tooling.Err(fmt.Sprintf("unsupported method: %s", method), nil), nil
	}

	parsed, err := url.Parse(p.URL)
	if err != nil {
		return tooling.Err(fmt.Sprintf("invalid url: %v", err), nil), nil
	}
	if !t.allowInsecure {
		if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
			return tooling.Err(err.Error(), nil), nil
		}
	}

	timeout := time.Duration(p.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if p.Body != "" {
		bodyReader = strings.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, p.URL, bodyReader)
	if err != nil {
		return tooling.Err(fmt.Sprintf("build request: %v", err), nil), nil
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return tooling.Err(fmt.Sprintf("request failed: %v", err), nil), nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tooling.Err(fmt.Sprintf("read response: %v", err), nil), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tooling.Err(fmt.Sprintf("HTTP request failed with status: %d", resp.StatusCode), map[string]any{
			"status": resp.StatusCode,
			"body":   string(data),
		}), nil
	}

	return tooling.Ok(string(data), map[string]any{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
	}), nil
}
