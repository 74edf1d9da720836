package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/internal/util"
	"github.com/opensearch-project/mlagent/logging"
)

// ErrRemoteStatus marks a non-retryable non-2xx response.
var ErrRemoteStatus = errors.New("remote returned error status")

// ErrFilterNoMatch is returned when a response filter selects nothing.
var ErrFilterNoMatch = errors.New("response filter matched nothing")

const maxErrorBody = 4096

// Response is the outcome of one invocation.
type Response struct {
	StatusCode int
	// Body is the raw response payload.
	Body []byte
	// Output is the filtered value: a string result as-is, any other JSON
	// value in its raw JSON form, or the whole body without a filter.
	Output string
}

// Invoker executes connector actions.
type Invoker interface {
	Invoke(ctx context.Context, conn *Connector, actionType string, params map[string]string) (*Response, error)
}

// Options configures an HTTPInvoker.
type Options struct {
	Client *http.Client
	// Timeout bounds one request including reading the body.
	Timeout time.Duration
	// RateLimit is requests per second per connector; zero disables limiting.
	RateLimit rate.Limit
	Burst     int
	Logger    logging.Logger
}

// HTTPInvoker is the http protocol Invoker.
type HTTPInvoker struct {
	client  *http.Client
	timeout time.Duration
	limit   rate.Limit
	burst   int
	logger  logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Invoker = (*HTTPInvoker)(nil)

// NewHTTPInvoker creates an HTTPInvoker.
func NewHTTPInvoker(optFns ...func(o *Options)) *HTTPInvoker {
	opts := Options{
		Client:  http.DefaultClient,
		Timeout: 30 * time.Second,
		Burst:   1,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	return &HTTPInvoker{
		client:   opts.Client,
		timeout:  opts.Timeout,
		limit:    opts.RateLimit,
		burst:    opts.Burst,
		logger:   logging.OrNoOp(opts.Logger),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Invoke renders the action's request from the connector parameters overlaid
// with params, sends it and applies the response filter. Values placed inside
// JSON strings of the request body are escaped. A missing action
// yields core.ErrNoSuchAction. Transport failures, timeouts, 5xx and 429 yield
// core.ErrUpstreamUnavailable.
func (h *HTTPInvoker) Invoke(ctx context.Context, conn *Connector, actionType string, params map[string]string) (*Response, error) {
	action, err := conn.Action(actionType)
	if err != nil {
		return nil, err
	}

	if err := h.wait(ctx, conn.ID); err != nil {
		return nil, core.Unavailable("connector", err)
	}

	merged := core.CloneStringMap(conn.Parameters)
	if merged == nil {
		merged = map[string]string{}
	}
	for k, v := range params {
		merged[k] = v
	}
	scopes := map[string]map[string]string{"parameters": merged, "credential": conn.Credential}

	method := strings.ToUpper(action.Method)
	if method == "" {
		method = http.MethodPost
	}
	url := util.RenderPlaceholders(action.URL, scopes)
	var body io.Reader
	if action.RequestBody != "" && method != http.MethodGet {
		rendered := util.RenderJSONPlaceholders(action.RequestBody, scopes)
		if missing := util.UnresolvedPlaceholders(rendered); len(missing) > 0 {
			h.logger.Warn("connector.request.unresolved", "connector_id", conn.ID, "action", action.ActionType, "placeholders", missing)
		}
		body = strings.NewReader(rendered)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("connector %s: build request: %w", conn.ID, err)
	}
	for k, v := range action.Headers {
		req.Header.Set(k, util.RenderPlaceholders(v, scopes))
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("connector.invoke.failed", "connector_id", conn.ID, "action", action.ActionType, "error", err)
		return nil, core.Unavailable("connector", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.Unavailable("connector", err)
	}
	h.logger.Debug("connector.invoke.completed", "connector_id", conn.ID, "action", action.ActionType,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(raw)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		statusErr := fmt.Errorf("%w: status %d: %s", ErrRemoteStatus, resp.StatusCode, msg)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, core.Unavailable("connector", statusErr)
		}
		return nil, fmt.Errorf("connector %s: %w", conn.ID, statusErr)
	}

	out, err := ApplyFilter(raw, action.ResponseFilter)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", conn.ID, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw, Output: out}, nil
}

func (h *HTTPInvoker) wait(ctx context.Context, connectorID string) error {
	if h.limit <= 0 {
		return nil
	}
	h.mu.Lock()
	l, ok := h.limiters[connectorID]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[connectorID] = l
	}
	h.mu.Unlock()
	return l.Wait(ctx)
}

var indexRe = regexp.MustCompile(`\[(\d+)\]`)
var quotedKeyRe = regexp.MustCompile(`\[['"]([^'"]+)['"]\]`)

// FilterPath converts a JSONPath expression such as $.choices[0].message.content
// into the equivalent gjson path choices.0.message.content.
func FilterPath(expr string) string {
	p := strings.TrimSpace(expr)
	p = strings.TrimPrefix(p, "$")
	p = quotedKeyRe.ReplaceAllString(p, ".$1")
	p = indexRe.ReplaceAllString(p, ".$1")
	return strings.TrimPrefix(p, ".")
}

// ApplyFilter extracts the value selected by the JSONPath filter from body.
// An empty filter returns the body unchanged.
func ApplyFilter(body []byte, filter string) (string, error) {
	path := FilterPath(filter)
	if path == "" {
		return string(body), nil
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: %s: response is not JSON", ErrFilterNoMatch, filter)
	}
	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return "", fmt.Errorf("%w: %s", ErrFilterNoMatch, filter)
	}
	if res.Type == gjson.String {
		return res.String(), nil
	}
	return res.Raw, nil
}
