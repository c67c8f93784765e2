package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"devconsole/internal/logging"
)

// New builds an HTTP client with a request timeout and debug-level request
// logging. URLs are redacted before they are logged.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   http.DefaultTransport,
			logger: logging.OrNop(logger),
		},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start).Round(time.Millisecond)
	target := logging.Redact(req.URL.String())
	if err != nil {
		t.logger.Debug("%s %s failed after %s: %v", req.Method, target, elapsed, err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d (%s)", req.Method, target, resp.StatusCode, elapsed)
	return resp, nil
}
