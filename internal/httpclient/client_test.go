package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "devconsole/internal/errors"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(format string, args ...any) { l.add(format, args...) }
func (l *recordingLogger) Info(format string, args ...any)  { l.add(format, args...) }
func (l *recordingLogger) Warn(format string, args ...any)  { l.add(format, args...) }
func (l *recordingLogger) Error(format string, args ...any) { l.add(format, args...) }

func (l *recordingLogger) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestClientLogsRedactedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	logger := &recordingLogger{}
	client := New(time.Second, logger)
	resp, err := client.Get(srv.URL + "/gettoken?corpid=ww1&corpsecret=topsecret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = resp.Body.Close()

	if len(logger.lines) != 1 {
		t.Fatalf("expected one log line, got %v", logger.lines)
	}
	if strings.Contains(logger.lines[0], "topsecret") {
		t.Fatalf("secret leaked into log line %q", logger.lines[0])
	}
	if !strings.Contains(logger.lines[0], "-> 204") {
		t.Fatalf("expected status in log line %q", logger.lines[0])
	}
}

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestUpstreamReadBodyWithinLimit(t *testing.T) {
	payload := `{"errcode":0}`
	got, err := Upstream{Service: "wechat-work", Step: "gettoken", Limit: int64(len(payload))}.ReadBody(response(http.StatusOK, payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != payload {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestUpstreamReadBodyTooLarge(t *testing.T) {
	_, err := Upstream{Service: "wechat-work", Step: "user/get", Limit: 2}.ReadBody(response(http.StatusOK, "hello"))
	var tooLarge *BodyTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected BodyTooLargeError, got %v", err)
	}
	if tooLarge.Step != "user/get" || err.Error() != "wechat-work user/get: response body exceeds 2 bytes" {
		t.Fatalf("unexpected error %q", err)
	}
	if apperrors.GetErrorType(err) != apperrors.ErrorTypeUpstream {
		t.Fatalf("expected upstream classification, got %s", apperrors.GetErrorType(err))
	}
}

func TestUpstreamReadBodyStatus(t *testing.T) {
	_, err := Upstream{Service: "wechat-work", Step: "gettoken", Limit: 64}.ReadBody(response(http.StatusNotFound, "no route"))
	var statusErr *apperrors.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if err.Error() != "wechat-work gettoken: unexpected status 404: no route" {
		t.Fatalf("unexpected message %q", err)
	}

	body, err := Upstream{Service: "seo", Step: "example.com", Limit: 64, AnyStatus: true}.ReadBody(response(http.StatusNotFound, "<html></html>"))
	if err != nil || string(body) != "<html></html>" {
		t.Fatalf("expected the error page body, got %q, %v", body, err)
	}
}
