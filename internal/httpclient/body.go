package httpclient

import (
	"fmt"
	"io"
	"net/http"

	apperrors "devconsole/internal/errors"
)

// BodyTooLargeError reports an upstream response body over the read limit.
type BodyTooLargeError struct {
	Service string
	Step    string
	Limit   int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("%s %s: response body exceeds %d bytes", e.Service, e.Step, e.Limit)
}

func (e *BodyTooLargeError) UpstreamService() string { return e.Service }

// Upstream names the call a response belongs to.
type Upstream struct {
	Service string
	Step    string
	// Limit caps the body; zero or less reads it whole.
	Limit int64
	// AnyStatus accepts non-2xx responses instead of returning a StatusError.
	AnyStatus bool
}

// ReadBody reads and closes resp.Body. A body over u.Limit is a
// *BodyTooLargeError and a non-2xx status an *errors.StatusError carrying
// the body, unless u.AnyStatus is set.
func (u Upstream) ReadBody(resp *http.Response) ([]byte, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	var reader io.Reader = resp.Body
	if u.Limit > 0 {
		reader = io.LimitReader(resp.Body, u.Limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", u.Service, u.Step, err)
	}
	if u.Limit > 0 && int64(len(data)) > u.Limit {
		return nil, &BodyTooLargeError{Service: u.Service, Step: u.Step, Limit: u.Limit}
	}
	if !u.AnyStatus && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return nil, &apperrors.StatusError{
			Service:    u.Service + " " + u.Step,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}
	return data, nil
}
