// Package errors classifies failures of upstream calls (the WeChat Work API,
// pages fetched by the SEO inspector) so handlers can pick a status code.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorType is how a failure should be surfaced to a caller.
type ErrorType int

const (
	// ErrorTypePermanent is a local failure; retrying will not help.
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient is a network or 5xx/429 failure that may clear up.
	ErrorTypeTransient
	// ErrorTypeUpstream means the upstream answered with something unusable.
	ErrorTypeUpstream
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeUpstream:
		return "upstream"
	default:
		return "permanent"
	}
}

// UpstreamError is implemented by errors describing a bad upstream response.
type UpstreamError interface {
	error
	UpstreamService() string
}

// StatusError reports an unexpected HTTP status from an upstream service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, body)
}

func (e *StatusError) UpstreamService() string { return e.Service }

// IsTransient checks if an error may clear up when attempted again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return isTransientHTTPStatus(statusErr.StatusCode)
	}
	if isNetworkError(err) {
		return true
	}
	return isSyscallError(err)
}

// GetErrorType classifies err. Transient wins over upstream, so a 503 is
// transient while a 404 is upstream.
func GetErrorType(err error) ErrorType {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	var upstream UpstreamError
	if errors.As(err, &upstream) {
		return ErrorTypeUpstream
	}
	return ErrorTypePermanent
}

// IsUpstreamFailure reports whether err should surface as a bad gateway.
func IsUpstreamFailure(err error) bool {
	return err != nil && GetErrorType(err) != ErrorTypePermanent
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
