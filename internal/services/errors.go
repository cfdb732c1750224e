package services

import (
	"fmt"
	"time"

	"github.com/desertthunder/ncx/internal/shared"
)

// RateLimitedError is returned when the server keeps answering 429 after the retry budget is spent.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%v: retry after %s", shared.ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return shared.ErrRateLimited }

// ServerError carries a non-2xx status that has no more specific classification.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", shared.ErrServer, e.Status, e.Body)
}

func (e *ServerError) Unwrap() error { return shared.ErrServer }

// SoapFaultError is a SOAP fault returned by the legacy endpoint.
type SoapFaultError struct {
	Code    string
	Message string
}

func (e *SoapFaultError) Error() string {
	return fmt.Sprintf("%v: %s - %s", shared.ErrSoapFault, e.Code, e.Message)
}

func (e *SoapFaultError) Unwrap() error { return shared.ErrSoapFault }

// SoapHTTPError is a non-2xx SOAP response without a fault body.
type SoapHTTPError struct {
	Status int
	Body   string
}

func (e *SoapHTTPError) Error() string {
	return fmt.Sprintf("%v: HTTP status %d: %s", shared.ErrSoapHTTP, e.Status, e.Body)
}

func (e *SoapHTTPError) Unwrap() error { return shared.ErrSoapHTTP }

// truncate limits error bodies to n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
