package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrProfileNotFound    = fmt.Errorf("profile not found")
	ErrCredentialStore    = fmt.Errorf("credential store error")

	// Authentication errors
	ErrAuthentication   = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("refresh token expired, re-authentication required")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrRateLimited        = fmt.Errorf("rate limited")
	ErrNotFound           = fmt.Errorf("resource not found")
	ErrServer             = fmt.Errorf("server error")
	ErrInvalidResponse    = fmt.Errorf("invalid response")
	ErrCreatedWithoutID   = fmt.Errorf("created but no ID returned")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// SOAP errors
	ErrSoapFault = fmt.Errorf("SOAP fault")
	ErrSoapParse = fmt.Errorf("SOAP parse error")
	ErrSoapHTTP  = fmt.Errorf("SOAP HTTP error")

	// Migration errors
	ErrRequiredList   = fmt.Errorf("failed to fetch required list")
	ErrNotConnected   = fmt.Errorf("source and destination must be connected")
	ErrCancelled      = fmt.Errorf("operation cancelled")
	ErrFallbackFailed = fmt.Errorf("primary and fallback attempts failed")

	// Export errors
	ErrExport = fmt.Errorf("export failed")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
