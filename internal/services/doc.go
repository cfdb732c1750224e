// Package services implements access to the N-central REST API and its legacy EI2 SOAP API.
//
// # Authentication
//
// [AuthManager] exchanges the API-user JWT for an access/refresh token pair and keeps the access token
// fresh. Access tokens are treated as expired 30 seconds early. Concurrent callers share one refresh.
// AuthManager implements [oauth2.TokenSource]; the [Client] applies tokens with [oauth2.Token.SetAuthHeader].
//
// # Request Pipeline
//
// Every [Client] request runs the same pipeline:
//   - acquire a [Limiter] permit for the endpoint pattern (integer path segments normalize to {id})
//   - obtain a valid access token
//   - perform the HTTP round trip, recorded in [Metrics]
//   - classify the status; 429 is retried using Retry-After (5s default) up to the retry budget
//
// [GetAllPages] follows pageNumber/pageSize pagination until the last page, an empty page or a short page.
//
// # SOAP Fallback
//
// [SoapClient] posts EI2 envelopes to /dms2/services2/ServerEI2. Users can only be created here. Customer,
// role, access group and property writes are available as fallbacks for REST failures.
//
// # Error Handling
//
// Errors wrap sentinels from the shared package, or are typed:
//   - [shared.ErrAuthentication] : 401/403, or no token held
//   - [shared.ErrTokenExpired] : both tokens expired, re-authenticate
//   - [shared.ErrNotFound] : 404
//   - [shared.ErrInvalidResponse] : 2xx with an unparseable body
//   - [RateLimitedError] : 429 after retries
//   - [ServerError] : any other non-2xx status
//   - [SoapFaultError], [SoapHTTPError], [shared.ErrSoapParse] : SOAP failures
package services
