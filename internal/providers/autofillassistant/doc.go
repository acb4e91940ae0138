// Package autofillassistant is the client side of the Autofill Assistant
// capabilities service.
//
// The lookup request and response are encoded by hand with protowire, and
// the same encoding is used by two transports that both implement
// capabilities.Service:
//
//   - HTTPClient posts to {endpoint}/v1/capabilitiesByHashPrefix through
//     resty on top of go-retryablehttp, behind a token bucket limiter and a
//     circuit breaker.
//   - GRPCClient invokes AutofillAssistantService/GetCapabilitiesByHashPrefix
//     with a forced codec and maps status codes to HTTP statuses.
//
// Neither transport caches or coalesces; that is the fetcher's job.
package autofillassistant
