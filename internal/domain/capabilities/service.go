package capabilities

import (
	"context"
	"time"
)

// DefaultIntent identifies fast checkout lookups to the capabilities service.
const DefaultIntent = "CHROME_FAST_CHECKOUT"

// DefaultHashPrefixLength is the number of hash bits sent per lookup.
const DefaultHashPrefixLength uint32 = 15

// LookupRequest asks the capabilities service about every origin whose hash shares a prefix.
type LookupRequest struct {
	HashPrefixLength uint32
	HashPrefixes     []uint64
	Intent           string
}

// BundleCapabilities is the per-origin capability bundle returned by the service.
type BundleCapabilities struct {
	TriggerFormSignatures        []FormSignature
	SupportsConsentlessExecution bool
}

// Info is one per-URL capability record. Bundle is nil when the service has
// nothing to say about the URL.
type Info struct {
	URL    string
	Bundle *BundleCapabilities
}

// LookupResponse carries an HTTP-equivalent status code and the matching records.
type LookupResponse struct {
	StatusCode   int
	Capabilities []Info
}

// Service performs capability lookups against the remote service.
// Errors are transport failures; a response that arrived is reported through StatusCode.
type Service interface {
	GetCapabilitiesByHashPrefix(ctx context.Context, req LookupRequest) (LookupResponse, error)
}

// CacheState classifies the cache when IsTriggerFormSupported is asked about an origin.
type CacheState int

const (
	CacheStateFetchOngoing CacheState = iota
	CacheStateNeverFetched
	CacheStateFormSupported
	CacheStateFormNotSupported
)

// String returns the label used in metrics and logs.
func (s CacheState) String() string {
	switch s {
	case CacheStateFetchOngoing:
		return "fetch_ongoing"
	case CacheStateNeverFetched:
		return "never_fetched"
	case CacheStateFormSupported:
		return "entry_available_form_supported"
	case CacheStateFormNotSupported:
		return "entry_available_form_not_supported"
	default:
		return "unknown"
	}
}

// Recorder receives fetcher telemetry.
type Recorder interface {
	RecordCacheState(state CacheState)
	RecordLookup(statusCode int, duration time.Duration)
	RecordCacheHit()
	RecordCoalesced()
	RecordProtocolViolation()
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheState(CacheState) {}
func (nopRecorder) RecordLookup(int, time.Duration) {}
func (nopRecorder) RecordCacheHit() {}
func (nopRecorder) RecordCoalesced() {}
func (nopRecorder) RecordProtocolViolation() {}
