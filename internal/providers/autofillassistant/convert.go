package autofillassistant

import (
	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
)

func newCapabilitiesRequest(req capabilities.LookupRequest, cc ClientContext) *CapabilitiesRequest {
	return &CapabilitiesRequest{
		HashPrefixLength: req.HashPrefixLength,
		HashPrefixes:     append([]uint64(nil), req.HashPrefixes...),
		ClientContext:    cc,
		Intent:           req.Intent,
	}
}

// lookupResponse converts a decoded response into the records the fetcher consumes.
func lookupResponse(statusCode int, resp *CapabilitiesResponse) capabilities.LookupResponse {
	out := capabilities.LookupResponse{StatusCode: statusCode}
	if resp == nil {
		return out
	}
	for _, m := range resp.MatchInfo {
		info := capabilities.Info{URL: m.URLMatch}
		if m.Bundle != nil {
			bundle := &capabilities.BundleCapabilities{
				SupportsConsentlessExecution: m.Bundle.SupportsConsentlessExecution,
			}
			for _, sig := range m.Bundle.TriggerFormSignatures {
				bundle.TriggerFormSignatures = append(bundle.TriggerFormSignatures, capabilities.FormSignature(sig))
			}
			info.Bundle = bundle
		}
		out.Capabilities = append(out.Capabilities, info)
	}
	return out
}
