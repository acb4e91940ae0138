package autofillassistant

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedMessage is returned when a wire message cannot be decoded.
var ErrMalformedMessage = errors.New("malformed capabilities message")

// Field numbers of the capabilities RPC messages.
const (
	reqHashPrefixLength protowire.Number = 1
	reqHashPrefix       protowire.Number = 2
	reqClientContext    protowire.Number = 3
	reqIntent           protowire.Number = 4

	ctxChromeVersion protowire.Number = 1
	ctxLocale        protowire.Number = 2
	ctxCountry       protowire.Number = 3

	respMatchInfo protowire.Number = 1

	matchURL    protowire.Number = 1
	matchBundle protowire.Number = 3

	bundleTriggerFormSignatures protowire.Number = 1
	bundleConsentless           protowire.Number = 2
)

// ClientContext describes the client issuing a lookup.
type ClientContext struct {
	ChromeVersion string
	Locale        string
	Country       string
}

// CapabilitiesRequest is GetCapabilitiesByHashPrefixRequest.
type CapabilitiesRequest struct {
	HashPrefixLength uint32
	HashPrefixes     []uint64
	ClientContext    ClientContext
	Intent           string
}

// BundleInfo is the bundle capabilities information attached to a match.
type BundleInfo struct {
	TriggerFormSignatures        []uint64
	SupportsConsentlessExecution bool
}

// MatchInfo is one URL matching the requested hash prefixes.
type MatchInfo struct {
	URLMatch string
	Bundle   *BundleInfo
}

// CapabilitiesResponse is GetCapabilitiesByHashPrefixResponse.
type CapabilitiesResponse struct {
	MatchInfo []MatchInfo
}

// Marshal encodes the request in protobuf wire format.
func (r *CapabilitiesRequest) Marshal() []byte {
	var b []byte
	if r.HashPrefixLength != 0 {
		b = protowire.AppendTag(b, reqHashPrefixLength, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.HashPrefixLength))
	}
	if len(r.HashPrefixes) > 0 {
		var packed []byte
		for _, p := range r.HashPrefixes {
			packed = protowire.AppendVarint(packed, p)
		}
		b = protowire.AppendTag(b, reqHashPrefix, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if cc := r.ClientContext.marshal(); len(cc) > 0 {
		b = protowire.AppendTag(b, reqClientContext, protowire.BytesType)
		b = protowire.AppendBytes(b, cc)
	}
	b = appendString(b, reqIntent, r.Intent)
	return b
}

func (c ClientContext) marshal() []byte {
	var b []byte
	b = appendString(b, ctxChromeVersion, c.ChromeVersion)
	b = appendString(b, ctxLocale, c.Locale)
	b = appendString(b, ctxCountry, c.Country)
	return b
}

// Unmarshal decodes a request from protobuf wire format.
func (r *CapabilitiesRequest) Unmarshal(b []byte) error {
	*r = CapabilitiesRequest{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == reqHashPrefixLength && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.HashPrefixLength = uint32(v)
			return n, nil
		case num == reqHashPrefix && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.HashPrefixes = append(r.HashPrefixes, v)
			return n, nil
		case num == reqHashPrefix && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return m, nil
				}
				r.HashPrefixes = append(r.HashPrefixes, v)
				packed = packed[m:]
			}
			return n, nil
		case num == reqClientContext && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			return n, r.ClientContext.unmarshal(msg)
		case num == reqIntent && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			r.Intent = s
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (c *ClientContext) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		s, n := protowire.ConsumeString(b)
		switch num {
		case ctxChromeVersion:
			c.ChromeVersion = s
		case ctxLocale:
			c.Locale = s
		case ctxCountry:
			c.Country = s
		}
		return n, nil
	})
}

// Marshal encodes the response in protobuf wire format.
func (r *CapabilitiesResponse) Marshal() []byte {
	var b []byte
	for _, m := range r.MatchInfo {
		b = protowire.AppendTag(b, respMatchInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, m.marshal())
	}
	return b
}

func (m MatchInfo) marshal() []byte {
	var b []byte
	b = appendString(b, matchURL, m.URLMatch)
	if m.Bundle != nil {
		var bundle []byte
		if len(m.Bundle.TriggerFormSignatures) > 0 {
			var packed []byte
			for _, sig := range m.Bundle.TriggerFormSignatures {
				packed = protowire.AppendFixed64(packed, sig)
			}
			bundle = protowire.AppendTag(bundle, bundleTriggerFormSignatures, protowire.BytesType)
			bundle = protowire.AppendBytes(bundle, packed)
		}
		if m.Bundle.SupportsConsentlessExecution {
			bundle = protowire.AppendTag(bundle, bundleConsentless, protowire.VarintType)
			bundle = protowire.AppendVarint(bundle, protowire.EncodeBool(true))
		}
		// An empty bundle is still present on the wire.
		b = protowire.AppendTag(b, matchBundle, protowire.BytesType)
		b = protowire.AppendBytes(b, bundle)
	}
	return b
}

// Unmarshal decodes a response from protobuf wire format.
func (r *CapabilitiesResponse) Unmarshal(b []byte) error {
	*r = CapabilitiesResponse{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != respMatchInfo || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		var m MatchInfo
		if err := m.unmarshal(msg); err != nil {
			return n, err
		}
		r.MatchInfo = append(r.MatchInfo, m)
		return n, nil
	})
}

func (m *MatchInfo) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == matchURL && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			m.URLMatch = s
			return n, nil
		case num == matchBundle && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			m.Bundle = &BundleInfo{}
			return n, m.Bundle.unmarshal(msg)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (bi *BundleInfo) unmarshal(b []byte) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == bundleTriggerFormSignatures && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			bi.TriggerFormSignatures = append(bi.TriggerFormSignatures, v)
			return n, nil
		case num == bundleTriggerFormSignatures && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if len(packed)%8 != 0 {
				return n, fmt.Errorf("%w: packed fixed64 field has %d bytes", ErrMalformedMessage, len(packed))
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				bi.TriggerFormSignatures = append(bi.TriggerFormSignatures, v)
				packed = packed[m:]
			}
			return n, nil
		case num == bundleConsentless && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			bi.SupportsConsentlessExecution = protowire.DecodeBool(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// walkFields calls fn for every field in b. fn returns the number of bytes it
// consumed from the field value, or a negative protowire error code.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedMessage, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
