package autofillassistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestRoundTrip(t *testing.T) {
	req := CapabilitiesRequest{
		HashPrefixLength: 15,
		HashPrefixes:     []uint64{0, 1, 32767},
		ClientContext:    ClientContext{ChromeVersion: "120.0", Locale: "en-US", Country: "US"},
		Intent:           "CHROME_FAST_CHECKOUT",
	}

	var decoded CapabilitiesRequest
	require.NoError(t, decoded.Unmarshal(req.Marshal()))
	assert.Equal(t, req, decoded)
}

func TestRequestEncodingIsPacked(t *testing.T) {
	b := (&CapabilitiesRequest{HashPrefixes: []uint64{7, 8}}).Marshal()

	num, typ, n := protowire.ConsumeTag(b)
	require.Positive(t, n)
	assert.Equal(t, reqHashPrefix, num)
	assert.Equal(t, protowire.BytesType, typ)
}

func TestRequestDecodesUnpackedPrefixes(t *testing.T) {
	var b []byte
	for _, p := range []uint64{3, 4} {
		b = protowire.AppendTag(b, reqHashPrefix, protowire.VarintType)
		b = protowire.AppendVarint(b, p)
	}

	var decoded CapabilitiesRequest
	require.NoError(t, decoded.Unmarshal(b))
	assert.Equal(t, []uint64{3, 4}, decoded.HashPrefixes)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := CapabilitiesResponse{MatchInfo: []MatchInfo{
		{
			URLMatch: "https://shop.example/",
			Bundle: &BundleInfo{
				TriggerFormSignatures:        []uint64{1, 1 << 63},
				SupportsConsentlessExecution: true,
			},
		},
		{URLMatch: "https://other.example/", Bundle: &BundleInfo{}},
		{URLMatch: "https://bare.example/"},
	}}

	var decoded CapabilitiesResponse
	require.NoError(t, decoded.Unmarshal(resp.Marshal()))
	assert.Equal(t, resp, decoded)
}

func TestResponseDecodesUnpackedSignaturesAndSkipsUnknownFields(t *testing.T) {
	var bundle []byte
	for _, sig := range []uint64{11, 12} {
		bundle = protowire.AppendTag(bundle, bundleTriggerFormSignatures, protowire.Fixed64Type)
		bundle = protowire.AppendFixed64(bundle, sig)
	}
	bundle = protowire.AppendTag(bundle, 9, protowire.VarintType)
	bundle = protowire.AppendVarint(bundle, 99)

	var match []byte
	match = appendString(match, matchURL, "https://shop.example/")
	match = protowire.AppendTag(match, 2, protowire.BytesType) // unrelated field
	match = protowire.AppendString(match, "ignored")
	match = protowire.AppendTag(match, matchBundle, protowire.BytesType)
	match = protowire.AppendBytes(match, bundle)

	var b []byte
	b = protowire.AppendTag(b, respMatchInfo, protowire.BytesType)
	b = protowire.AppendBytes(b, match)

	var decoded CapabilitiesResponse
	require.NoError(t, decoded.Unmarshal(b))
	require.Len(t, decoded.MatchInfo, 1)
	assert.Equal(t, "https://shop.example/", decoded.MatchInfo[0].URLMatch)
	assert.Equal(t, []uint64{11, 12}, decoded.MatchInfo[0].Bundle.TriggerFormSignatures)
}

func TestMalformedMessages(t *testing.T) {
	full := (&CapabilitiesResponse{MatchInfo: []MatchInfo{{URLMatch: "https://shop.example/"}}}).Marshal()

	var badPacked []byte
	badPacked = protowire.AppendTag(badPacked, bundleTriggerFormSignatures, protowire.BytesType)
	badPacked = protowire.AppendBytes(badPacked, []byte{1, 2, 3})
	var match []byte
	match = protowire.AppendTag(match, matchBundle, protowire.BytesType)
	match = protowire.AppendBytes(match, badPacked)
	var withBadBundle []byte
	withBadBundle = protowire.AppendTag(withBadBundle, respMatchInfo, protowire.BytesType)
	withBadBundle = protowire.AppendBytes(withBadBundle, match)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated", data: full[:len(full)-3]},
		{name: "bad tag", data: []byte{0xff}},
		{name: "packed fixed64 not a multiple of eight", data: withBadBundle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded CapabilitiesResponse
			assert.ErrorIs(t, decoded.Unmarshal(tt.data), ErrMalformedMessage)
		})
	}
}

func TestEmptyMessages(t *testing.T) {
	assert.Empty(t, (&CapabilitiesResponse{}).Marshal())

	var decoded CapabilitiesResponse
	require.NoError(t, decoded.Unmarshal(nil))
	assert.Empty(t, decoded.MatchInfo)
}
