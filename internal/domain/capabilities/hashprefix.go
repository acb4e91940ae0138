package capabilities

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidHashPrefixLength is returned when a prefix length is outside [1, 64].
var ErrInvalidHashPrefixLength = errors.New("hash prefix length must be between 1 and 64")

// HashPrefix returns the top length bits of the 64-bit hash of the origin URL.
// Only this prefix is sent to the capabilities service, so the server cannot
// tell which of the origins sharing a prefix was looked up.
func HashPrefix(origin Origin, length uint32) (uint64, error) {
	if length < 1 || length > 64 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidHashPrefixLength, length)
	}
	normalized := strings.TrimSuffix(origin.URL(), "/")
	return xxhash.Sum64String(normalized) >> (64 - length), nil
}
