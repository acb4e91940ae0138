package capabilities

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrOpaqueOrigin is returned for URLs that do not have a tuple origin.
	ErrOpaqueOrigin = errors.New("url has an opaque origin")
)

// Origin is a normalized scheme://host[:port] tuple. The zero value is invalid.
type Origin struct {
	scheme string
	host   string
	port   string
}

// hostProfile is the lookup mapping without STD3 rules, so hosts such as
// "my_shop.example" keep a tuple origin the way browsers give them one.
var hostProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// ParseOrigin extracts the origin of an absolute http(s) URL.
func ParseOrigin(raw string) (Origin, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Origin{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[scheme]; !ok || u.Host == "" {
		return Origin{}, fmt.Errorf("%w: %q", ErrOpaqueOrigin, raw)
	}

	host := u.Hostname()
	if host == "" {
		return Origin{}, fmt.Errorf("%w: %q", ErrOpaqueOrigin, raw)
	}
	// IP literals are left alone; names are folded to their ASCII form.
	if net.ParseIP(host) == nil {
		ascii, err := hostProfile.ToASCII(host)
		if err != nil {
			return Origin{}, fmt.Errorf("invalid host %q: %w", host, err)
		}
		host = ascii
	}
	host = strings.ToLower(host)

	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}

	return Origin{scheme: scheme, host: host, port: port}, nil
}

// MustParseOrigin is like ParseOrigin but panics on error. Intended for tests and constants.
func MustParseOrigin(raw string) Origin {
	o, err := ParseOrigin(raw)
	if err != nil {
		panic(err)
	}
	return o
}

// IsZero reports whether o is the zero Origin.
func (o Origin) IsZero() bool {
	return o.scheme == ""
}

// String serializes the origin without a trailing slash.
func (o Origin) String() string {
	if o.IsZero() {
		return ""
	}
	hostport := o.host
	if strings.Contains(hostport, ":") {
		// IPv6 literal
		hostport = "[" + hostport + "]"
	}
	if o.port != "" {
		hostport += ":" + o.port
	}
	return o.scheme + "://" + hostport
}

// URL returns the origin serialized as a URL, which always carries a trailing slash.
func (o Origin) URL() string {
	if o.IsZero() {
		return ""
	}
	return o.String() + "/"
}
