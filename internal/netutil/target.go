// Package netutil provides target host normalization helpers shared by the
// connection pool and its statistics.
package netutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// CanonicalHost normalizes a target string that may be a URL, host:port,
// bracketed IPv6, etc. down to a bare lowercase host. Connection pool keys
// are derived from this form so "https://api.example.com/v1" and
// "api.example.com:443" share one pooled handle.
func CanonicalHost(target string) string {
	if strings.Contains(target, "://") || strings.HasPrefix(target, "//") {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			target = u.Host
		}
	}

	host := target
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	return strings.ToLower(strings.TrimSpace(host))
}

// BaseDomain extracts the effective top-level-domain-plus-one (eTLD+1) of a
// target, used to aggregate pool statistics across hosts of one upstream.
//
// Examples:
//
//	"api.eu.example.co.uk:443" -> "example.co.uk"
//	"192.168.1.1:8080"         -> "192.168.1.1"
//	"localhost"                -> "localhost"
func BaseDomain(target string) string {
	host := CanonicalHost(target)

	// Returns an error for IP addresses, localhost, and bare TLDs.
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}
