// Package identity derives the originating client's network identity from
// proxy headers.
//
// The relay sits behind CDN and reverse-proxy layers:
//
//	Browser <--> CDN/proxies <--> Relay <--> Inference Gateway
//
// Only the gateway knows the topology of trusted proxies, so only it can
// decide which hop of a forwarded-for chain is the genuine public address.
// This resolver therefore preserves the entire chain verbatim for
// downstream consumption and picks a single best-effort value solely for
// diagnostics and display.
package identity

import (
	"net/http"
	"strings"
)

// Unknown is the sentinel used when no identity header is present.
// Resolution never fails; it degrades to this value.
const Unknown = "unknown"

// Header names in precedence order (highest first).
const (
	HeaderCFConnectingIP = "cf-connecting-ip"
	HeaderTrueClientIP   = "true-client-ip"
	HeaderXRealIP        = "x-real-ip"
	HeaderXForwardedFor  = "x-forwarded-for"
)

// Identity is the resolved client network identity. Built once per request;
// read-only afterward.
type Identity struct {
	// ResolvedIP is the best-effort single address, never empty.
	ResolvedIP string

	// ForwardedChain is the full x-forwarded-for value, preserved verbatim
	// (including spacing), or empty when the header is absent.
	ForwardedChain string

	// RealIPHint is the best-effort single address for display purposes.
	// For forwarded-for chains this is the first hop only.
	RealIPHint string
}

// Resolve derives an Identity from a header getter. The getter must treat
// keys case-insensitively, as both net/http and fasthttp accessors do.
func Resolve(get func(key string) string) Identity {
	chain := get(HeaderXForwardedFor)

	hint := firstNonEmpty(
		get(HeaderCFConnectingIP),
		get(HeaderTrueClientIP),
		get(HeaderXRealIP),
		firstHop(chain),
	)
	if hint == "" {
		hint = Unknown
	}

	return Identity{
		ResolvedIP:     hint,
		ForwardedChain: chain,
		RealIPHint:     hint,
	}
}

// FromHTTPHeader resolves an Identity from a net/http header set.
func FromHTTPHeader(h http.Header) Identity {
	return Resolve(h.Get)
}

// firstHop returns the first entry of a comma-separated forwarded-for chain.
func firstHop(chain string) string {
	if chain == "" {
		return ""
	}
	hop, _, _ := strings.Cut(chain, ",")
	return strings.TrimSpace(hop)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
