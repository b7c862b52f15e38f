// Package geo resolves a client address to an approximate location.
// Lookups never fail: unknown or unreachable addresses resolve to Unknown.
package geo

import (
	"context"
	"net"
	"strings"
)

// Location is the resolved place for an address. Region and City may be empty.
type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

var (
	// Local is returned for empty and loopback addresses.
	Local = Location{Country: "Local"}
	// Unknown is returned when a lookup fails.
	Unknown = Location{Country: "Unknown"}
)

// Locator resolves addresses.
type Locator interface {
	Locate(ctx context.Context, addr string) Location
}

// IsLocal reports whether addr should skip lookup entirely.
func IsLocal(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// None resolves every non-local address to Unknown.
type None struct{}

func (None) Locate(_ context.Context, addr string) Location {
	if IsLocal(addr) {
		return Local
	}
	return Unknown
}

// Static resolves every non-local address to the same location.
type Static Location

func (s Static) Locate(_ context.Context, addr string) Location {
	if IsLocal(addr) {
		return Local
	}
	return Location(s)
}
