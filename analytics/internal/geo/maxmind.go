package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
)

// MaxMind resolves addresses from a local GeoLite2/GeoIP2 City database.
type MaxMind struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the database at path.
func OpenMaxMind(path string) (*MaxMind, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database: %w", err)
	}
	return &MaxMind{reader: r}, nil
}

func (m *MaxMind) Locate(_ context.Context, addr string) Location {
	if IsLocal(addr) {
		return Local
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		metrics.GeoFailures.Inc()
		return Unknown
	}
	rec, err := m.reader.City(ip)
	if err != nil || rec.Country.Names["en"] == "" {
		metrics.GeoFailures.Inc()
		return Unknown
	}

	loc := Location{
		Country: rec.Country.Names["en"],
		City:    rec.City.Names["en"],
	}
	if len(rec.Subdivisions) > 0 {
		loc.Region = rec.Subdivisions[0].Names["en"]
	}
	return loc
}

func (m *MaxMind) Close() error {
	return m.reader.Close()
}
