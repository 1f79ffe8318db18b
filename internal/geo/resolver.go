package geo

import (
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/webpulse/webpulse/internal/model"
)

// Resolver looks up coarse location data for client IPs. The underlying
// database is optional; a resolver without one answers every lookup
// with nil.
type Resolver struct {
	db *geoip2.Reader
}

// NewResolver opens the GeoIP database at path. An empty path or an
// unreadable database yields a resolver that resolves nothing.
func NewResolver(path string) *Resolver {
	if path == "" {
		return &Resolver{}
	}
	db, err := geoip2.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("GeoIP database unavailable")
		return &Resolver{}
	}
	return &Resolver{db: db}
}

// Lookup resolves an IP to country, city and coordinates. Coordinates
// are kept at the 8-decimal scale they are persisted at.
func (r *Resolver) Lookup(ip string) *model.Geo {
	if r == nil || r.db == nil || ip == "" {
		return nil
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil
	}

	record, err := r.db.City(parsed)
	if err != nil {
		return nil
	}

	g := &model.Geo{}
	if record.Country.IsoCode != "" {
		country := record.Country.IsoCode
		g.Country = &country
	}
	if name, ok := record.City.Names["en"]; ok && name != "" {
		city := name
		g.City = &city
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat := decimal.NewFromFloat(record.Location.Latitude).Round(8)
		lon := decimal.NewFromFloat(record.Location.Longitude).Round(8)
		g.Latitude = &lat
		g.Longitude = &lon
	}
	if g.Country == nil && g.City == nil && g.Latitude == nil {
		return nil
	}
	return g
}

// Close releases the database handle.
func (r *Resolver) Close() {
	if r.db != nil {
		r.db.Close()
	}
}
