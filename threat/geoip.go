package threat

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// ErrLookupDisabled is returned by a lookup whose database is not configured
var ErrLookupDisabled = errors.New("lookup not configured")

// GeoLookup resolves geo and network ownership data for an address
type GeoLookup interface {
	City(ip net.IP) (GeoResult, error)
	ASN(ip net.IP) (ASNResult, error)
}

// GeoResult is the city-level answer for an address
type GeoResult struct {
	Country   string
	City      string
	Latitude  *float64
	Longitude *float64
}

// ASNResult is the autonomous system owning an address
type ASNResult struct {
	ASN string
	Org string
}

// GeoIPDatabase reads MaxMind GeoLite2/GeoIP2 City and ASN databases. Either
// database may be absent.
type GeoIPDatabase struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// OpenGeoIPDatabase opens the configured databases. Empty paths are skipped.
func OpenGeoIPDatabase(cityPath, asnPath string, logger *zap.SugaredLogger) (*GeoIPDatabase, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	db := &GeoIPDatabase{}
	if cityPath != "" {
		r, err := geoip2.Open(cityPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open GeoIP city database %s: %w", cityPath, err)
		}
		db.city = r
		logger.Infow("GeoIP city database loaded", "path", cityPath)
	}
	if asnPath != "" {
		r, err := geoip2.Open(asnPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open GeoIP ASN database %s: %w", asnPath, err)
		}
		db.asn = r
		logger.Infow("GeoIP ASN database loaded", "path", asnPath)
	}
	return db, nil
}

// City looks up country ISO code, English city name and coordinates
func (g *GeoIPDatabase) City(ip net.IP) (GeoResult, error) {
	if g.city == nil {
		return GeoResult{}, ErrLookupDisabled
	}
	rec, err := g.city.City(ip)
	if err != nil {
		return GeoResult{}, err
	}

	res := GeoResult{
		Country: rec.Country.IsoCode,
		City:    rec.City.Names["en"],
	}
	if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
		lat, lon := rec.Location.Latitude, rec.Location.Longitude
		res.Latitude = &lat
		res.Longitude = &lon
	}
	return res, nil
}

// ASN looks up the autonomous system number and organization
func (g *GeoIPDatabase) ASN(ip net.IP) (ASNResult, error) {
	if g.asn == nil {
		return ASNResult{}, ErrLookupDisabled
	}
	rec, err := g.asn.ASN(ip)
	if err != nil {
		return ASNResult{}, err
	}
	if rec.AutonomousSystemNumber == 0 {
		return ASNResult{}, nil
	}
	return ASNResult{
		ASN: "AS" + strconv.FormatUint(uint64(rec.AutonomousSystemNumber), 10),
		Org: rec.AutonomousSystemOrganization,
	}, nil
}

// Close releases both readers
func (g *GeoIPDatabase) Close() error {
	var errs []error
	if g.city != nil {
		errs = append(errs, g.city.Close())
	}
	if g.asn != nil {
		errs = append(errs, g.asn.Close())
	}
	return errors.Join(errs...)
}
