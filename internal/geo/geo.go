// Package geo resolves request IP addresses to ISO 3166-1 alpha-2 country
// codes and normalises country identifiers written in rules.
package geo

import (
	"net"
	"strings"

	"github.com/biter777/countries"
	"github.com/cockroachdb/errors"
	"github.com/oschwald/geoip2-golang"
)

// ErrInvalidIP indicates an address that does not parse.
var ErrInvalidIP = errors.New("invalid ip address")

// NormalizeCountry converts a country identifier (alpha-2, alpha-3 or English
// name) to its alpha-2 code. Subdivision codes such as "US-NY" resolve to
// their country. Unrecognised input is returned upper-cased so equality still
// works for codes the table does not know.
func NormalizeCountry(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	if c := countries.ByName(input); c != countries.Unknown {
		return c.Alpha2()
	}

	if prefix, _, ok := strings.Cut(input, "-"); ok && len(prefix) >= 2 && len(prefix) <= 3 {
		if c := countries.ByName(prefix); c != countries.Unknown {
			return c.Alpha2()
		}
	}

	return strings.ToUpper(input)
}

// Locator looks up countries in a MaxMind GeoIP2/GeoLite2 country database.
type Locator struct {
	reader *geoip2.Reader
}

// Open loads the database at path.
func Open(path string) (*Locator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open geoip database %s", path)
	}
	return &Locator{reader: reader}, nil
}

// Country returns the alpha-2 code for ip, or "" when the database has no record.
func (l *Locator) Country(ip string) (string, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", errors.Wrapf(ErrInvalidIP, "%q", ip)
	}
	record, err := l.reader.Country(parsed)
	if err != nil {
		return "", errors.Wrap(err, "geoip lookup")
	}
	return record.Country.IsoCode, nil
}

// Close releases the database.
func (l *Locator) Close() error {
	return l.reader.Close()
}
