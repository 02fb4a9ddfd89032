package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

// zoneEntry is one sensitive zone in the zones YAML file:
//
//	zones:
//	  - name: airport
//	    lat: 52.1657
//	    lng: 20.9671
//	    radius_km: 3
//	    boost: 0.3
type zoneEntry struct {
	Name     string  `koanf:"name"`
	Lat      float64 `koanf:"lat"`
	Lng      float64 `koanf:"lng"`
	RadiusKm float64 `koanf:"radius_km"`
	Boost    float64 `koanf:"boost"`
}

// LoadZones reads sensitive zones from a YAML file.
func LoadZones(path string) ([]domain.Zone, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: load ZONES_FILE %s: %w", domain.ErrConfiguration, path, err)
	}

	var entries []zoneEntry
	if err := k.UnmarshalWithConf("zones", &entries, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: parse ZONES_FILE %s: %w", domain.ErrConfiguration, path, err)
	}

	zones := make([]domain.Zone, 0, len(entries))
	for i, e := range entries {
		z := domain.Zone{
			Name:     e.Name,
			Center:   geo.Point{Lat: e.Lat, Lng: e.Lng},
			RadiusKm: e.RadiusKm,
			Boost:    e.Boost,
		}
		if z.Name == "" {
			z.Name = fmt.Sprintf("zone-%d", i)
		}
		if !z.Center.Valid() || z.RadiusKm <= 0 || z.Boost < 0 || z.Boost > 1 {
			return nil, fmt.Errorf("%w: ZONES_FILE zone %q needs a valid center, radius_km > 0 and boost in [0,1]", domain.ErrConfiguration, z.Name)
		}
		zones = append(zones, z)
	}
	return zones, nil
}
