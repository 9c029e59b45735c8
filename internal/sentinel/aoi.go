package sentinel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// LoadAOI reads an area of interest from a GeoJSON file holding a
// FeatureCollection, a Feature or a bare geometry. Multiple features are
// merged into a single collection.
func LoadAOI(path string) (orb.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read AOI: %w", err)
	}
	return ParseAOI(data)
}

func ParseAOI(data []byte) (orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse GeoJSON: %w", err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse feature collection: %w", err)
		}
		return mergeFeatures(fc.Features)
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse feature: %w", err)
		}
		return f.Geometry, nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse geometry: %w", err)
		}
		return g.Geometry(), nil
	}
}

func mergeFeatures(features []*geojson.Feature) (orb.Geometry, error) {
	if len(features) == 0 {
		return nil, errors.New("feature collection is empty")
	}
	if len(features) == 1 {
		return features[0].Geometry, nil
	}
	var polygons orb.MultiPolygon
	var collection orb.Collection
	for _, f := range features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			polygons = append(polygons, g)
		case orb.MultiPolygon:
			polygons = append(polygons, g...)
		default:
			collection = append(collection, g)
		}
	}
	if len(collection) == 0 {
		return polygons, nil
	}
	if len(polygons) > 0 {
		collection = append(collection, polygons)
	}
	return collection, nil
}

// ToWKT renders geom as WKT for catalogue queries.
func ToWKT(geom orb.Geometry) string {
	return wkt.MarshalString(geom)
}

// FeatureGeometry returns the geometry of the first feature in the GeoJSON
// file whose property equals value.
func FeatureGeometry(path, property, value string) (orb.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read GeoJSON: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feature collection: %w", err)
	}
	for _, f := range fc.Features {
		v, ok := f.Properties[property]
		if !ok {
			continue
		}
		if fmt.Sprint(v) == value {
			return f.Geometry, nil
		}
	}
	return nil, fmt.Errorf("geometry not found for %s=%s in %s", property, value, path)
}

// Centroid returns the latitude and longitude of the centroid of geom.
func Centroid(geom orb.Geometry) (float64, float64, error) {
	centroid, area := planar.CentroidArea(geom)
	if area <= 0 {
		if p, ok := geom.(orb.Point); ok {
			return p.Lat(), p.Lon(), nil
		}
		return 0, 0, errors.New("error getting centroid")
	}
	return centroid.Lat(), centroid.Lon(), nil
}
