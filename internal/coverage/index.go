// Package coverage answers whether a geocoded contact sits inside a service
// area. Areas come from a standard shapefile and are held in memory; lookups
// are bounding-box filtered before the exact ring test.
package coverage

import (
	"strings"
	"sync"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Area is one named service polygon.
type Area struct {
	Code string `json:"code"`
	Name string `json:"name"`

	polygon *geom.MultiPolygon
	bounds  *geom.Bounds
}

// Index holds the loaded service areas. Safe for concurrent lookups.
type Index struct {
	mu    sync.RWMutex
	areas []Area
}

func NewIndex() *Index {
	return &Index{}
}

// Add registers one area. Nil or empty polygons are ignored.
func (idx *Index) Add(code, name string, mp *geom.MultiPolygon) {
	if mp == nil || mp.NumPolygons() == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.areas = append(idx.areas, Area{
		Code:    code,
		Name:    name,
		polygon: mp,
		bounds:  mp.Bounds(),
	})
}

// Len returns the number of loaded areas.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.areas)
}

// Locate returns every area containing the point, in load order.
func (idx *Index) Locate(lat, lng float64) []Area {
	point := geom.Coord{lng, lat}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var hits []Area
	for _, a := range idx.areas {
		if !a.bounds.OverlapsPoint(geom.XY, point) {
			continue
		}
		if multiPolygonContains(a.polygon, point) {
			hits = append(hits, Area{Code: a.Code, Name: a.Name})
		}
	}
	return hits
}

// LoadShapefile reads every polygon record from the shapefile at path,
// taking the area code and display name from the named attribute fields.
func (idx *Index) LoadShapefile(path, codeField, nameField string) error {
	reader, err := shp.Open(path)
	if err != nil {
		return eris.Wrapf(err, "coverage: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	codeIdx := fieldIndex(reader, codeField)
	nameIdx := fieldIndex(reader, nameField)
	if codeIdx < 0 {
		return eris.Errorf("coverage: shapefile field %q not found", codeField)
	}

	log := zap.L().With(zap.String("component", "coverage.index"), zap.String("path", path))

	var loaded, skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}

		code := strings.TrimSpace(reader.Attribute(codeIdx))
		if code == "" {
			skipped++
			continue
		}
		name := code
		if nameIdx >= 0 {
			if n := strings.TrimSpace(reader.Attribute(nameIdx)); n != "" {
				name = n
			}
		}

		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}
		idx.Add(code, name, mp)
		loaded++
	}

	log.Info("service areas loaded", zap.Int("areas", loaded), zap.Int("skipped", skipped))
	if loaded == 0 {
		return eris.Errorf("coverage: no polygon records in %s", path)
	}
	return nil
}

func multiPolygonContains(mp *geom.MultiPolygon, point geom.Coord) bool {
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}
		if !xy.IsPointInRing(geom.XY, point, poly.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for r := 1; r < poly.NumLinearRings(); r++ {
			if xy.IsPointInRing(geom.XY, point, poly.LinearRing(r).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon,
// one polygon per part.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("coverage: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("coverage: skipping malformed part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
