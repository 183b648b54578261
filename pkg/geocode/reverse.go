package geocode

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/db"
)

// ReverseResult is a street address recovered from coordinates.
type ReverseResult struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	ZipCode    string `json:"zip_code"`
	CountyFIPS string `json:"county_fips"`
	Rating     int    `json:"rating"`
}

// ReverseGeocode recovers the nearest street address for a coordinate pair
// from the local PostGIS TIGER instance. Contacts that arrive with device
// coordinates but no mailing address go through here before enrichment.
func ReverseGeocode(ctx context.Context, pool db.Pool, lat, lng float64) (*ReverseResult, error) {
	var street, city, state, zip, countyFIPS sql.NullString
	var rating int

	// reverse_geocode takes a point, so lng is x and lat is y.
	err := pool.QueryRow(ctx, `
		SELECT
			pprint_addy(addy),
			(addy).location,
			(addy).stateusps,
			(addy).zip,
			(addy).statefp || (addy).countyfp,
			rating
		FROM reverse_geocode(ST_SetSRID(ST_MakePoint($1, $2), 4326), 1)`,
		lng, lat,
	).Scan(&street, &city, &state, &zip, &countyFIPS, &rating)
	if err != nil {
		zap.L().Debug("reverse geocode miss",
			zap.Float64("lat", lat),
			zap.Float64("lng", lng),
			zap.Error(err),
		)
		return nil, eris.Wrap(err, "geocode: reverse geocode")
	}

	return &ReverseResult{
		Street:     street.String,
		City:       city.String,
		State:      state.String,
		ZipCode:    zip.String,
		CountyFIPS: countyFIPS.String,
		Rating:     rating,
	}, nil
}
