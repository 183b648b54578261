package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

type googleGeocodeResponse struct {
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
	} `json:"results"`
	Status string `json:"status"`
}

// googleLookup resolves one address through the Google Geocoding API. Only
// called when a key is configured and Census came up empty.
func (g *webGeocoder) googleLookup(ctx context.Context, addr AddressInput) (*Result, error) {
	if g.googleKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	params := url.Values{
		"address": {oneLineAddress(addr)},
		"key":     {g.googleKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleGeocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: google returned status %d", resp.StatusCode)
	}

	var decoded googleGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	// ZERO_RESULTS and error statuses both come back as unmatched; the
	// cascade treats them the same either way.
	if decoded.Status != "OK" || len(decoded.Results) == 0 {
		return &Result{Matched: false, Source: "google"}, nil
	}

	top := decoded.Results[0]
	return &Result{
		Latitude:  top.Geometry.Location.Lat,
		Longitude: top.Geometry.Location.Lng,
		Source:    "google",
		Quality:   qualityFromLocationType(top.Geometry.LocationType),
		Matched:   true,
	}, nil
}

// qualityFromLocationType maps Google's location_type onto the shared
// quality scale.
func qualityFromLocationType(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return QualityRooftop
	case "RANGE_INTERPOLATED":
		return QualityRange
	case "GEOMETRIC_CENTER":
		return QualityCentroid
	default:
		return QualityApproximate
	}
}
