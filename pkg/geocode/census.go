package geocode

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBatchURL   = "https://geocoding.geo.census.gov/geocoder/locations/addressbatch"
	censusBenchmark  = "Public_AR_Current"
)

type censusLookupResponse struct {
	Result struct {
		AddressMatches []censusMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress string `json:"matchedAddress"`
}

// censusLookup resolves one address through the Census one-line endpoint.
func (g *webGeocoder) censusLookup(ctx context.Context, addr AddressInput) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: census rate limit")
	}

	params := url.Values{
		"address":   {oneLineAddress(addr)},
		"benchmark": {censusBenchmark},
		"format":    {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, censusOneLineURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: census returned status %d", resp.StatusCode)
	}

	var lookup censusLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return nil, eris.Wrap(err, "geocode: census parse response")
	}

	if len(lookup.Result.AddressMatches) == 0 {
		return &Result{Matched: false, Source: "census"}, nil
	}

	// One-line matches carry no exactness flag; Census only returns them
	// when the address resolved to a specific structure.
	m := lookup.Result.AddressMatches[0]
	return &Result{
		Latitude:  m.Coordinates.Y,
		Longitude: m.Coordinates.X,
		Source:    "census",
		Quality:   QualityRooftop,
		Matched:   true,
	}, nil
}

// censusBatch resolves up to 10,000 addresses through the Census batch
// endpoint. The upload is a CSV of id,street,city,state,zip rows wrapped in
// a multipart form.
func (g *webGeocoder) censusBatch(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch rate limit")
	}

	var upload bytes.Buffer
	w := csv.NewWriter(&upload)
	rowForID := make(map[string]int, len(addrs))
	for i, addr := range addrs {
		id := addr.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		rowForID[id] = i
		if err := w.Write([]string{id, addr.Street, addr.City, addr.State, addr.ZipCode}); err != nil {
			return nil, eris.Wrap(err, "geocode: census batch encode address")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch encode upload")
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	if err := mw.WriteField("benchmark", censusBenchmark); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch write benchmark")
	}
	part, err := mw.CreateFormFile("addressFile", "addresses.csv")
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch create form file")
	}
	if _, err := part.Write(upload.Bytes()); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch write upload")
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "geocode: census batch close form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, censusBatchURL, &form)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census batch request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: census batch returned status %d", resp.StatusCode)
	}

	return parseCensusBatch(resp.Body, rowForID, len(addrs))
}

// parseCensusBatch reads the batch response CSV. Each row is
// id, input address, match flag, exactness, matched address, "lon,lat",
// tigerline id, side; unmatched rows omit the trailing fields.
func parseCensusBatch(body io.Reader, rowForID map[string]int, total int) ([]Result, error) {
	results := make([]Result, total)

	r := csv.NewReader(body)
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "geocode: census batch parse response")
		}
		if len(row) < 3 {
			continue
		}

		idx, ok := rowForID[row[0]]
		if !ok {
			continue
		}
		if !strings.EqualFold(row[2], "Match") || len(row) < 6 {
			results[idx] = Result{Matched: false, Source: "census"}
			continue
		}

		lon, lat, coordErr := splitCoordPair(row[5])
		if coordErr != nil {
			results[idx] = Result{Matched: false, Source: "census"}
			continue
		}

		results[idx] = Result{
			Latitude:  lat,
			Longitude: lon,
			Source:    "census",
			Quality:   batchExactnessQuality(row[3]),
			Matched:   true,
		}
	}

	return results, nil
}

func batchExactnessQuality(exactness string) string {
	if strings.EqualFold(strings.TrimSpace(exactness), "exact") {
		return QualityRooftop
	}
	return QualityRange
}

// splitCoordPair parses the "lon,lat" coordinate field of a batch row.
func splitCoordPair(coords string) (lon, lat float64, err error) {
	parts := strings.SplitN(coords, ",", 2)
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("geocode: malformed coordinate pair %q", coords)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse longitude")
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse latitude")
	}
	return lon, lat, nil
}

// oneLineAddress joins the populated address parts for the single-address
// endpoints.
func oneLineAddress(addr AddressInput) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{addr.Street, addr.City, addr.State, addr.ZipCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
