package geocode

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"golang.org/x/time/rate"
)

// stubTransport serves canned handlers keyed by endpoint URL prefix, so the
// web geocoder tests stay in-process instead of hitting the real services.
type stubTransport struct {
	routes map[string]http.HandlerFunc
}

func (st *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target := req.URL.String()
	for prefix, handle := range st.routes {
		if strings.HasPrefix(target, prefix) {
			rec := httptest.NewRecorder()
			handle(rec, req)
			resp := rec.Result()
			resp.Request = req
			return resp, nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusBadGateway,
		Body:       http.NoBody,
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// stubWebGeocoder builds a webGeocoder with stubbed endpoints and no rate
// limit. The Google key is set whenever a Google route is registered.
func stubWebGeocoder(routes map[string]http.HandlerFunc) *webGeocoder {
	g := &webGeocoder{
		httpClient: &http.Client{Transport: &stubTransport{routes: routes}},
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	if _, ok := routes[googleGeocodeURL]; ok {
		g.googleKey = "test-key"
	}
	return g
}

func jsonBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func statusOnly(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}
}

const censusNoMatchJSON = `{"result": {"addressMatches": []}}`

const censusMatchJSON = `{
	"result": {
		"addressMatches": [{
			"coordinates": {"x": -89.6501, "y": 39.7817},
			"matchedAddress": "12 MAIN ST, SPRINGFIELD, IL, 62701"
		}]
	}
}`

const googleMatchJSON = `{
	"status": "OK",
	"results": [{
		"geometry": {
			"location": {"lat": 39.7817, "lng": -89.6501},
			"location_type": "ROOFTOP"
		}
	}]
}`
