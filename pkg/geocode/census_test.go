package geocode

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCensusLookup_Match(t *testing.T) {
	g := stubWebGeocoder(map[string]http.HandlerFunc{
		censusOneLineURL: jsonBody(censusMatchJSON),
	})

	result, err := g.censusLookup(context.Background(), AddressInput{
		Street: "12 Main St", City: "Springfield", State: "IL", ZipCode: "62701",
	})
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.InDelta(t, 39.7817, result.Latitude, 0.0001)
	assert.InDelta(t, -89.6501, result.Longitude, 0.0001)
	assert.Equal(t, "census", result.Source)
	assert.Equal(t, QualityRooftop, result.Quality)
}

func TestCensusLookup_NoMatch(t *testing.T) {
	g := stubWebGeocoder(map[string]http.HandlerFunc{
		censusOneLineURL: jsonBody(censusNoMatchJSON),
	})

	result, err := g.censusLookup(context.Background(), AddressInput{
		Street: "0 Nowhere Ln", City: "Faketown", State: "XX", ZipCode: "00000",
	})
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, "census", result.Source)
}

func TestCensusBatch_UploadAndResponse(t *testing.T) {
	// The handler checks the multipart upload the way the real endpoint
	// would, then answers with one exact match, one non-exact match, and
	// one miss.
	var uploaded [][]string
	g := stubWebGeocoder(map[string]http.HandlerFunc{
		censusBatchURL: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, censusBenchmark, r.FormValue("benchmark"))

			file, _, err := r.FormFile("addressFile")
			require.NoError(t, err)
			defer file.Close() //nolint:errcheck
			uploaded, err = csv.NewReader(file).ReadAll()
			require.NoError(t, err)

			_, _ = io.WriteString(w, strings.Join([]string{
				`"a","12 Main St, Springfield, IL, 62701","Match","Exact","12 MAIN ST","-89.6501,39.7817","606","L"`,
				`"b","99 Elm St, Springfield, IL","Match","Non_Exact","99 ELM ST","-89.6402,39.7790","607","R"`,
				`"c","0 Nowhere Ln, Faketown, XX","No_Match"`,
			}, "\n"))
		},
	})

	results, err := g.censusBatch(context.Background(), []AddressInput{
		{ID: "a", Street: "12 Main St", City: "Springfield", State: "IL", ZipCode: "62701"},
		{ID: "b", Street: "99 Elm St", City: "Springfield", State: "IL"},
		{ID: "c", Street: "0 Nowhere Ln", City: "Faketown", State: "XX"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Len(t, uploaded, 3)
	assert.Equal(t, []string{"a", "12 Main St", "Springfield", "IL", "62701"}, uploaded[0])

	assert.True(t, results[0].Matched)
	assert.Equal(t, QualityRooftop, results[0].Quality)
	assert.InDelta(t, 39.7817, results[0].Latitude, 0.0001)
	assert.InDelta(t, -89.6501, results[0].Longitude, 0.0001)

	assert.True(t, results[1].Matched)
	assert.Equal(t, QualityRange, results[1].Quality)

	assert.False(t, results[2].Matched)
}

func TestParseCensusBatch_MalformedCoordinates(t *testing.T) {
	body := strings.NewReader(`"0","in","Match","Exact","out","not-a-pair","1","L"
"1","in","Match","Non_Exact","out","-73.9857,40.7484","2","R"`)

	results, err := parseCensusBatch(body, map[string]int{"0": 0, "1": 1}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Matched, "row with a bad coordinate field is a miss")
	assert.True(t, results[1].Matched)
	assert.InDelta(t, 40.7484, results[1].Latitude, 0.0001)
}

func TestParseCensusBatch_IgnoresUnknownIDs(t *testing.T) {
	body := strings.NewReader(`"stray","in","Match","Exact","out","-89.65,39.78","1","L"`)

	results, err := parseCensusBatch(body, map[string]int{"0": 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Matched)
}

func TestOneLineAddress(t *testing.T) {
	tests := []struct {
		addr AddressInput
		want string
	}{
		{AddressInput{Street: "12 Main St", City: "Springfield", State: "IL", ZipCode: "62701"}, "12 Main St, Springfield, IL, 62701"},
		{AddressInput{Street: "456 Oak Ave", City: "Portland", State: "OR"}, "456 Oak Ave, Portland, OR"},
		{AddressInput{City: "Denver", State: " CO ", ZipCode: "80202"}, "Denver, CO, 80202"},
		{AddressInput{}, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, oneLineAddress(tt.addr))
	}
}
