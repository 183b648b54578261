package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatingToQuality(t *testing.T) {
	tests := []struct {
		rating  int
		quality string
	}{
		{0, "rooftop"},
		{5, "rooftop"},
		{9, "rooftop"},
		{10, "range"},
		{15, "range"},
		{19, "range"},
		{20, "centroid"},
		{49, "centroid"},
		{50, "approximate"},
		{100, "approximate"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.quality, ratingToQuality(tt.rating), "rating %d", tt.rating)
	}
}
