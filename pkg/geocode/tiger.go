package geocode

// ratingToQuality maps a TIGER match rating onto the shared quality scale.
// Lower ratings are better: 0 is an exact match.
func ratingToQuality(rating int) string {
	switch {
	case rating < 10:
		return QualityRooftop
	case rating < 20:
		return QualityRange
	case rating < 50:
		return QualityCentroid
	default:
		return QualityApproximate
	}
}
