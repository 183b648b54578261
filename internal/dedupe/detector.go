package dedupe

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// Scoring rubric. Points sum to 100 across the four dimensions; the
// denominator for a pair only counts dimensions where both records have data.
const (
	phonePoints      = 40.0
	fuzzyPhonePoints = 30.0
	emailPoints      = 30.0
	emailDomainPts   = 15.0
	namePoints       = 20.0
	locationPoints   = 10.0

	// fuzzyPhoneFloor gates near-miss phone credit: below this similarity a
	// differing number is treated as a different line, not a typo.
	fuzzyPhoneFloor = 0.8

	// nameSimFloor keeps accidental character overlap between unrelated
	// names from earning partial credit.
	nameSimFloor = 0.5
)

// DefaultThreshold discards candidate pairs scoring below it.
const DefaultThreshold = 80

// AutoMergeThreshold is the confidence bar above which a merge may proceed
// without human review.
const AutoMergeThreshold = 95

// CandidateStore is the slice of the store the detector queries.
type CandidateStore interface {
	FindByExactPhone(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error)
	FindByPhoneSuffix(ctx context.Context, suffix, excludeID string) ([]model.ContactRecord, error)
	FindByExactEmail(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error)
	FindByNameCity(ctx context.Context, fingerprint, city, excludeID string) ([]model.ContactRecord, error)
	FindByName(ctx context.Context, fingerprint, excludeID string) ([]model.ContactRecord, error)
}

// Detector finds likely duplicates of a contact by running independent
// candidate-generation strategies, then scoring each unioned candidate.
type Detector struct {
	store     CandidateStore
	threshold int
}

func NewDetector(store CandidateStore, threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{store: store, threshold: threshold}
}

// FindDuplicates returns scored candidates at or above the threshold, sorted
// by descending confidence. The record's fingerprints must be current.
func (d *Detector) FindDuplicates(ctx context.Context, c *model.ContactRecord) ([]model.DuplicateCandidate, error) {
	candidates := map[string]model.ContactRecord{}

	collect := func(records []model.ContactRecord, err error, strategy string) error {
		if err != nil {
			return eris.Wrapf(err, "dedupe: %s strategy", strategy)
		}
		for _, r := range records {
			if _, seen := candidates[r.ID]; !seen {
				candidates[r.ID] = r
			}
		}
		return nil
	}

	if c.PhoneFingerprint != "" {
		records, err := d.store.FindByExactPhone(ctx, c.PhoneFingerprint, c.ID)
		if err := collect(records, err, "exact phone"); err != nil {
			return nil, err
		}
	}
	if len(c.PhoneFingerprint) == 10 {
		records, err := d.store.FindByPhoneSuffix(ctx, c.PhoneFingerprint[6:], c.ID)
		if err := collect(records, err, "fuzzy phone"); err != nil {
			return nil, err
		}
	}
	if c.EmailFingerprint != "" {
		records, err := d.store.FindByExactEmail(ctx, c.EmailFingerprint, c.ID)
		if err := collect(records, err, "exact email"); err != nil {
			return nil, err
		}
	}
	if c.Kind == model.KindBusiness && c.NameFingerprint != "" && c.City != "" {
		records, err := d.store.FindByNameCity(ctx, c.NameFingerprint, c.City, c.ID)
		if err := collect(records, err, "business identity"); err != nil {
			return nil, err
		}
	}
	if c.NameFingerprint != "" {
		records, err := d.store.FindByName(ctx, c.NameFingerprint, c.ID)
		if err := collect(records, err, "name"); err != nil {
			return nil, err
		}
	}

	var out []model.DuplicateCandidate
	for _, cand := range candidates {
		confidence, reason := ScorePair(c, &cand)
		if confidence < d.threshold {
			continue
		}
		out = append(out, model.DuplicateCandidate{
			ContactID:   c.ID,
			CandidateID: cand.ID,
			Confidence:  confidence,
			Reason:      reason,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].CandidateID < out[j].CandidateID
	})

	if len(out) > 0 {
		zap.L().Debug("duplicate candidates found",
			zap.String("contact_id", c.ID),
			zap.Int("count", len(out)),
			zap.Int("top_confidence", out[0].Confidence),
		)
	}
	return out, nil
}

// ScorePair scores two records 0–100. Achievable points only count dimensions
// where both records carry data, so a pair with no emails is judged on the
// remaining 70 points rather than penalized for the gap.
func ScorePair(a, b *model.ContactRecord) (int, string) {
	achieved := 0.0
	achievable := 0.0
	var reasons []string

	aPhone, bPhone := fingerprintOrCompute(a.PhoneFingerprint, a.Phone, PhoneFingerprint), fingerprintOrCompute(b.PhoneFingerprint, b.Phone, PhoneFingerprint)
	if aPhone != "" && bPhone != "" {
		achievable += phonePoints
		if aPhone == bPhone {
			achieved += phonePoints
			reasons = append(reasons, "exact phone")
		} else if sim := similarity(aPhone, bPhone); sim > fuzzyPhoneFloor {
			achieved += fuzzyPhonePoints * sim
			reasons = append(reasons, "similar phone")
		}
	}

	aEmail, bEmail := fingerprintOrCompute(a.EmailFingerprint, a.Email, EmailFingerprint), fingerprintOrCompute(b.EmailFingerprint, b.Email, EmailFingerprint)
	if aEmail != "" && bEmail != "" {
		achievable += emailPoints
		if aEmail == bEmail {
			achieved += emailPoints
			reasons = append(reasons, "exact email")
		} else if emailDomain(aEmail) == emailDomain(bEmail) && emailDomain(aEmail) != "" {
			achieved += emailDomainPts
			reasons = append(reasons, "same email domain")
		}
	}

	aName, bName := fingerprintOrCompute(a.NameFingerprint, fingerprintName(a), NameFingerprint), fingerprintOrCompute(b.NameFingerprint, fingerprintName(b), NameFingerprint)
	if aName != "" && bName != "" {
		achievable += namePoints
		if sim := similarity(aName, bName); sim >= nameSimFloor {
			achieved += namePoints * sim
			if sim >= 0.9 {
				reasons = append(reasons, "matching name")
			}
		}
	}

	if a.Kind == model.KindBusiness && b.Kind == model.KindBusiness && a.City != "" && b.City != "" {
		achievable += locationPoints
		if strings.EqualFold(a.City, b.City) {
			achieved += locationPoints
			reasons = append(reasons, "same city")
		}
	}

	if achievable == 0 {
		return 0, ""
	}
	confidence := int(math.Round(100 * achieved / achievable))
	if confidence > 100 {
		confidence = 100
	}
	return confidence, strings.Join(reasons, ", ")
}

// similarity is 1 − Levenshtein(a, b)/maxLen.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.Distance(a, b, nil)
	return 1 - float64(dist)/float64(maxLen)
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}

func fingerprintOrCompute(existing, raw string, compute func(string) string) string {
	if existing != "" {
		return existing
	}
	return compute(raw)
}
