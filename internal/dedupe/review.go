package dedupe

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enrichment/internal/breaker"
	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/anthropic"
)

// ReviewService is the breaker service name for the review model calls.
const ReviewService = "claude"

const reviewSystemPrompt = `You are a data steward reviewing potential duplicate contact records.
Given two records, decide whether they describe the same person or business.
Respond with only a JSON object: {"verdict": "merge" | "keep_separate" | "unsure", "rationale": "<one sentence>"}.
Be conservative: when the evidence is thin, answer "unsure".`

// ReviewOpinion is an advisory second opinion on a candidate pair. It never
// authorizes a merge by itself; it annotates the manual-review queue entry.
type ReviewOpinion struct {
	Verdict   string `json:"verdict"`
	Rationale string `json:"rationale"`
}

// Reviewer asks a language model whether two records describe the same entity.
type Reviewer struct {
	client   anthropic.Client
	model    string
	breakers *breaker.Manager
}

func NewReviewer(client anthropic.Client, model string) *Reviewer {
	return &Reviewer{client: client, model: model}
}

// WithBreakers routes the model call through the circuit breaker for
// ReviewService. A sustained model outage then fast-fails reviews instead of
// stalling every dedupe pass on its timeout.
func (r *Reviewer) WithBreakers(m *breaker.Manager) *Reviewer {
	r.breakers = m
	return r
}

// Review returns an opinion on the pair. The scored confidence is included in
// the prompt so the model can weigh how strong the mechanical signal was.
func (r *Reviewer) Review(ctx context.Context, primary, candidate *model.ContactRecord, confidence int) (*ReviewOpinion, error) {
	pair, err := json.MarshalIndent(map[string]any{
		"record_a":          reviewView(primary),
		"record_b":          reviewView(candidate),
		"scored_confidence": confidence,
	}, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: marshal review pair")
	}

	req := anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: 256,
		System:    anthropic.BuildCachedSystemBlocks(reviewSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: string(pair)}},
	}
	resp, err := r.createMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: review request")
	}
	resp.Usage.LogCost(r.model, "duplicate-review")

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	opinion := &ReviewOpinion{}
	raw := extractJSON(text.String())
	if err := json.Unmarshal([]byte(raw), opinion); err != nil {
		return nil, eris.Wrapf(err, "dedupe: parse review response %q", text.String())
	}
	switch opinion.Verdict {
	case "merge", "keep_separate", "unsure":
	default:
		return nil, eris.Errorf("dedupe: unexpected review verdict %q", opinion.Verdict)
	}
	return opinion, nil
}

func (r *Reviewer) createMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if r.breakers == nil {
		return r.client.CreateMessage(ctx, req)
	}
	return breaker.CallVal(ctx, r.breakers, ReviewService,
		func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return r.client.CreateMessage(ctx, req)
		})
}

// reviewView strips internal bookkeeping so the prompt only carries the
// fields a human reviewer would compare.
func reviewView(c *model.ContactRecord) map[string]any {
	return map[string]any{
		"kind":          c.Kind,
		"first_name":    c.FirstName,
		"last_name":     c.LastName,
		"business_name": c.BusinessName,
		"phone":         c.Phone,
		"email":         c.Email,
		"street":        c.Street,
		"city":          c.City,
		"state":         c.State,
		"zip_code":      c.ZipCode,
	}
}

// extractJSON tolerates fenced or prefixed output around the JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
