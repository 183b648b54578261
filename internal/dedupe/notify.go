package dedupe

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/notion"
)

// Notifier surfaces sub-auto-merge candidates to the manual review queue, a
// Notion database the data team works through.
type Notifier struct {
	client     notion.Client
	databaseID string
}

func NewNotifier(client notion.Client, databaseID string) *Notifier {
	return &Notifier{client: client, databaseID: databaseID}
}

// Surface creates one review-queue entry for the candidate pair. The opinion
// is optional; when present its verdict and rationale are attached.
func (n *Notifier) Surface(ctx context.Context, primary *model.ContactRecord, cand model.DuplicateCandidate, opinion *ReviewOpinion) error {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{
				Content: fmt.Sprintf("%s ↔ %s", primary.DisplayName(), cand.CandidateID),
			}}},
		},
		"Primary ID": richText(primary.ID),
		"Candidate ID": richText(cand.CandidateID),
		"Confidence": notionapi.NumberProperty{Number: float64(cand.Confidence)},
		"Match Reason": richText(cand.Reason),
		"Status": notionapi.SelectProperty{Select: notionapi.Option{Name: "Needs Review"}},
	}
	if opinion != nil {
		props["Assistant Verdict"] = notionapi.SelectProperty{Select: notionapi.Option{Name: opinion.Verdict}}
		props["Assistant Rationale"] = richText(opinion.Rationale)
	}

	_, err := n.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{DatabaseID: notionapi.DatabaseID(n.databaseID)},
		Properties: props,
	})
	if err != nil {
		return eris.Wrapf(err, "dedupe: surface candidate %s", cand.CandidateID)
	}

	zap.L().Info("surfaced duplicate candidate for review",
		zap.String("primary_id", primary.ID),
		zap.String("candidate_id", cand.CandidateID),
		zap.Int("confidence", cand.Confidence),
	)
	return nil
}

func richText(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: s}}},
	}
}
