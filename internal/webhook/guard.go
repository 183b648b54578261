package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// GuardStore persists webhook events; creation reports whether the
// idempotency key was new. Uniqueness is enforced by the storage layer, so
// concurrent admits for the same key have exactly one winner.
type GuardStore interface {
	CreateWebhookEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error)
}

// JobEnqueuer schedules the downstream processing job for an admitted event.
type JobEnqueuer interface {
	EnqueueJob(ctx context.Context, job *model.Job) error
}

// Admission is the outcome of one delivery attempt.
type Admission struct {
	Admitted bool
	Event    *model.WebhookEvent
}

// Guard deduplicates webhook deliveries by idempotency key.
type Guard struct {
	store GuardStore
	jobs  JobEnqueuer
}

func NewGuard(store GuardStore, jobs JobEnqueuer) *Guard {
	return &Guard{store: store, jobs: jobs}
}

// Admit records the delivery if it's the first with its key, and enqueues
// exactly one processing job for it. A duplicate delivery is a successful
// no-op: Admitted is false and nothing is enqueued.
func (g *Guard) Admit(ctx context.Context, source, externalID string, payload json.RawMessage) (*Admission, error) {
	if source == "" {
		return nil, eris.New("webhook: source is required")
	}

	key := source + ":" + externalID
	if externalID == "" {
		// Hash-keyed events are weaker: two distinct deliveries with an
		// identical payload collide.
		sum := sha256.Sum256(payload)
		key = source + ":hash:" + hex.EncodeToString(sum[:])
		zap.L().Warn("webhook delivery without external id, keying on payload hash",
			zap.String("source", source),
		)
	}

	ev := &model.WebhookEvent{
		Source:         source,
		ExternalID:     externalID,
		IdempotencyKey: key,
		Payload:        payload,
	}
	created, err := g.store.CreateWebhookEvent(ctx, ev)
	if err != nil {
		return nil, eris.Wrap(err, "webhook: create event")
	}
	if !created {
		zap.L().Debug("duplicate webhook delivery rejected",
			zap.String("source", source),
			zap.String("idempotency_key", key),
		)
		return &Admission{Admitted: false}, nil
	}

	args, err := json.Marshal(model.WebhookEventArgs{EventID: ev.ID})
	if err != nil {
		return nil, eris.Wrap(err, "webhook: marshal job args")
	}
	job := &model.Job{Type: model.JobWebhookEvent, Args: args}
	if err := g.jobs.EnqueueJob(ctx, job); err != nil {
		return nil, eris.Wrapf(err, "webhook: enqueue job for event %s", ev.ID)
	}

	zap.L().Info("webhook admitted",
		zap.String("source", source),
		zap.String("event_id", ev.ID),
		zap.String("job_id", job.ID),
	)
	return &Admission{Admitted: true, Event: ev}, nil
}
