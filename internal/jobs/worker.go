// Package jobs runs the background queue: polling for due work, dispatching
// contact processing, and rescheduling failures on the retry policy.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/dedupe"
	"github.com/sells-group/contact-enrichment/internal/lifecycle"
	"github.com/sells-group/contact-enrichment/internal/model"
)

// Store is the queue and event persistence the worker needs.
type Store interface {
	DequeueJob(ctx context.Context, now time.Time) (*model.Job, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string, runAt time.Time, lastError string) error
	FailJob(ctx context.Context, id string, lastError string) error

	GetWebhookEvent(ctx context.Context, id string) (*model.WebhookEvent, error)
	SetWebhookStatus(ctx context.Context, id string, status model.WebhookStatus) error
	GetContact(ctx context.Context, id string) (*model.ContactRecord, error)
	CreateContact(ctx context.Context, c *model.ContactRecord) error
}

// Processor drives one contact through enrichment.
type Processor interface {
	Process(ctx context.Context, contactID string, kinds []model.EnrichmentKind, bulk bool) (*lifecycle.Result, error)
}

// Worker polls the queue and executes jobs one at a time per goroutine.
type Worker struct {
	store     Store
	processor Processor
	policy    lifecycle.RetryPolicy
	interval  time.Duration

	nowFn func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithPollInterval overrides the idle poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.interval = d }
}

// WithNow overrides the clock. Tests only.
func WithNow(now func() time.Time) Option {
	return func(w *Worker) { w.nowFn = now }
}

func NewWorker(store Store, processor Processor, policy lifecycle.RetryPolicy, opts ...Option) *Worker {
	w := &Worker{
		store:     store,
		processor: processor,
		policy:    policy,
		interval:  2 * time.Second,
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. Dequeue claims atomically, so
// several Run loops can share one queue.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		worked, err := w.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			zap.L().Error("job run failed", zap.Error(err))
		}
		if worked {
			// Drain the backlog before going back to sleep.
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims and executes at most one due job. Returns whether a job was
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.DequeueJob(ctx, w.nowFn().UTC())
	if err != nil {
		return false, eris.Wrap(err, "dequeue")
	}
	if job == nil {
		return false, nil
	}

	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.Int("attempt", job.Attempts),
	)
	log.Info("job started")

	execErr := w.execute(ctx, job)
	if execErr == nil {
		if err := w.store.CompleteJob(ctx, job.ID); err != nil {
			return true, eris.Wrap(err, "complete job")
		}
		log.Info("job completed")
		return true, nil
	}

	decision := w.policy.Decide(execErr, job.Attempts)
	if !decision.Retry {
		if err := w.store.FailJob(ctx, job.ID, execErr.Error()); err != nil {
			return true, eris.Wrap(err, "fail job")
		}
		log.Error("job failed permanently", zap.Error(execErr))
		return true, nil
	}

	runAt := w.nowFn().UTC().Add(decision.Delay)
	if err := w.store.RetryJob(ctx, job.ID, runAt, execErr.Error()); err != nil {
		return true, eris.Wrap(err, "retry job")
	}
	log.Warn("job rescheduled",
		zap.Time("run_at", runAt),
		zap.Duration("delay", decision.Delay),
		zap.Error(execErr))
	return true, nil
}

func (w *Worker) execute(ctx context.Context, job *model.Job) error {
	switch job.Type {
	case model.JobProcessContact:
		return w.processContact(ctx, job)
	case model.JobWebhookEvent:
		return w.processWebhookEvent(ctx, job)
	default:
		// Unknown types fail permanently; retrying can't fix a bad enqueue.
		return model.NewProviderError("jobs", model.ErrInvalidInput,
			eris.Errorf("unknown job type %q", job.Type))
	}
}

func (w *Worker) processContact(ctx context.Context, job *model.Job) error {
	var args model.ProcessContactArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return model.NewProviderError("jobs", model.ErrInvalidInput, err)
	}
	if args.ContactID == "" {
		return model.NewProviderError("jobs", model.ErrInvalidInput,
			eris.New("process_contact job missing contact_id"))
	}

	res, err := w.processor.Process(ctx, args.ContactID, args.Kinds, args.BulkMode)
	if err != nil {
		return err
	}
	if res.Status == model.StatusFailed && res.RetryableErr != nil {
		// Surface the transient task error so Decide honors RetryAfter.
		return res.RetryableErr
	}
	return nil
}

// processWebhookEvent turns an admitted event into a pending contact and runs
// it through enrichment. The contact reuses the event's ID, so a retried job
// finds the row it created on the previous attempt instead of minting a new
// one; the event is only marked processed after the contact pass finishes.
func (w *Worker) processWebhookEvent(ctx context.Context, job *model.Job) error {
	var args model.WebhookEventArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return model.NewProviderError("jobs", model.ErrInvalidInput, err)
	}

	ev, err := w.store.GetWebhookEvent(ctx, args.EventID)
	if err != nil {
		return eris.Wrap(err, "load webhook event")
	}
	if ev == nil {
		return model.NewProviderError("jobs", model.ErrNotFound,
			eris.Errorf("webhook event %s not found", args.EventID))
	}
	if ev.Status == model.WebhookProcessed {
		return nil
	}

	existing, err := w.store.GetContact(ctx, ev.ID)
	if err != nil {
		return eris.Wrap(err, "look up contact for event")
	}
	if existing == nil {
		contact, cerr := ContactFromEvent(ev)
		if cerr != nil {
			if ferr := w.store.SetWebhookStatus(ctx, ev.ID, model.WebhookFailed); ferr != nil {
				zap.L().Error("mark webhook failed", zap.String("event_id", ev.ID), zap.Error(ferr))
			}
			return model.NewProviderError("jobs", model.ErrInvalidInput, cerr)
		}
		contact.ID = ev.ID
		if err := w.store.CreateContact(ctx, contact); err != nil {
			return eris.Wrap(err, "create contact from event")
		}
	}

	if _, err := w.processor.Process(ctx, ev.ID, nil, false); err != nil {
		if ferr := w.store.SetWebhookStatus(ctx, ev.ID, model.WebhookFailed); ferr != nil {
			zap.L().Error("mark webhook failed", zap.String("event_id", ev.ID), zap.Error(ferr))
		}
		return err
	}
	return w.store.SetWebhookStatus(ctx, ev.ID, model.WebhookProcessed)
}

// eventPayload covers the field spellings inbound sources use.
type eventPayload struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Name         string `json:"name"`
	BusinessName string `json:"business_name"`
	Company      string `json:"company"`
	Phone        string `json:"phone"`
	PhoneNumber  string `json:"phone_number"`
	Email        string `json:"email"`
	Street       string `json:"street"`
	Address      string `json:"address"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
	Zip          string `json:"zip"`
}

// ContactFromEvent maps an event payload onto a new pending contact.
func ContactFromEvent(ev *model.WebhookEvent) (*model.ContactRecord, error) {
	var p eventPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, eris.Wrap(err, "decode event payload")
	}

	c := &model.ContactRecord{
		Kind:      model.KindPerson,
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
		Phone:     firstNonEmpty(p.Phone, p.PhoneNumber),
		Email:     strings.TrimSpace(p.Email),
		Street:    firstNonEmpty(p.Street, p.Address),
		City:      strings.TrimSpace(p.City),
		State:     strings.TrimSpace(p.State),
		ZipCode:   firstNonEmpty(p.ZipCode, p.Zip),
	}
	if c.FirstName == "" && c.LastName == "" && p.Name != "" {
		first, last, _ := strings.Cut(strings.TrimSpace(p.Name), " ")
		c.FirstName, c.LastName = first, strings.TrimSpace(last)
	}
	c.BusinessName = firstNonEmpty(p.BusinessName, p.Company)
	if c.BusinessName != "" && c.FirstName == "" && c.LastName == "" {
		c.Kind = model.KindBusiness
	}

	if c.Phone == "" && c.Email == "" {
		return nil, eris.New("event payload has neither phone nor email")
	}

	dedupe.ApplyFingerprints(c)
	c.QualityScore = dedupe.QualityScore(c)
	return c, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
