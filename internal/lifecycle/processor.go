package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/dedupe"
	"github.com/sells-group/contact-enrichment/internal/enrich"
	"github.com/sells-group/contact-enrichment/internal/model"
)

// ContactStore is the slice of the store the processor drives.
type ContactStore interface {
	GetContact(ctx context.Context, id string) (*model.ContactRecord, error)
	BeginProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	UpdateContact(ctx context.Context, c *model.ContactRecord) error
}

// Enricher runs the fan-out. Satisfied by *enrich.Coordinator.
type Enricher interface {
	EnrichWithRetry(ctx context.Context, contact model.ContactRecord, kinds []model.EnrichmentKind, maxRetries int) (map[model.EnrichmentKind]enrich.Outcome, error)
}

// BatchEnricher runs the grouped fan-out. Satisfied by *enrich.Coordinator.
type BatchEnricher interface {
	EnrichBatch(ctx context.Context, contacts []model.ContactRecord, kinds []model.EnrichmentKind, groupSize int) []enrich.BatchItem
}

// Deduper runs duplicate detection and disposition after a contact completes.
type Deduper interface {
	Run(ctx context.Context, c *model.ContactRecord) error
}

// CRMSyncer pushes a completed contact to the CRM. Implementations set the
// record's CRM identifier in place.
type CRMSyncer interface {
	SyncContact(ctx context.Context, c *model.ContactRecord) error
}

// Result reports one processing invocation.
type Result struct {
	ContactID string
	// Acquired is false when another worker held the record or it was
	// already completed; the invocation did no external work.
	Acquired bool
	Status   model.ContactStatus
	Tasks    map[model.EnrichmentKind]model.TaskResult
	// RetryableErr is the first transient task error, for the job runner's
	// backoff decision. Nil when the contact completed or failed permanently.
	RetryableErr *model.ProviderError
}

// Processor owns the contact lifecycle: acquire the record, fan out
// enrichment, fold results back in, transition to a terminal state, then run
// the post-completion hooks.
type Processor struct {
	store    ContactStore
	enricher Enricher
	batch    BatchEnricher
	deduper  Deduper
	crm      CRMSyncer
}

func NewProcessor(store ContactStore, enricher Enricher, deduper Deduper, crm CRMSyncer) *Processor {
	return &Processor{store: store, enricher: enricher, deduper: deduper, crm: crm}
}

// WithBatchEnricher enables ProcessBatch. The coordinator passed as the
// Enricher usually serves here too.
func (p *Processor) WithBatchEnricher(be BatchEnricher) *Processor {
	p.batch = be
	return p
}

// Process runs one enrichment pass for the contact. In bulk mode the
// post-completion hooks (dedupe, CRM sync) are skipped; bulk callers run a
// dedupe pass per record later, when the whole file is in.
func (p *Processor) Process(ctx context.Context, contactID string, kinds []model.EnrichmentKind, bulk bool) (*Result, error) {
	log := zap.L().With(zap.String("contact_id", contactID))

	c, err := p.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: load contact %s", contactID)
	}
	if c == nil {
		return nil, eris.Errorf("lifecycle: contact %s not found", contactID)
	}

	// Already done: return without touching any provider.
	if c.Status == model.StatusCompleted {
		log.Debug("contact already completed, skipping")
		return &Result{ContactID: contactID, Status: model.StatusCompleted}, nil
	}

	acquired, err := p.store.BeginProcessing(ctx, contactID)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: acquire contact %s", contactID)
	}
	if !acquired {
		log.Debug("contact held by another worker, skipping")
		return &Result{ContactID: contactID, Status: c.Status}, nil
	}

	if len(kinds) == 0 {
		kinds = defaultKinds(c)
	}

	outcomes, err := p.enricher.EnrichWithRetry(ctx, *c, kinds, 1)
	if err != nil {
		reason := "enrichment aborted: " + err.Error()
		if markErr := p.store.MarkFailed(ctx, contactID, reason); markErr != nil {
			log.Error("mark failed after aborted enrichment", zap.Error(markErr))
		}
		return nil, eris.Wrapf(err, "lifecycle: enrich contact %s", contactID)
	}

	res, err := p.finish(ctx, c, outcomes, log)
	if err != nil {
		return nil, err
	}

	if !bulk && res.Status == model.StatusCompleted {
		p.runHooks(ctx, c, log)
	}
	return res, nil
}

// ProcessBatch runs the lifecycle for a set of contacts with the fan-out
// bounded per group. Post-completion hooks are skipped, bulk-mode semantics;
// callers run a dedupe pass once the whole set is in. Contacts that are
// already completed or held by another worker come back unacquired.
func (p *Processor) ProcessBatch(ctx context.Context, contactIDs []string, kinds []model.EnrichmentKind, groupSize int) ([]*Result, error) {
	if p.batch == nil {
		return nil, eris.New("lifecycle: batch enricher not configured")
	}

	results := make([]*Result, 0, len(contactIDs))
	var acquired []*model.ContactRecord
	for _, id := range contactIDs {
		c, err := p.store.GetContact(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "lifecycle: load contact %s", id)
		}
		if c == nil {
			return nil, eris.Errorf("lifecycle: contact %s not found", id)
		}
		if c.Status == model.StatusCompleted {
			results = append(results, &Result{ContactID: id, Status: model.StatusCompleted})
			continue
		}
		ok, err := p.store.BeginProcessing(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "lifecycle: acquire contact %s", id)
		}
		if !ok {
			results = append(results, &Result{ContactID: id, Status: c.Status})
			continue
		}
		acquired = append(acquired, c)
	}
	if len(acquired) == 0 {
		return results, nil
	}

	// Contacts with no explicit kinds fall back to their per-record defaults,
	// which depend on what input data each record has. Partition so every
	// EnrichBatch call runs a uniform kind set.
	for _, part := range partitionByKinds(acquired, kinds) {
		records := make([]model.ContactRecord, len(part.contacts))
		for i, c := range part.contacts {
			records[i] = *c
		}

		items := p.batch.EnrichBatch(ctx, records, part.kinds, groupSize)
		for i, item := range items {
			c := part.contacts[i]
			log := zap.L().With(zap.String("contact_id", c.ID))
			if item.Err != nil {
				reason := "enrichment aborted: " + item.Err.Error()
				if markErr := p.store.MarkFailed(ctx, c.ID, reason); markErr != nil {
					log.Error("mark failed after aborted enrichment", zap.Error(markErr))
				}
				results = append(results, &Result{ContactID: c.ID, Acquired: true, Status: model.StatusFailed})
				continue
			}
			res, err := p.finish(ctx, c, item.Results, log)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}
	}
	return results, nil
}

type kindPartition struct {
	kinds    []model.EnrichmentKind
	contacts []*model.ContactRecord
}

// partitionByKinds buckets contacts by the kind set they will run. With
// explicit kinds there is a single bucket.
func partitionByKinds(contacts []*model.ContactRecord, kinds []model.EnrichmentKind) []kindPartition {
	if len(kinds) > 0 {
		return []kindPartition{{kinds: kinds, contacts: contacts}}
	}

	index := make(map[string]int)
	var parts []kindPartition
	for _, c := range contacts {
		ks := defaultKinds(c)
		key := strings.Join(kindsToStrings(ks), ",")
		i, ok := index[key]
		if !ok {
			i = len(parts)
			index[key] = i
			parts = append(parts, kindPartition{kinds: ks})
		}
		parts[i].contacts = append(parts[i].contacts, c)
	}
	return parts
}

// finish folds the fan-out outcomes into the record, persists it, and moves
// the contact to its terminal state.
func (p *Processor) finish(ctx context.Context, c *model.ContactRecord, outcomes map[model.EnrichmentKind]enrich.Outcome, log *zap.Logger) (*Result, error) {
	res := &Result{
		ContactID: c.ID,
		Acquired:  true,
		Tasks:     make(map[model.EnrichmentKind]model.TaskResult, len(outcomes)),
	}
	for kind, out := range outcomes {
		res.Tasks[kind] = out.TaskResult
		if out.OK() && out.Result != nil {
			applyOutcome(c, kind, out)
		}
	}

	dedupe.ApplyFingerprints(c)
	c.QualityScore = dedupe.QualityScore(c)
	if err := p.store.UpdateContact(ctx, c); err != nil {
		reason := "persist enrichment: " + err.Error()
		if markErr := p.store.MarkFailed(ctx, c.ID, reason); markErr != nil {
			log.Error("mark failed after persist error", zap.Error(markErr))
		}
		return nil, eris.Wrapf(err, "lifecycle: persist contact %s", c.ID)
	}

	failed := failedTasks(res.Tasks)
	if len(failed) > 0 {
		reason := failureReason(res.Tasks, failed)
		if err := p.store.MarkFailed(ctx, c.ID, reason); err != nil {
			return nil, eris.Wrapf(err, "lifecycle: mark failed %s", c.ID)
		}
		res.Status = model.StatusFailed
		res.RetryableErr = firstTransient(res.Tasks, failed)
		log.Warn("contact enrichment failed",
			zap.Strings("failed_kinds", kindsToStrings(failed)),
			zap.String("reason", reason),
		)
		return res, nil
	}

	if err := p.store.MarkCompleted(ctx, c.ID); err != nil {
		return nil, eris.Wrapf(err, "lifecycle: mark completed %s", c.ID)
	}
	res.Status = model.StatusCompleted
	log.Info("contact enrichment completed",
		zap.Int("tasks", len(res.Tasks)),
		zap.Float64("quality_score", c.QualityScore),
	)
	return res, nil
}

// runHooks runs dedupe and CRM sync. Hook failures are logged, not fatal: the
// contact stays completed and the hooks can be re-run out of band.
func (p *Processor) runHooks(ctx context.Context, c *model.ContactRecord, log *zap.Logger) {
	if p.deduper != nil {
		if err := p.deduper.Run(ctx, c); err != nil {
			log.Warn("dedupe pass failed", zap.Error(err))
		}
	}
	if p.crm != nil {
		before := c.SalesforceID
		if err := p.crm.SyncContact(ctx, c); err != nil {
			log.Warn("crm sync failed", zap.Error(err))
		} else if c.SalesforceID != before {
			if err := p.store.UpdateContact(ctx, c); err != nil {
				log.Warn("persist crm id failed", zap.Error(err))
			}
		}
	}
}

// applyOutcome folds one successful task into the record. Payloads land on
// the field owned by the task's kind; structured updates apply on top.
func applyOutcome(c *model.ContactRecord, kind model.EnrichmentKind, out enrich.Outcome) {
	switch kind {
	case model.EnrichPhone:
		c.PhoneIntel = out.Result.Payload
	case model.EnrichBusiness:
		c.BusinessData = out.Result.Payload
	case model.EnrichCoverage:
		c.Coverage = out.Result.Payload
	case model.EnrichCompliance:
		c.Compliance = out.Result.Payload
	}

	u := out.Result.Updates
	if u.Email != "" {
		c.Email = u.Email
	}
	if u.EmailVerified != nil {
		c.EmailVerified = *u.EmailVerified
	}
	if u.BusinessName != "" {
		c.BusinessName = u.BusinessName
	}
	if u.BusinessEnriched != nil {
		c.BusinessEnriched = *u.BusinessEnriched
	}
	if u.Street != "" {
		c.Street = u.Street
	}
	if u.City != "" {
		c.City = u.City
	}
	if u.State != "" {
		c.State = u.State
	}
	if u.ZipCode != "" {
		c.ZipCode = u.ZipCode
	}
	if u.Lat != nil {
		c.Lat = u.Lat
	}
	if u.Lng != nil {
		c.Lng = u.Lng
	}
}

// defaultKinds picks the fan-out for a record when the caller didn't: every
// kind that has input data to work from.
func defaultKinds(c *model.ContactRecord) []model.EnrichmentKind {
	var kinds []model.EnrichmentKind
	if c.Phone != "" {
		kinds = append(kinds, model.EnrichPhone, model.EnrichCompliance)
	}
	if c.Kind == model.KindBusiness || c.BusinessName != "" {
		kinds = append(kinds, model.EnrichBusiness)
	}
	if c.Email != "" || c.Kind == model.KindPerson {
		kinds = append(kinds, model.EnrichEmail)
	}
	if c.Street != "" && c.City != "" {
		kinds = append(kinds, model.EnrichAddress, model.EnrichCoverage)
	}
	return kinds
}

func failedTasks(tasks map[model.EnrichmentKind]model.TaskResult) []model.EnrichmentKind {
	var out []model.EnrichmentKind
	for kind, r := range tasks {
		if r.Status == model.TaskFailed || r.Status == model.TaskTimedOut {
			out = append(out, kind)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func failureReason(tasks map[model.EnrichmentKind]model.TaskResult, failed []model.EnrichmentKind) string {
	parts := make([]string, 0, len(failed))
	for _, kind := range failed {
		r := tasks[kind]
		msg := r.ErrorMsg
		if msg == "" {
			msg = string(r.Status)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", kind, msg))
	}
	return strings.Join(parts, "; ")
}

// firstTransient returns a transient task error to drive the retry schedule,
// preferring one with a RetryAfter hint. Nil when every failure is permanent.
func firstTransient(tasks map[model.EnrichmentKind]model.TaskResult, failed []model.EnrichmentKind) *model.ProviderError {
	var candidate *model.ProviderError
	for _, kind := range failed {
		pe := tasks[kind].Err
		if pe == nil || !pe.Transient() {
			continue
		}
		if pe.RetryAfter > 0 {
			return pe
		}
		if candidate == nil {
			candidate = pe
		}
	}
	return candidate
}

func kindsToStrings(kinds []model.EnrichmentKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
