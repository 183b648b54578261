// Package enrich coordinates parallel enrichment fan-out for contacts.
package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/internal/provider"
)

// Gateway is the provider entry point the coordinator fans out through.
// *provider.Gateway satisfies it.
type Gateway interface {
	Enrich(ctx context.Context, kind model.EnrichmentKind, c model.ContactRecord) (*provider.Result, error)
}

// Outcome is one task's result: the structured TaskResult plus the provider
// payload when the task succeeded.
type Outcome struct {
	model.TaskResult
	Result *provider.Result
}

// Options tunes the coordinator.
type Options struct {
	// TaskTimeout is the independent per-task budget. Default: 10s.
	TaskTimeout time.Duration
	// MaxConcurrent bounds in-flight tasks within one fan-out. Default: 6.
	MaxConcurrent int
}

// Coordinator fans one enrichment task out per requested kind, bounds
// concurrency, enforces per-task timeouts, and aggregates results. Task
// failures are captured as data; only an invalid kind errors synchronously.
type Coordinator struct {
	gateway Gateway
	opts    Options
}

// NewCoordinator creates a Coordinator over the given gateway.
func NewCoordinator(gateway Gateway, opts Options) *Coordinator {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 10 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 6
	}
	return &Coordinator{gateway: gateway, opts: opts}
}

// Enrich runs one task per requested kind and returns the aggregate map once
// every task has reached a terminal state. The map always has exactly one
// entry per distinct requested kind.
func (c *Coordinator) Enrich(ctx context.Context, contact model.ContactRecord, kinds []model.EnrichmentKind) (map[model.EnrichmentKind]Outcome, error) {
	kinds = dedupeKinds(kinds)

	// Validate before launching anything: an unknown kind is a programmer
	// error, not a task failure.
	for _, k := range kinds {
		if !model.ValidEnrichmentKind(k) {
			return nil, eris.Errorf("enrich: unknown kind %q", k)
		}
	}

	results := make(map[model.EnrichmentKind]Outcome, len(kinds))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(c.opts.MaxConcurrent)

	for _, kind := range kinds {
		g.Go(func() error {
			out := c.runTask(ctx, contact, kind)
			mu.Lock()
			results[kind] = out
			mu.Unlock()
			return nil // task failures never abort siblings
		})
	}

	// The aggregate is visible only after every task is terminal.
	_ = g.Wait()
	return results, nil
}

// EnrichWithRetry runs Enrich, then re-runs only the kinds that failed or
// timed out, up to maxRetries extra passes. Later outcomes overwrite earlier
// ones for the same kind, so a retry success replaces the original failure.
func (c *Coordinator) EnrichWithRetry(ctx context.Context, contact model.ContactRecord, kinds []model.EnrichmentKind, maxRetries int) (map[model.EnrichmentKind]Outcome, error) {
	results, err := c.Enrich(ctx, contact, kinds)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		var retry []model.EnrichmentKind
		for kind, out := range results {
			if out.Status == model.TaskFailed || out.Status == model.TaskTimedOut {
				retry = append(retry, kind)
			}
		}
		if len(retry) == 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		zap.L().Debug("enrich: retrying failed kinds",
			zap.String("contact", contact.ID),
			zap.Int("attempt", attempt+1),
			zap.Int("kinds", len(retry)),
		)

		redo, err := c.Enrich(ctx, contact, retry)
		if err != nil {
			return nil, err
		}
		for kind, out := range redo {
			results[kind] = out
		}
	}
	return results, nil
}

// BatchItem pairs a contact with its aggregate enrichment results.
type BatchItem struct {
	Contact model.ContactRecord
	Results map[model.EnrichmentKind]Outcome
	Err     error
}

// EnrichBatch processes contacts in fixed-size groups: the full per-contact
// fan-out runs concurrently within a group, and each group is awaited before
// the next starts, bounding total concurrent outbound requests.
func (c *Coordinator) EnrichBatch(ctx context.Context, contacts []model.ContactRecord, kinds []model.EnrichmentKind, groupSize int) []BatchItem {
	if groupSize <= 0 {
		groupSize = 5
	}

	items := make([]BatchItem, len(contacts))
	for start := 0; start < len(contacts); start += groupSize {
		end := min(start+groupSize, len(contacts))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results, err := c.Enrich(ctx, contacts[i], kinds)
				items[i] = BatchItem{Contact: contacts[i], Results: results, Err: err}
			}(i)
		}
		wg.Wait()

		if ctx.Err() != nil {
			for i := end; i < len(contacts); i++ {
				items[i] = BatchItem{Contact: contacts[i], Err: ctx.Err()}
			}
			break
		}
	}
	return items
}

// runTask executes one provider call under the per-task timeout. The
// provider goroutine is abandoned (never awaited) past the deadline; its
// result is synthesized as timed_out.
func (c *Coordinator) runTask(ctx context.Context, contact model.ContactRecord, kind model.EnrichmentKind) Outcome {
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, c.opts.TaskTimeout)
	defer cancel()

	type callResult struct {
		res *provider.Result
		err error
	}
	done := make(chan callResult, 1)
	go func() {
		res, err := c.gateway.Enrich(tctx, kind, contact)
		done <- callResult{res, err}
	}()

	var cr callResult
	select {
	case cr = <-done:
	case <-tctx.Done():
		return Outcome{TaskResult: model.TaskResult{
			Kind:     kind,
			Status:   model.TaskTimedOut,
			ErrorMsg: "timeout",
			Duration: time.Since(start),
		}}
	}

	dur := time.Since(start)

	if cr.err != nil {
		if errors.Is(cr.err, provider.ErrNotConfigured) {
			return Outcome{TaskResult: model.TaskResult{
				Kind:     kind,
				Status:   model.TaskSkipped,
				Duration: dur,
			}}
		}

		pe := model.AsProviderError(cr.err)
		if pe == nil {
			pe = model.ClassifyError(string(kind), cr.err)
		}
		status := model.TaskFailed
		if pe.Kind == model.ErrTimeout {
			status = model.TaskTimedOut
		}
		return Outcome{TaskResult: model.TaskResult{
			Kind:     kind,
			Status:   status,
			Err:      pe,
			ErrorMsg: pe.Error(),
			Duration: dur,
		}}
	}

	out := Outcome{
		TaskResult: model.TaskResult{
			Kind:     kind,
			Status:   model.TaskSuccess,
			Duration: dur,
		},
		Result: cr.res,
	}
	if cr.res != nil {
		out.Fields = cr.res.Payload
	}
	return out
}

func dedupeKinds(kinds []model.EnrichmentKind) []model.EnrichmentKind {
	seen := make(map[model.EnrichmentKind]bool, len(kinds))
	out := make([]model.EnrichmentKind, 0, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
