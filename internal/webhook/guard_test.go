package webhook

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enrichment/internal/model"
)

// memGuardStore enforces key uniqueness like the real store.
type memGuardStore struct {
	mu     sync.Mutex
	events map[string]*model.WebhookEvent
	jobs   []*model.Job
	err    error
}

func newMemGuardStore() *memGuardStore {
	return &memGuardStore{events: map[string]*model.WebhookEvent{}}
}

func (m *memGuardStore) CreateWebhookEvent(_ context.Context, ev *model.WebhookEvent) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[ev.IdempotencyKey]; exists {
		return false, nil
	}
	ev.ID = "ev-" + ev.IdempotencyKey
	m.events[ev.IdempotencyKey] = ev
	return true, nil
}

func (m *memGuardStore) EnqueueJob(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func TestAdmit_FirstDeliveryWins(t *testing.T) {
	st := newMemGuardStore()
	g := NewGuard(st, st)

	adm, err := g.Admit(context.Background(), "formstack", "sub-42", json.RawMessage(`{"name":"Ada"}`))
	require.NoError(t, err)
	assert.True(t, adm.Admitted)
	require.NotNil(t, adm.Event)
	assert.Equal(t, "formstack:sub-42", adm.Event.IdempotencyKey)

	require.Len(t, st.jobs, 1)
	assert.Equal(t, model.JobWebhookEvent, st.jobs[0].Type)

	var args model.WebhookEventArgs
	require.NoError(t, json.Unmarshal(st.jobs[0].Args, &args))
	assert.Equal(t, adm.Event.ID, args.EventID)
}

func TestAdmit_ReplayIsRejectedWithoutError(t *testing.T) {
	st := newMemGuardStore()
	g := NewGuard(st, st)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := g.Admit(ctx, "formstack", "sub-42", json.RawMessage(`{"n":1}`))
		require.NoError(t, err)
	}

	assert.Len(t, st.events, 1, "exactly one event for 100 deliveries")
	assert.Len(t, st.jobs, 1, "exactly one downstream job")
}

func TestAdmit_MissingExternalIDKeysOnPayloadHash(t *testing.T) {
	st := newMemGuardStore()
	g := NewGuard(st, st)
	ctx := context.Background()

	a, err := g.Admit(ctx, "calltools", "", json.RawMessage(`{"call":"one"}`))
	require.NoError(t, err)
	assert.True(t, a.Admitted)
	assert.Contains(t, a.Event.IdempotencyKey, "calltools:hash:")

	// An identical payload collides; a different payload does not.
	b, err := g.Admit(ctx, "calltools", "", json.RawMessage(`{"call":"one"}`))
	require.NoError(t, err)
	assert.False(t, b.Admitted)

	c, err := g.Admit(ctx, "calltools", "", json.RawMessage(`{"call":"two"}`))
	require.NoError(t, err)
	assert.True(t, c.Admitted)
}

func TestAdmit_ConcurrentSameKey(t *testing.T) {
	st := newMemGuardStore()
	g := NewGuard(st, st)
	ctx := context.Background()

	const deliveries = 10
	var wg sync.WaitGroup
	admitted := make(chan bool, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := g.Admit(ctx, "formstack", "sub-7", json.RawMessage(`{}`))
			require.NoError(t, err)
			admitted <- adm.Admitted
		}()
	}
	wg.Wait()
	close(admitted)

	wins := 0
	for ok := range admitted {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, st.jobs, 1)
}

func TestAdmit_RequiresSource(t *testing.T) {
	st := newMemGuardStore()
	g := NewGuard(st, st)

	_, err := g.Admit(context.Background(), "", "x", nil)
	require.Error(t, err)
}

func TestAdmit_StoreErrorPropagates(t *testing.T) {
	st := newMemGuardStore()
	st.err = eris.New("connection refused")
	g := NewGuard(st, st)

	_, err := g.Admit(context.Background(), "formstack", "sub-1", nil)
	require.Error(t, err)
	assert.Empty(t, st.jobs)
}
