package crm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/salesforce"
)

type fakeSF struct {
	queries   []string
	inserts   []map[string]any
	updates   map[string]map[string]any
	queryFn   func(soql string, out any) error
	insertIDs []string
}

func newFakeSF() *fakeSF {
	return &fakeSF{updates: map[string]map[string]any{}, insertIDs: []string{"001A", "003B", "003C"}}
}

func (f *fakeSF) Query(_ context.Context, soql string, out any) error {
	f.queries = append(f.queries, soql)
	if f.queryFn != nil {
		return f.queryFn(soql, out)
	}
	return nil
}

func (f *fakeSF) InsertOne(_ context.Context, name string, record map[string]any) (string, error) {
	rec := map[string]any{"_object": name}
	for k, v := range record {
		rec[k] = v
	}
	f.inserts = append(f.inserts, rec)
	id := f.insertIDs[0]
	if len(f.insertIDs) > 1 {
		f.insertIDs = f.insertIDs[1:]
	}
	return id, nil
}

func (f *fakeSF) UpdateOne(_ context.Context, _ string, id string, fields map[string]any) error {
	f.updates[id] = fields
	return nil
}

func (f *fakeSF) UpdateCollection(_ context.Context, _ string, records []salesforce.CollectionRecord) ([]salesforce.CollectionResult, error) {
	results := make([]salesforce.CollectionResult, len(records))
	for i, r := range records {
		f.updates[r.ID] = r.Fields
		results[i] = salesforce.CollectionResult{ID: r.ID, Success: true}
	}
	return results, nil
}

type fakeWriter struct {
	saved []*model.ContactRecord
}

func (w *fakeWriter) UpdateContact(_ context.Context, c *model.ContactRecord) error {
	w.saved = append(w.saved, c)
	return nil
}

func TestSyncContact_CreatesAccountAndContact(t *testing.T) {
	sf := newFakeSF()
	writer := &fakeWriter{}
	syncer := NewSyncer(sf, writer, "")

	c := &model.ContactRecord{
		ID:           "c1",
		Kind:         model.KindBusiness,
		BusinessName: "Acme Plumbing",
		Phone:        "5550100",
		City:         "Springfield",
	}
	require.NoError(t, syncer.SyncContact(context.Background(), c))

	require.Len(t, sf.inserts, 2)
	assert.Equal(t, "Account", sf.inserts[0]["_object"])
	assert.Equal(t, "Acme Plumbing", sf.inserts[0]["Name"])
	assert.Equal(t, "Contact", sf.inserts[1]["_object"])
	assert.Equal(t, "001A", sf.inserts[1]["AccountId"])

	assert.Equal(t, "003B", c.SalesforceID)
	require.Len(t, writer.saved, 1)
}

func TestSyncContact_ReusesExistingByEmail(t *testing.T) {
	sf := newFakeSF()
	sf.queryFn = func(soql string, out any) error {
		if strings.Contains(soql, "FROM Contact") && strings.Contains(soql, "Email") {
			contacts := out.(*[]salesforce.Contact)
			*contacts = []salesforce.Contact{{ID: "003EXIST", Email: "ada@example.com"}}
		}
		return nil
	}
	writer := &fakeWriter{}
	syncer := NewSyncer(sf, writer, "001DEFAULT")

	c := &model.ContactRecord{ID: "c1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
	require.NoError(t, syncer.SyncContact(context.Background(), c))

	assert.Equal(t, "003EXIST", c.SalesforceID)
	assert.Empty(t, sf.inserts, "existing record must not be recreated")
	assert.Contains(t, sf.updates, "003EXIST")
}

func TestSyncContact_SecondSyncUpdatesInPlace(t *testing.T) {
	sf := newFakeSF()
	writer := &fakeWriter{}
	syncer := NewSyncer(sf, writer, "001DEFAULT")

	c := &model.ContactRecord{ID: "c1", LastName: "Hopper", Phone: "5550100", SalesforceID: "003LINKED"}
	require.NoError(t, syncer.SyncContact(context.Background(), c))

	assert.Empty(t, sf.inserts)
	fields, ok := sf.updates["003LINKED"]
	require.True(t, ok)
	assert.Equal(t, "Hopper", fields["LastName"])
}

func TestSyncContact_PersonWithoutBusinessUsesDefaultAccount(t *testing.T) {
	sf := newFakeSF()
	writer := &fakeWriter{}
	syncer := NewSyncer(sf, writer, "001DEFAULT")

	c := &model.ContactRecord{ID: "c1", FirstName: "Ada", LastName: "Lovelace", Phone: "5550100"}
	require.NoError(t, syncer.SyncContact(context.Background(), c))

	require.Len(t, sf.inserts, 1)
	assert.Equal(t, "Contact", sf.inserts[0]["_object"])
	assert.Equal(t, "001DEFAULT", sf.inserts[0]["AccountId"])
}

func TestSyncContact_NoDefaultAccountFails(t *testing.T) {
	syncer := NewSyncer(newFakeSF(), &fakeWriter{}, "")
	c := &model.ContactRecord{ID: "c1", FirstName: "Ada", LastName: "Lovelace", Phone: "5550100"}
	assert.Error(t, syncer.SyncContact(context.Background(), c))
}

func TestSyncContact_BlankFieldsOmitted(t *testing.T) {
	sf := newFakeSF()
	syncer := NewSyncer(sf, &fakeWriter{}, "001DEFAULT")

	c := &model.ContactRecord{ID: "c1", LastName: "Hopper", Phone: "5550100", SalesforceID: "003X"}
	require.NoError(t, syncer.SyncContact(context.Background(), c))

	fields := sf.updates["003X"]
	_, hasEmail := fields["Email"]
	assert.False(t, hasEmail, "blank email must not be pushed")
}

func TestSyncBatch_SkipsUnlinked(t *testing.T) {
	sf := newFakeSF()
	syncer := NewSyncer(sf, &fakeWriter{}, "")

	contacts := []*model.ContactRecord{
		{ID: "c1", LastName: "Linked", SalesforceID: "003A"},
		{ID: "c2", LastName: "Unlinked"},
		nil,
	}
	results, err := syncer.SyncBatch(context.Background(), contacts)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Contains(t, sf.updates, "003A")
}
