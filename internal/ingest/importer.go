// Package ingest bulk-imports contacts from tabular files. Imported rows are
// created pending and processed through the normal lifecycle in bulk mode,
// with dedupe deferred until the whole file is in.
package ingest

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/dedupe"
	"github.com/sells-group/contact-enrichment/internal/model"
)

// Store is the persistence surface the importer needs.
type Store interface {
	CreateContact(ctx context.Context, c *model.ContactRecord) error
	EnqueueJob(ctx context.Context, job *model.Job) error
}

// columnAliases maps header spellings to canonical field names.
var columnAliases = map[string]string{
	"first_name":    "first_name",
	"firstname":     "first_name",
	"first":         "first_name",
	"last_name":     "last_name",
	"lastname":      "last_name",
	"last":          "last_name",
	"name":          "name",
	"full_name":     "name",
	"business_name": "business_name",
	"business":      "business_name",
	"company":       "business_name",
	"company_name":  "business_name",
	"phone":         "phone",
	"phone_number":  "phone",
	"telephone":     "phone",
	"mobile":        "phone",
	"email":         "email",
	"email_address": "email",
	"street":        "street",
	"address":       "street",
	"address_1":     "street",
	"city":          "city",
	"state":         "state",
	"province":      "state",
	"zip":           "zip_code",
	"zip_code":      "zip_code",
	"zipcode":       "zip_code",
	"postal_code":   "zip_code",
}

// Summary reports one import run.
type Summary struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// Importer turns file rows into pending contacts and queues their
// enrichment.
type Importer struct {
	store Store
}

func NewImporter(store Store) *Importer {
	return &Importer{store: store}
}

// Import reads the source and creates one pending contact per usable row.
// Rows without a phone or email are skipped, not fatal. Every created
// contact gets a bulk-mode processing job.
func (imp *Importer) Import(ctx context.Context, source string) (*Summary, error) {
	header, rows, err := ReadRows(ctx, source)
	if err != nil {
		return nil, err
	}

	cols := mapColumns(header)
	if _, hasPhone := cols["phone"]; !hasPhone {
		if _, hasEmail := cols["email"]; !hasEmail {
			return nil, eris.Errorf("ingest: %s has neither a phone nor an email column", source)
		}
	}

	log := zap.L().With(zap.String("component", "ingest.importer"), zap.String("source", source))
	summary := &Summary{}

	for i, row := range rows {
		c := contactFromRow(cols, row)
		if c == nil {
			summary.Skipped++
			continue
		}

		if err := imp.store.CreateContact(ctx, c); err != nil {
			summary.Errors = append(summary.Errors, eris.Wrapf(err, "row %d", i+2).Error())
			continue
		}

		args, err := json.Marshal(model.ProcessContactArgs{ContactID: c.ID, BulkMode: true})
		if err != nil {
			summary.Errors = append(summary.Errors, eris.Wrapf(err, "row %d", i+2).Error())
			continue
		}
		if err := imp.store.EnqueueJob(ctx, &model.Job{Type: model.JobProcessContact, Args: args}); err != nil {
			summary.Errors = append(summary.Errors, eris.Wrapf(err, "row %d: enqueue", i+2).Error())
			continue
		}
		summary.Created++
	}

	log.Info("import finished",
		zap.Int("created", summary.Created),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

// mapColumns resolves the header into canonical-field -> column-index.
// The first column wins when a field appears twice.
func mapColumns(header []string) map[string]int {
	cols := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		canonical, ok := columnAliases[key]
		if !ok {
			continue
		}
		if _, seen := cols[canonical]; !seen {
			cols[canonical] = i
		}
	}
	return cols
}

func contactFromRow(cols map[string]int, row []string) *model.ContactRecord {
	get := func(field string) string {
		idx, ok := cols[field]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	c := &model.ContactRecord{
		Kind:         model.KindPerson,
		Status:       model.StatusPending,
		FirstName:    get("first_name"),
		LastName:     get("last_name"),
		BusinessName: get("business_name"),
		Phone:        get("phone"),
		Email:        get("email"),
		Street:       get("street"),
		City:         get("city"),
		State:        get("state"),
		ZipCode:      get("zip_code"),
	}
	if c.FirstName == "" && c.LastName == "" {
		if name := get("name"); name != "" {
			first, last, _ := strings.Cut(name, " ")
			c.FirstName, c.LastName = first, strings.TrimSpace(last)
		}
	}
	if c.BusinessName != "" && c.FirstName == "" && c.LastName == "" {
		c.Kind = model.KindBusiness
	}

	if c.Phone == "" && c.Email == "" {
		return nil
	}

	dedupe.ApplyFingerprints(c)
	c.QualityScore = dedupe.QualityScore(c)
	return c
}
