// Package crm pushes completed contacts to Salesforce and records the
// resulting record ID back on the golden record.
package crm

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enrichment/internal/model"
	"github.com/sells-group/contact-enrichment/pkg/salesforce"
)

// ContactWriter persists the Salesforce linkage on the contact.
type ContactWriter interface {
	UpdateContact(ctx context.Context, c *model.ContactRecord) error
}

// Syncer mirrors contacts into Salesforce. Matching is conservative: an
// existing SF contact is reused only on an exact email or phone hit, so a
// sync never merges two CRM records on its own.
type Syncer struct {
	client salesforce.Client
	store  ContactWriter

	// defaultAccountID receives person contacts that carry no business.
	// Salesforce requires every Contact to hang off an Account.
	defaultAccountID string
}

func NewSyncer(client salesforce.Client, store ContactWriter, defaultAccountID string) *Syncer {
	return &Syncer{client: client, store: store, defaultAccountID: defaultAccountID}
}

// SyncContact creates or updates the Salesforce record for the contact and
// persists the SF ID. Idempotent: a second sync of the same contact updates
// in place.
func (s *Syncer) SyncContact(ctx context.Context, c *model.ContactRecord) error {
	if c == nil {
		return eris.New("crm: nil contact")
	}

	if c.SalesforceID == "" {
		existing, err := s.findExisting(ctx, c)
		if err != nil {
			return err
		}
		if existing != nil {
			c.SalesforceID = existing.ID
		}
	}

	if c.SalesforceID != "" {
		if err := salesforce.UpdateContact(ctx, s.client, c.SalesforceID, contactFields(c)); err != nil {
			return err
		}
		zap.L().Debug("crm contact updated",
			zap.String("contact_id", c.ID),
			zap.String("salesforce_id", c.SalesforceID))
		return s.store.UpdateContact(ctx, c)
	}

	accountID, err := s.resolveAccount(ctx, c)
	if err != nil {
		return err
	}
	sfID, err := salesforce.CreateContact(ctx, s.client, accountID, contactFields(c))
	if err != nil {
		return err
	}
	c.SalesforceID = sfID
	zap.L().Info("crm contact created",
		zap.String("contact_id", c.ID),
		zap.String("salesforce_id", sfID))
	return s.store.UpdateContact(ctx, c)
}

// SyncBatch pushes field updates for already-linked contacts through the
// Collections API. Contacts without a Salesforce ID are skipped; they go
// through SyncContact individually.
func (s *Syncer) SyncBatch(ctx context.Context, contacts []*model.ContactRecord) ([]salesforce.CollectionResult, error) {
	updates := make([]salesforce.ContactUpdate, 0, len(contacts))
	for _, c := range contacts {
		if c == nil || c.SalesforceID == "" {
			continue
		}
		updates = append(updates, salesforce.ContactUpdate{
			ID:     c.SalesforceID,
			Fields: contactFields(c),
		})
	}
	return salesforce.BulkUpdateContacts(ctx, s.client, updates)
}

func (s *Syncer) findExisting(ctx context.Context, c *model.ContactRecord) (*salesforce.Contact, error) {
	if c.Email != "" {
		found, err := salesforce.FindContactByEmail(ctx, s.client, c.Email)
		if err != nil || found != nil {
			return found, err
		}
	}
	if c.Phone != "" {
		return salesforce.FindContactByPhone(ctx, s.client, c.Phone)
	}
	return nil, nil
}

// resolveAccount finds or creates the Account the new contact belongs to.
func (s *Syncer) resolveAccount(ctx context.Context, c *model.ContactRecord) (string, error) {
	if c.BusinessName == "" {
		if s.defaultAccountID == "" {
			return "", eris.New("crm: no business name and no default account configured")
		}
		return s.defaultAccountID, nil
	}

	acct, err := salesforce.FindAccountByName(ctx, s.client, c.BusinessName)
	if err != nil {
		return "", err
	}
	if acct != nil {
		return acct.ID, nil
	}

	fields := map[string]any{"Name": c.BusinessName}
	if c.Phone != "" {
		fields["Phone"] = c.Phone
	}
	if c.Street != "" {
		fields["BillingStreet"] = c.Street
	}
	if c.City != "" {
		fields["BillingCity"] = c.City
	}
	if c.State != "" {
		fields["BillingState"] = c.State
	}
	if c.ZipCode != "" {
		fields["BillingPostalCode"] = c.ZipCode
	}
	return salesforce.CreateAccount(ctx, s.client, fields)
}

// contactFields maps the golden record onto Salesforce Contact fields.
// Blank values are omitted so a sync never erases CRM data.
func contactFields(c *model.ContactRecord) map[string]any {
	fields := map[string]any{}
	if c.FirstName != "" {
		fields["FirstName"] = c.FirstName
	}
	lastName := c.LastName
	if lastName == "" {
		// LastName is mandatory on SF Contact.
		lastName = c.DisplayName()
	}
	if lastName == "" {
		lastName = "Unknown"
	}
	fields["LastName"] = lastName
	if c.Email != "" {
		fields["Email"] = c.Email
	}
	if c.Phone != "" {
		fields["Phone"] = c.Phone
	}
	if c.Street != "" {
		fields["MailingStreet"] = c.Street
	}
	if c.City != "" {
		fields["MailingCity"] = c.City
	}
	if c.State != "" {
		fields["MailingState"] = c.State
	}
	if c.ZipCode != "" {
		fields["MailingPostalCode"] = c.ZipCode
	}
	return fields
}
