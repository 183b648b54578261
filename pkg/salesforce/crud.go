package salesforce

import (
	"context"

	"github.com/rotisserie/eris"
)

// CreateAccount inserts an Account and returns its Salesforce ID. Name is
// the only field Salesforce itself requires.
func CreateAccount(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if name, _ := fields["Name"].(string); name == "" {
		return "", eris.New("sf: account Name is required")
	}
	id, err := c.InsertOne(ctx, "Account", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create account")
	}
	return id, nil
}

// CreateContact inserts a Contact under the given Account and returns its
// Salesforce ID. Salesforce rejects orphan contacts, so the account link is
// mandatory.
func CreateContact(ctx context.Context, c Client, accountID string, fields map[string]any) (string, error) {
	if accountID == "" {
		return "", eris.New("sf: account id is required for contact")
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["AccountId"] = accountID
	id, err := c.InsertOne(ctx, "Contact", fields)
	if err != nil {
		return "", eris.Wrapf(err, "sf: create contact for account %s", accountID)
	}
	return id, nil
}

// UpdateContact writes the given fields onto an existing Contact. An empty
// field set is rejected rather than sent as a no-op request.
func UpdateContact(ctx context.Context, c Client, contactID string, fields map[string]any) error {
	if contactID == "" {
		return eris.New("sf: contact id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Contact", contactID, fields); err != nil {
		return eris.Wrapf(err, "sf: update contact %s", contactID)
	}
	return nil
}
