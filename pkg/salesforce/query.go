package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Account represents a Salesforce Account record.
type Account struct {
	ID                string `json:"Id" salesforce:"Id"`
	Name              string `json:"Name" salesforce:"Name"`
	Phone             string `json:"Phone" salesforce:"Phone"`
	BillingStreet     string `json:"BillingStreet" salesforce:"BillingStreet"`
	BillingCity       string `json:"BillingCity" salesforce:"BillingCity"`
	BillingState      string `json:"BillingState" salesforce:"BillingState"`
	BillingPostalCode string `json:"BillingPostalCode" salesforce:"BillingPostalCode"`
	Type              string `json:"Type" salesforce:"Type"`
}

// Contact represents a Salesforce Contact record.
type Contact struct {
	ID        string `json:"Id" salesforce:"Id"`
	AccountID string `json:"AccountId" salesforce:"AccountId"`
	FirstName string `json:"FirstName" salesforce:"FirstName"`
	LastName  string `json:"LastName" salesforce:"LastName"`
	Email     string `json:"Email" salesforce:"Email"`
	Phone     string `json:"Phone" salesforce:"Phone"`
}

var accountFields = []string{
	"Id", "Name", "Phone",
	"BillingStreet", "BillingCity", "BillingState", "BillingPostalCode",
	"Type",
}

var contactFields = []string{
	"Id", "AccountId", "FirstName", "LastName", "Email", "Phone",
}

// FindAccountByName queries Salesforce for an Account with an exact name
// match. Returns nil if none is found.
func FindAccountByName(ctx context.Context, c Client, name string) (*Account, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Account WHERE Name = '%s' LIMIT 1",
		strings.Join(accountFields, ", "),
		escapeSoql(name),
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by name %s", name))
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// FindContactByEmail queries Salesforce for a Contact by email address.
// Returns nil if none is found.
func FindContactByEmail(ctx context.Context, c Client, email string) (*Contact, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Contact WHERE Email = '%s' LIMIT 1",
		strings.Join(contactFields, ", "),
		escapeSoql(email),
	)

	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find contact by email %s", email))
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

// FindContactByPhone queries Salesforce for a Contact by phone number.
// Returns nil if none is found.
func FindContactByPhone(ctx context.Context, c Client, phone string) (*Contact, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Contact WHERE Phone = '%s' LIMIT 1",
		strings.Join(contactFields, ", "),
		escapeSoql(phone),
	)

	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find contact by phone %s", phone))
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
