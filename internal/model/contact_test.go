package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		contact ContactRecord
		want    string
	}{
		{
			name:    "business uses business name",
			contact: ContactRecord{Kind: KindBusiness, BusinessName: "Acme Plumbing", FirstName: "Jo", LastName: "Smith"},
			want:    "Acme Plumbing",
		},
		{
			name:    "business without name falls back to person name",
			contact: ContactRecord{Kind: KindBusiness, FirstName: "Jo", LastName: "Smith"},
			want:    "Jo Smith",
		},
		{
			name:    "person full name",
			contact: ContactRecord{Kind: KindPerson, FirstName: "Jo", LastName: "Smith"},
			want:    "Jo Smith",
		},
		{
			name:    "first name only",
			contact: ContactRecord{Kind: KindPerson, FirstName: "Jo"},
			want:    "Jo",
		},
		{
			name:    "last name only",
			contact: ContactRecord{Kind: KindPerson, LastName: "Smith"},
			want:    "Smith",
		},
		{
			name:    "empty record",
			contact: ContactRecord{Kind: KindPerson},
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.contact.DisplayName())
		})
	}
}

func TestProcessable(t *testing.T) {
	tests := []struct {
		status ContactStatus
		want   bool
	}{
		{StatusPending, true},
		{StatusFailed, true},
		{StatusProcessing, false},
		{StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			c := &ContactRecord{Status: tt.status}
			assert.Equal(t, tt.want, c.Processable())
		})
	}
}
