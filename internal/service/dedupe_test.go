package service_test

import (
	"reflect"
	"testing"

	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/phone"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

func record(row int, raw string) model.ContactRecord {
	return model.ContactRecord{Row: row, PhoneNumber: raw, NormalizedPhone: phone.DefaultPolicy.Key(raw)}
}

func TestResolveMatchesAcrossFormats(t *testing.T) {
	existing := []model.Contact{
		{ID: 7, Phone: "+15551234567"},
		{ID: 8, Phone: "+15559999999"},
	}
	records := []model.ContactRecord{
		record(1, "1 555 123 4567"),
		record(2, "555-000-0000"),
		record(3, "+1 (555) 999-9999"),
	}

	matches := service.Resolve(records, existing, phone.DefaultPolicy)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %+v", matches)
	}
	if matches[0].Row != 1 || matches[0].ExistingContact.ID != 7 {
		t.Errorf("unexpected first match %+v", matches[0])
	}
	if matches[1].Row != 3 || matches[1].ExistingContact.ID != 8 {
		t.Errorf("unexpected second match %+v", matches[1])
	}
}

func TestResolveLaterRowWins(t *testing.T) {
	existing := []model.Contact{{ID: 1, Phone: "+15551234567"}}
	records := []model.ContactRecord{
		record(1, "+1-555-123-4567"),
		record(2, "555.000.1111"),
		record(3, "(555) 123-4567"),
	}

	matches := service.Resolve(records, existing, phone.DefaultPolicy)
	if len(matches) != 1 || matches[0].Row != 3 {
		t.Fatalf("expected only row 3 to match, got %+v", matches)
	}
	if got := service.Superseded(records, phone.DefaultPolicy); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("expected row 1 superseded, got %v", got)
	}
}

func TestDecide(t *testing.T) {
	existing := &model.Contact{ID: 1}
	tests := []struct {
		strategy model.ImportStrategy
		existing *model.Contact
		want     model.RowOutcome
	}{
		{model.StrategySkip, nil, model.RowSuccess},
		{model.StrategyUpsert, nil, model.RowSuccess},
		{model.StrategySkip, existing, model.RowDuplicate},
		{model.StrategyUpsert, existing, model.RowUpdated},
	}
	for _, tt := range tests {
		if got := service.Decide(tt.strategy, tt.existing); got != tt.want {
			t.Errorf("Decide(%s, %v) = %s, want %s", tt.strategy, tt.existing != nil, got, tt.want)
		}
	}
}

func TestMergeRecordKeepsIdentity(t *testing.T) {
	c := &model.Contact{ID: 4, Phone: "+15551234567", FirstName: "Old", LastName: "Name", Tags: []string{"a"}}
	service.MergeRecord(c, model.ContactRecord{
		PhoneNumber: "555 123 4567",
		FirstName:   "New",
		Email:       "New@Example.com",
		Tags:        []string{"a", "b"},
	})

	if c.ID != 4 || c.Phone != "+15551234567" {
		t.Errorf("identity changed: %+v", c)
	}
	if c.FirstName != "New" || c.LastName != "Name" || c.Email != "new@example.com" {
		t.Errorf("unexpected merge %+v", c)
	}
	if !reflect.DeepEqual([]string(c.Tags), []string{"a", "b"}) {
		t.Errorf("expected tag union, got %v", c.Tags)
	}
}
