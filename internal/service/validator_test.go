package service_test

import (
	"strings"
	"testing"

	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

func TestValidateRecord(t *testing.T) {
	valid := model.ContactRecord{PhoneNumber: "5551234567", NormalizedPhone: "+15551234567", FirstName: "Ann", Email: "ann@example.com"}

	tests := []struct {
		name   string
		mutate func(r *model.ContactRecord)
		opts   service.ValidateOptions
		field  string
		code   model.FieldErrorCode
	}{
		{"valid", func(r *model.ContactRecord) {}, service.ValidateOptions{ValidateEmails: true}, "", ""},
		{"missing phone", func(r *model.ContactRecord) { r.PhoneNumber, r.NormalizedPhone = "abc", "" }, service.ValidateOptions{}, "phone_number", model.MissingField},
		{"long first name", func(r *model.ContactRecord) { r.FirstName = strings.Repeat("a", 101) }, service.ValidateOptions{}, "first_name", model.FieldTooLong},
		{"long company", func(r *model.ContactRecord) { r.Company = strings.Repeat("c", 201) }, service.ValidateOptions{}, "company", model.FieldTooLong},
		{"unknown status", func(r *model.ContactRecord) { r.Status = "vip" }, service.ValidateOptions{}, "status", model.InvalidValue},
		{"bad email checked", func(r *model.ContactRecord) { r.Email = "ann@" }, service.ValidateOptions{ValidateEmails: true}, "email", model.InvalidFormat},
		{"email without tld", func(r *model.ContactRecord) { r.Email = "ann@localhost" }, service.ValidateOptions{ValidateEmails: true}, "email", model.InvalidFormat},
		{"bad email unchecked", func(r *model.ContactRecord) { r.Email = "ann@" }, service.ValidateOptions{}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid
			tt.mutate(&rec)
			errs := service.ValidateRecord(rec, tt.opts)
			if tt.code == "" {
				if len(errs) != 0 {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			if len(errs) != 1 {
				t.Fatalf("expected one error, got %v", errs)
			}
			if errs[0].Field != tt.field || errs[0].Code != tt.code {
				t.Errorf("expected %s/%s, got %s/%s", tt.field, tt.code, errs[0].Field, errs[0].Code)
			}
		})
	}
}

func TestValidateRecordCollectsEveryProblem(t *testing.T) {
	rec := model.ContactRecord{FirstName: strings.Repeat("a", 150), Status: "gone", Email: "x"}
	errs := service.ValidateRecord(rec, service.ValidateOptions{ValidateEmails: true})
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %v", errs)
	}
}
